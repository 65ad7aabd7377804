package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/api/ws"
	"github.com/gosuda/multimodal/internal/config"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
	"github.com/gosuda/multimodal/internal/store"
)

// Server is the HTTP host that serves widget sessions.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	sessions   *host.Sessions
	broker     store.Broker
	hub        *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds background work
// (rate limiter sweeps, compute requests). viewerAssets may be nil, which
// disables the viewer page.
func New(ctx context.Context, cfg *config.Config, sessions *host.Sessions, broker store.Broker, registry *prometheus.Registry, viewerAssets fs.FS) (*Server, error) {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(sessions, broker)

	s := &Server{
		router:   router,
		sessions: sessions,
		broker:   broker,
		hub:      hub,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	authed := middleware.Auth(cfg.Session.Secret)

	// Mount API routes on /api/v1 with two sub-groups:
	// 1. Unauthenticated session bootstrap, limited per address.
	// 2. Session-scoped routes, limited per session.
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

			api := humachi.New(r, apiConfig("Multimodal Session API"))
			registerSessionRoutes(api, sessions, cfg)
		})

		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Use(middleware.RateLimit(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

			api := humachi.New(r, apiConfig("Multimodal API"))
			registerAPIRoutes(ctx, api, sessions)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(authed)
		registerStreamRoutes(r, hub)
	})

	if cfg.Server.ViewerEnabled && viewerAssets != nil {
		viewer, err := newViewerHandler(sessions, viewerAssets)
		if err != nil {
			return nil, fmt.Errorf("server.New: %w", err)
		}
		router.With(authed).Get("/viewer", viewer)
		log.Info().Msg("artifact viewer enabled")
	}

	router.Get("/healthz", s.healthz)
	registerMetricsRoute(router, registry)

	return s, nil
}

func apiConfig(title string) huma.Config {
	c := huma.DefaultConfig(title, "1.0.0")
	c.Servers = []*huma.Server{
		{URL: "/api/v1"},
	}
	return c
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.broker.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("healthz: broker unavailable")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","broker":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
