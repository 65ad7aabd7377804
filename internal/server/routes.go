package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/gosuda/multimodal/internal/api/v1"
	"github.com/gosuda/multimodal/internal/api/ws"
	"github.com/gosuda/multimodal/internal/config"
	"github.com/gosuda/multimodal/internal/host"
)

func registerSessionRoutes(api huma.API, sessions *host.Sessions, cfg *config.Config) {
	v1.RegisterSessionRoutes(api, sessions, cfg.Session.Secret, cfg.Session.TTL)
}

func registerAPIRoutes(ctx context.Context, api huma.API, sessions *host.Sessions) {
	v1.RegisterArtifactRoutes(ctx, api, sessions)
	v1.RegisterToolRoutes(api, sessions)
}

func registerStreamRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/ws/widget", hub.ServeWidget)
	r.Get("/events", hub.ServeEvents)
}

func registerMetricsRoute(r chi.Router, registry *prometheus.Registry) {
	if registry == nil {
		return
	}
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}
