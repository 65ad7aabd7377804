package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/config"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server"
	"github.com/gosuda/multimodal/internal/store"
	"github.com/gosuda/multimodal/internal/store/memory"
	redisstore "github.com/gosuda/multimodal/internal/store/redis"
	"github.com/gosuda/multimodal/web"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	if err := cfg.ValidateHost(); err != nil {
		return err
	}

	ctx := context.Background()

	producer, err := host.LoadStaticProducer(cfg.ArtifactsFile)
	if err != nil {
		return err
	}

	broker, err := openBroker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessions := host.NewSessions(producer, broker, cfg.Session.TTL, registry)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx, cfg, sessions, broker, registry, web.Viewer)
	if err != nil {
		return err
	}

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Strs("modalities", kindLabels(producer)).Msg("starting host")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

// openBroker connects to Redis when configured and falls back to the
// in-process broker otherwise.
func openBroker(ctx context.Context, cfg config.RedisConfig) (store.Broker, error) {
	if cfg.Addr == "" {
		log.Info().Msg("using in-process event broker")
		return memory.New(), nil
	}
	ps, err := redisstore.New(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("using redis event broker")
	return ps, nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func kindLabels(p host.Producer) []string {
	kinds := p.Kinds()
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = string(k)
	}
	return labels
}
