package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/client"
	"github.com/gosuda/multimodal/internal/config"
	"github.com/gosuda/multimodal/internal/display"
	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/router"
	"github.com/gosuda/multimodal/internal/selection"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "multimodal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	// The terminal UI owns stdout; logs go to a file.
	logFile, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	setupLogging(cfg.Log, logFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()

	conn, err := client.Dial(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("close connection")
		}
	}()

	r := router.New(conn.Adapter,
		router.WithTimeout(cfg.Client.RequestTimeout),
		router.WithRegisterer(registry),
	)
	defer r.Close()

	store := modality.NewStore(modality.ParseKinds(cfg.Client.Modalities))
	ctrl := selection.New(r, store, cfg.Client.RequestTimeout)

	model := display.New(ctx, store, ctrl)
	defer model.Close()

	r.OnAvailable(func(labels []string) { ctrl.Available(ctx, labels) })
	if conn.Events != nil {
		conn.Events.OnProgress(model.Progress)
	}

	if err := ctrl.Init(ctx); err != nil {
		return err
	}
	// Bindings without an availability push use the session's announcement.
	if !conn.Announced {
		ctrl.Available(ctx, conn.Session.Modalities)
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}

	log.Info().Str("transport", cfg.Client.Transport).Str("session_id", conn.Session.ID.String()).Msg("widget started")

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run display: %w", err)
	}

	logSummary(registry)
	return nil
}

func setupLogging(cfg config.LogConfig, out *os.File) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: true}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
}

// logSummary writes the client's request counters to the log on exit.
func logSummary(registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			evt := log.Info().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				evt = evt.Str(lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				evt = evt.Float64("value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				evt = evt.Float64("value", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				evt = evt.Uint64("count", m.GetHistogram().GetSampleCount()).Float64("sum", m.GetHistogram().GetSampleSum())
			}
			evt.Msg("session summary")
		}
	}
}
