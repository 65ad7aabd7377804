package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/config"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/store/memory"
	redisstore "github.com/gosuda/multimodal/internal/store/redis"
	"github.com/gosuda/multimodal/internal/transport"
)

// Connection is an adapter bound to a host session.
type Connection struct {
	Adapter transport.Adapter
	Session Session

	// Events is set for the event-stream binding.
	Events *transport.EventStream

	// Announced is true when the binding pushes availability itself.
	Announced bool

	api     *API
	closers []func() error
}

// Dial builds the adapter for cfg's binding. A channel binding without a
// host URL runs a host in process over a Pipe, serving cfg.ArtifactsFile.
func Dial(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Connection, error) {
	kind := transport.Kind(cfg.Client.Transport)
	if kind == transport.KindChannel && cfg.Client.HostURL == "" {
		return dialInProcess(ctx, cfg, reg)
	}

	api := NewAPI(cfg.Client.HostURL, nil)
	s, err := api.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("client.Dial: %w", err)
	}
	log.Info().Str("session_id", s.ID.String()).Str("transport", string(kind)).Msg("client: session created")

	c := &Connection{Session: s, api: api, Announced: kind == transport.KindChannel}
	opts := transport.Options{
		HostURL: cfg.Client.HostURL,
		Token:   s.Token,
		Channel: s.Channel,
	}

	if kind == transport.KindEventStream {
		sub, closeSub, err := subscriber(ctx, cfg, s)
		if err != nil {
			return nil, fmt.Errorf("client.Dial: %w", err)
		}
		if closeSub != nil {
			c.closers = append(c.closers, closeSub)
		}
		opts.Subscriber = sub
	}

	adapter, err := transport.DefaultRegistry().Create(ctx, kind, opts)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("client.Dial: %w", err)
	}
	c.Adapter = adapter
	if es, ok := adapter.(*transport.EventStream); ok {
		c.Events = es
	}
	return c, nil
}

func subscriber(ctx context.Context, cfg *config.Config, s Session) (transport.Subscriber, func() error, error) {
	if cfg.Client.EventSource == "redis" {
		ps, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	}
	return transport.NewSSESubscriber(cfg.Client.HostURL, s.Token, nil), nil, nil
}

func dialInProcess(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Connection, error) {
	producer, err := host.LoadStaticProducer(cfg.ArtifactsFile)
	if err != nil {
		return nil, fmt.Errorf("client.dialInProcess: %w", err)
	}

	broker := memory.New()
	session := host.NewSessions(producer, broker, 0, reg).Create()
	dispatcher := host.NewDispatcher(session)

	pipe, pipeHost := transport.NewPipe(0)
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		avail, err := dispatcher.Available()
		if err != nil {
			log.Error().Err(err).Msg("client: encode availability")
			return
		}
		if err := pipeHost.Reply(serveCtx, avail); err != nil {
			return
		}
		pipeHost.Serve(serveCtx, dispatcher.Handle)
	}()

	log.Info().Str("session_id", session.ID.String()).Str("artifacts", cfg.ArtifactsFile).Msg("client: in-process host started")
	return &Connection{
		Adapter:   pipe,
		Session:   Session{ID: session.ID, Channel: session.Channel(), Modalities: kindLabels(session)},
		Announced: true,
		closers: []func() error{
			func() error { cancel(); return nil },
			broker.Close,
		},
	}, nil
}

// Start triggers production for bindings whose host does not compute on
// request. It runs after the subscription is live, so no event is missed.
func (c *Connection) Start(ctx context.Context) error {
	if c.Events == nil || c.api == nil {
		return nil
	}
	if err := c.api.Compute(ctx, c.Session); err != nil {
		return fmt.Errorf("client.Connection.Start: %w", err)
	}
	return nil
}

// Close releases the adapter and anything Dial opened for it.
func (c *Connection) Close() error {
	var errs []error
	if c.Adapter != nil {
		errs = append(errs, c.Adapter.Close())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("client.Connection.Close: %w", err)
	}
	return nil
}

func kindLabels(s *host.Session) []string {
	kinds := s.Kinds()
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = string(k)
	}
	return labels
}
