package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/store"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("host: session not found") //nolint:gochecknoglobals // sentinel error

// Status is the lifecycle of a widget session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusInitialized  Status = "initialized"
	StatusComputing    Status = "computing"
	StatusComputed     Status = "computed"
	StatusFailed       Status = "failed"
)

// Session owns the artifacts produced for one connected widget.
type Session struct {
	ID      uuid.UUID
	Created time.Time

	producer Producer
	broker   store.Broker
	metrics  *metrics

	produceMu sync.Mutex // serializes productions

	mu     sync.Mutex
	status Status
	cache  map[modality.Kind]json.RawMessage
}

// Status returns the session's lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Channel returns the broker channel carrying this session's events.
func (s *Session) Channel() string {
	return store.ArtifactChannel(s.ID)
}

// Kinds returns the modalities this session can produce.
func (s *Session) Kinds() []modality.Kind {
	return s.producer.Kinds()
}

// Init marks the widget as initialized.
func (s *Session) Init() {
	s.setStatus(StatusInitialized)
}

// Produce returns the artifact for kind, computing it on first use. Every
// call publishes the outcome on the session channel; a computation is
// preceded by a loading event.
func (s *Session) Produce(ctx context.Context, kind modality.Kind) (json.RawMessage, error) {
	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	s.mu.Lock()
	cached, ok := s.cache[kind]
	s.mu.Unlock()
	if ok {
		s.metrics.productions.WithLabelValues(string(kind), "cached").Inc()
		s.publish(ctx, protocol.Event{Type: string(kind), Status: protocol.EventLoaded, Data: string(cached)})
		return cached, nil
	}

	s.setStatus(StatusComputing)
	s.publish(ctx, protocol.Event{Type: string(kind), Status: protocol.EventLoading})

	start := time.Now()
	value, err := s.producer.Produce(ctx, kind)
	s.metrics.duration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err == nil && !json.Valid(value) {
		err = fmt.Errorf("host.Session.Produce(%s): producer returned invalid JSON", kind)
	}
	if err != nil {
		s.setStatus(StatusFailed)
		s.metrics.productions.WithLabelValues(string(kind), "failed").Inc()
		s.publish(ctx, protocol.Event{Type: string(kind), Status: protocol.EventFailed, Error: err.Error()})
		return nil, err
	}

	s.mu.Lock()
	s.cache[kind] = value
	s.status = StatusComputed
	s.mu.Unlock()

	s.metrics.productions.WithLabelValues(string(kind), "computed").Inc()
	s.publish(ctx, protocol.Event{Type: string(kind), Status: protocol.EventLoaded, Data: string(value)})
	return value, nil
}

// ProduceAll produces every modality in turn. Failures are published and
// do not stop the remaining productions.
func (s *Session) ProduceAll(ctx context.Context) {
	for _, kind := range s.producer.Kinds() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Produce(ctx, kind); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID.String()).Str("modality", string(kind)).Msg("host: production failed")
		}
	}
}

// Artifacts returns a copy of the artifacts produced so far.
func (s *Session) Artifacts() map[modality.Kind]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.cache)
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	s.mu.Unlock()
	if prev != status {
		log.Debug().Str("session_id", s.ID.String()).Str("from", string(prev)).Str("to", string(status)).Msg("host: session status")
	}
}

func (s *Session) publish(ctx context.Context, evt protocol.Event) {
	if s.broker == nil {
		return
	}
	raw, err := protocol.EncodeEvent(evt)
	if err != nil {
		log.Error().Err(err).Msg("host: encode event")
		return
	}
	if err := s.broker.Publish(ctx, s.Channel(), raw); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID.String()).Str("modality", evt.Type).Msg("host: publish event")
	}
}

// Sessions is the registry of live sessions. Sessions older than the TTL
// are dropped.
type Sessions struct {
	producer Producer
	broker   store.Broker
	ttl      time.Duration
	metrics  *metrics

	mu   sync.Mutex
	byID map[uuid.UUID]*Session
}

// NewSessions creates a registry. A nil registerer leaves metrics unregistered.
func NewSessions(producer Producer, broker store.Broker, ttl time.Duration, reg prometheus.Registerer) *Sessions {
	return &Sessions{
		producer: producer,
		broker:   broker,
		ttl:      ttl,
		metrics:  newMetrics(reg),
		byID:     make(map[uuid.UUID]*Session),
	}
}

// Create starts a new session.
func (r *Sessions) Create() *Session {
	s := &Session{
		ID:       uuid.New(),
		Created:  time.Now(),
		producer: r.producer,
		broker:   r.broker,
		metrics:  r.metrics,
		status:   StatusInitializing,
		cache:    make(map[modality.Kind]json.RawMessage),
	}

	r.mu.Lock()
	r.pruneLocked()
	r.byID[s.ID] = s
	n := len(r.byID)
	r.mu.Unlock()

	r.metrics.sessions.Set(float64(n))
	log.Info().Str("session_id", s.ID.String()).Msg("host: session created")
	return s
}

// Get returns a live session.
func (r *Sessions) Get(id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok || r.expired(s) {
		return nil, fmt.Errorf("host.Sessions.Get(%s): %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Len reports the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.byID)
}

func (r *Sessions) expired(s *Session) bool {
	return r.ttl > 0 && time.Since(s.Created) > r.ttl
}

func (r *Sessions) pruneLocked() {
	for id, s := range r.byID {
		if r.expired(s) {
			delete(r.byID, id)
		}
	}
	r.metrics.sessions.Set(float64(len(r.byID)))
}
