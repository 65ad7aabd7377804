package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/transport"
)

// DefaultTimeout applies when a request is dispatched with a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// Settle receives the outcome of a dispatched request. It is called exactly
// once, with a nil error on success.
type Settle func(resp protocol.Response, err error)

type pendingEntry struct {
	action  string
	started time.Time
	settle  Settle
	timer   *time.Timer
}

// Router correlates request envelopes sent over an adapter with the
// responses that come back, and enforces a deadline on each.
type Router struct {
	adapter transport.Adapter
	timeout time.Duration
	metrics *metrics

	mu          sync.Mutex
	pending     map[string]*pendingEntry
	closed      bool
	onAvailable func([]string)
}

// Option configures a Router.
type Option func(*routerOptions)

type routerOptions struct {
	timeout    time.Duration
	registerer prometheus.Registerer
}

// WithTimeout sets the deadline used when Dispatch is given a non-positive timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *routerOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRegisterer registers the router's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *routerOptions) { o.registerer = reg }
}

// New creates a Router and installs it as the adapter's message handler.
func New(adapter transport.Adapter, opts ...Option) *Router {
	o := routerOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Router{
		adapter: adapter,
		timeout: o.timeout,
		metrics: newMetrics(o.registerer),
		pending: make(map[string]*pendingEntry),
	}
	adapter.OnMessage(r.handle)
	return r
}

// NewRequest builds a request with a fresh id. The id is known before
// dispatch so callers can record it first.
func (r *Router) NewRequest(actionType string, payload any) (protocol.Request, error) {
	req, err := protocol.NewRequest(actionType, payload)
	if err != nil {
		return protocol.Request{}, fmt.Errorf("router.Router.NewRequest: %w", err)
	}
	return req, nil
}

// OnAvailable installs the handler for host availability pushes.
func (r *Router) OnAvailable(fn func(modalities []string)) {
	r.mu.Lock()
	r.onAvailable = fn
	r.mu.Unlock()
}

// Dispatch registers req as pending, starts its deadline and sends it.
// A returned error means nothing was registered and settle will not be
// called. Once Dispatch returns nil, settle runs exactly once: on the
// matching response, on the deadline, on a send failure or on Close.
func (r *Router) Dispatch(ctx context.Context, req protocol.Request, timeout time.Duration, settle Settle) error {
	raw, err := protocol.Encode(req)
	if err != nil {
		return fmt.Errorf("router.Router.Dispatch: %w", err)
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	id := req.MessageID
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("router.Router.Dispatch: %w", ErrClosed)
	}
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("router.Router.Dispatch: %w: %s", ErrDuplicateID, id)
	}
	entry := &pendingEntry{action: req.Action.Type, started: time.Now(), settle: settle}
	entry.timer = time.AfterFunc(timeout, func() { r.expire(id) })
	r.pending[id] = entry
	r.mu.Unlock()

	r.metrics.dispatched.WithLabelValues(entry.action).Inc()
	r.metrics.pending.Inc()

	if err := r.adapter.Send(ctx, raw); err != nil {
		if e := r.take(id); e != nil {
			log.Warn().Err(err).Str("message_id", id).Str("action", e.action).Msg("router: send failed")
			r.metrics.observe(e.action, outcomeSend, e.started)
			e.settle(protocol.Response{}, fmt.Errorf("%w: %w", ErrSend, err))
		}
	}
	return nil
}

// Request dispatches a request and blocks until it settles. ctx bounds the
// wait only; an abandoned request still settles on its deadline.
func (r *Router) Request(ctx context.Context, actionType string, payload any, timeout time.Duration) (protocol.Response, error) {
	req, err := r.NewRequest(actionType, payload)
	if err != nil {
		return protocol.Response{}, err
	}

	type outcome struct {
		resp protocol.Response
		err  error
	}
	done := make(chan outcome, 1)
	if err := r.Dispatch(ctx, req, timeout, func(resp protocol.Response, err error) {
		done <- outcome{resp: resp, err: err}
	}); err != nil {
		return protocol.Response{}, err
	}

	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		return protocol.Response{}, fmt.Errorf("router.Router.Request: %w", ctx.Err())
	}
}

// Pending reports the number of outstanding requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close rejects every outstanding request with ErrClosed. Later dispatches
// fail. The adapter is left open.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.pending
	r.pending = make(map[string]*pendingEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		r.metrics.observe(e.action, outcomeClosed, e.started)
		e.settle(protocol.Response{}, ErrClosed)
	}
	return nil
}

// take removes and returns the entry for id, or nil when it is not pending.
// Whoever takes an entry owns its settlement.
func (r *Router) take(id string) *pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return e
}

func (r *Router) expire(id string) {
	e := r.take(id)
	if e == nil {
		return
	}
	log.Debug().Str("message_id", id).Str("action", e.action).Msg("router: request timed out")
	r.metrics.observe(e.action, outcomeTimeout, e.started)
	e.settle(protocol.Response{}, ErrTimeout)
}

func (r *Router) handle(raw []byte) {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		log.Warn().Err(err).Msg("router: dropping malformed message")
		r.metrics.dropped.WithLabelValues("malformed").Inc()
		return
	}

	if typ == protocol.TypeAvailable {
		r.handleAvailable(raw)
		return
	}

	resp, err := protocol.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("router: dropping malformed message")
		r.metrics.dropped.WithLabelValues("malformed").Inc()
		return
	}

	e := r.take(resp.MessageID)
	if e == nil {
		log.Debug().Str("message_id", resp.MessageID).Msg("router: ignoring response for unknown id")
		r.metrics.dropped.WithLabelValues("unknown_id").Inc()
		return
	}
	e.timer.Stop()

	if resp.Success {
		r.metrics.observe(e.action, outcomeSuccess, e.started)
		e.settle(resp, nil)
		return
	}
	r.metrics.observe(e.action, outcomeFailure, e.started)
	e.settle(resp, &ApplicationError{Message: resp.Error})
}

func (r *Router) handleAvailable(raw []byte) {
	avail, err := protocol.DecodeAvailable(raw)
	if err != nil {
		log.Warn().Err(err).Msg("router: dropping malformed availability message")
		r.metrics.dropped.WithLabelValues("malformed").Inc()
		return
	}

	r.mu.Lock()
	fn := r.onAvailable
	r.mu.Unlock()
	if fn != nil {
		fn(avail.Modalities)
	}
}
