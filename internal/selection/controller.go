package selection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/router"
)

// Dispatcher issues correlated requests. *router.Router satisfies it.
type Dispatcher interface {
	NewRequest(actionType string, payload any) (protocol.Request, error)
	Dispatch(ctx context.Context, req protocol.Request, timeout time.Duration, settle router.Settle) error
}

// Controller tracks the active modality and turns selections into requests
// whose outcomes are applied to the status store.
type Controller struct {
	dispatcher Dispatcher
	store      *modality.Store
	timeout    time.Duration

	mu        sync.Mutex
	active    modality.Kind
	available []modality.Kind
	listeners []func(modality.Kind)
}

// New creates a controller. A non-positive timeout defers to the dispatcher's default.
func New(dispatcher Dispatcher, store *modality.Store, timeout time.Duration) *Controller {
	return &Controller{
		dispatcher: dispatcher,
		store:      store,
		timeout:    timeout,
	}
}

// Select makes kind the active modality and requests its artifact. It
// returns false, changing nothing, when kind is not tracked by the store.
func (c *Controller) Select(ctx context.Context, kind modality.Kind) bool {
	if !c.store.Has(kind) {
		log.Debug().Str("modality", string(kind)).Msg("selection: ignoring unknown modality")
		return false
	}

	req, err := c.dispatcher.NewRequest(protocol.ActionSelectModality, protocol.SelectPayload{Modality: string(kind)})
	if err != nil {
		log.Error().Err(err).Str("modality", string(kind)).Msg("selection: build request")
		return false
	}

	c.setActive(kind)

	if err := c.store.Begin(kind, req.MessageID); err != nil {
		log.Error().Err(err).Str("modality", string(kind)).Msg("selection: begin")
		return false
	}

	id := req.MessageID
	err = c.dispatcher.Dispatch(ctx, req, c.timeout, func(resp protocol.Response, err error) {
		c.apply(kind, id, resp, err)
	})
	if err != nil {
		c.apply(kind, id, protocol.Response{}, err)
	}
	return true
}

// Available records the kinds a host announced and selects the first
// tracked one when nothing is active yet.
func (c *Controller) Available(ctx context.Context, labels []string) {
	var tracked []modality.Kind
	for _, k := range modality.ParseKinds(labels) {
		if c.store.Has(k) {
			tracked = append(tracked, k)
		}
	}

	c.mu.Lock()
	for _, k := range tracked {
		if !slices.Contains(c.available, k) {
			c.available = append(c.available, k)
		}
	}
	idle := c.active == ""
	c.mu.Unlock()

	if idle && len(tracked) > 0 {
		c.Select(ctx, tracked[0])
	}
}

// Init announces the client to the host and waits for its acknowledgement.
func (c *Controller) Init(ctx context.Context) error {
	req, err := c.dispatcher.NewRequest(protocol.ActionInitWidget, nil)
	if err != nil {
		return fmt.Errorf("selection.Controller.Init: %w", err)
	}

	done := make(chan error, 1)
	if err := c.dispatcher.Dispatch(ctx, req, c.timeout, func(_ protocol.Response, err error) {
		done <- err
	}); err != nil {
		return fmt.Errorf("selection.Controller.Init: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("selection.Controller.Init: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("selection.Controller.Init: %w", ctx.Err())
	}
}

// Active returns the active modality, or "" before the first selection.
func (c *Controller) Active() modality.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AvailableKinds returns the tracked kinds the host has announced.
func (c *Controller) AvailableKinds() []modality.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.available)
}

// OnChange registers fn to run whenever the active modality changes.
func (c *Controller) OnChange(fn func(modality.Kind)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) setActive(kind modality.Kind) {
	c.mu.Lock()
	if c.active == kind {
		c.mu.Unlock()
		return
	}
	c.active = kind
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(kind)
	}
}

func (c *Controller) apply(kind modality.Kind, id string, resp protocol.Response, reqErr error) {
	var err error
	if reqErr != nil {
		err = c.store.Fail(kind, id, router.Describe(reqErr))
	} else {
		err = c.store.Resolve(kind, id, resp.Payload)
	}

	switch {
	case err == nil:
	case errors.Is(err, modality.ErrStaleRequest):
		log.Debug().Str("modality", string(kind)).Str("message_id", id).Msg("selection: discarding superseded result")
	default:
		log.Warn().Err(err).Str("modality", string(kind)).Str("message_id", id).Msg("selection: apply result")
	}
}
