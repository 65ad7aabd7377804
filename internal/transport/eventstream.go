package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/protocol"
)

// EventStream is the event-stream binding. The host pushes production events
// and never sees a request: Send only binds a request id to the modality it
// names, and the next terminal event for that modality is turned into the
// response for the bound id. The latest terminal event of each modality is
// kept until a loading event starts a new production, and answers every Send
// for that modality immediately.
type EventStream struct {
	slot    handlerSlot
	cleanup func()
	cancel  context.CancelFunc

	mu       sync.Mutex
	bound    map[string]binding        // modality -> waiting request
	results  map[string]protocol.Event // modality -> latest terminal event
	seen     map[string]struct{}       // modalities announced so far
	progress func(evt protocol.Event)
	closed   bool

	closeOnce sync.Once
}

type binding struct {
	id     string
	action string
}

// NewEventStreamAdapter subscribes to opts.Channel on opts.Subscriber.
// The subscription is the implicit request every later Send attaches to.
func NewEventStreamAdapter(ctx context.Context, opts Options) (Adapter, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("transport.NewEventStreamAdapter: subscriber is required")
	}
	if opts.Channel == "" {
		return nil, errors.New("transport.NewEventStreamAdapter: channel is required")
	}
	return NewEventStream(ctx, opts.Subscriber, opts.Channel)
}

// NewEventStream subscribes to channel and starts consuming events.
func NewEventStream(ctx context.Context, sub Subscriber, channel string) (*EventStream, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	messages, cleanup, err := sub.Subscribe(streamCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport.NewEventStream: %w", err)
	}

	es := &EventStream{
		cleanup:  cleanup,
		cancel:   cancel,
		bound:    make(map[string]binding),
		results:  make(map[string]protocol.Event),
		seen:     make(map[string]struct{}),
	}
	go es.readLoop(streamCtx, messages)
	return es, nil
}

func (e *EventStream) Kind() Kind { return KindEventStream }

// OnProgress registers a hook for non-terminal events.
func (e *EventStream) OnProgress(fn func(evt protocol.Event)) {
	e.mu.Lock()
	e.progress = fn
	e.mu.Unlock()
}

func (e *EventStream) Send(_ context.Context, envelope []byte) error {
	req, err := protocol.DecodeRequest(envelope)
	if err != nil {
		return fmt.Errorf("transport.EventStream.Send: %w", err)
	}

	switch req.Action.Type {
	case protocol.ActionInitWidget:
		// Nothing to initialize on a push stream; acknowledge directly.
		return e.reply(protocol.Response{
			MessageID: req.MessageID,
			Success:   true,
			Action:    protocol.ResponseAction{Type: req.Action.Type},
		})
	case protocol.ActionSelectModality:
	default:
		return fmt.Errorf("transport.EventStream.Send: action %q: %w", req.Action.Type, errors.ErrUnsupported)
	}

	name, err := protocol.ParseSelectPayload(req.Action.Payload)
	if err != nil {
		return fmt.Errorf("transport.EventStream.Send: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("transport.EventStream.Send: %w", ErrClosed)
	}
	b := binding{id: req.MessageID, action: req.Action.Type}
	evt, ready := e.results[name]
	if ready {
		delete(e.bound, name)
	} else {
		if prev, ok := e.bound[name]; ok {
			log.Debug().Str("modality", name).Str("superseded", prev.id).Msg("transport.EventStream: rebinding modality")
		}
		e.bound[name] = b
	}
	e.mu.Unlock()

	if ready {
		return e.reply(responseFor(b, evt))
	}
	return nil
}

func (e *EventStream) OnMessage(handler Handler) {
	e.slot.set(handler)
}

func (e *EventStream) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
		if e.cleanup != nil {
			e.cleanup()
		}
	})
	return nil
}

func (e *EventStream) readLoop(ctx context.Context, messages <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-messages:
			if !ok {
				log.Debug().Msg("transport.EventStream: subscription ended")
				return
			}
			e.handleEvent(raw)
		}
	}
}

func (e *EventStream) handleEvent(raw []byte) {
	evt, err := protocol.DecodeEvent(raw)
	if err != nil {
		log.Warn().Err(err).Msg("transport.EventStream: dropping event")
		return
	}

	e.mu.Lock()
	_, known := e.seen[evt.Type]
	e.seen[evt.Type] = struct{}{}

	if !evt.Status.Terminal() {
		delete(e.results, evt.Type)
		progress := e.progress
		e.mu.Unlock()
		e.announce(evt.Type, known)
		if progress != nil {
			progress(evt)
		}
		return
	}

	e.results[evt.Type] = evt
	b, waiting := e.bound[evt.Type]
	if waiting {
		delete(e.bound, evt.Type)
	}
	e.mu.Unlock()

	e.announce(evt.Type, known)
	if waiting {
		if err := e.reply(responseFor(b, evt)); err != nil {
			log.Warn().Err(err).Msg("transport.EventStream: encode response")
		}
	}
}

// announce synthesizes an availability push the first time a modality appears.
func (e *EventStream) announce(name string, known bool) {
	if known {
		return
	}
	raw, err := protocol.EncodeAvailable([]string{name})
	if err != nil {
		return
	}
	e.slot.emit(KindEventStream, raw)
}

func (e *EventStream) reply(resp protocol.Response) error {
	raw, err := protocol.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("transport.EventStream.reply: %w", err)
	}
	e.slot.emit(KindEventStream, raw)
	return nil
}

func responseFor(b binding, evt protocol.Event) protocol.Response {
	resp := protocol.Response{
		MessageID: b.id,
		Action:    protocol.ResponseAction{Type: b.action},
	}
	if evt.Status == protocol.EventFailed {
		resp.Error = evt.Error
		if resp.Error == "" {
			resp.Error = "production failed"
		}
		return resp
	}

	payload, err := evt.Payload()
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	resp.Payload = payload
	return resp
}
