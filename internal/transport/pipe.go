package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Pipe is the client end of an in-process bidirectional channel to a
// co-located compute process. Delivery is FIFO in both directions.
type Pipe struct {
	requests  chan []byte
	responses chan []byte
	slot      handlerSlot
	done      chan struct{}
	closeOnce sync.Once
}

// PipeHost is the host end of a Pipe.
type PipeHost struct {
	pipe *Pipe
}

// NewPipe creates a connected client/host pair with the given buffer size per direction.
func NewPipe(buffer int) (*Pipe, *PipeHost) {
	if buffer <= 0 {
		buffer = 64
	}
	p := &Pipe{
		requests:  make(chan []byte, buffer),
		responses: make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	go p.readLoop()
	return p, &PipeHost{pipe: p}
}

func (p *Pipe) Kind() Kind { return KindChannel }

func (p *Pipe) Send(ctx context.Context, envelope []byte) error {
	select {
	case <-p.done:
		return fmt.Errorf("transport.Pipe.Send: %w", ErrClosed)
	default:
	}

	select {
	case p.requests <- slices.Clone(envelope):
		return nil
	case <-p.done:
		return fmt.Errorf("transport.Pipe.Send: %w", ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("transport.Pipe.Send: %w", ctx.Err())
	}
}

func (p *Pipe) OnMessage(handler Handler) {
	p.slot.set(handler)
}

func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

func (p *Pipe) readLoop() {
	for {
		select {
		case <-p.done:
			return
		case raw := <-p.responses:
			p.slot.emit(KindChannel, raw)
		}
	}
}

// Requests returns the stream of envelopes sent by the client.
func (h *PipeHost) Requests() <-chan []byte {
	return h.pipe.requests
}

// Reply pushes a message to the client.
func (h *PipeHost) Reply(ctx context.Context, raw []byte) error {
	select {
	case h.pipe.responses <- slices.Clone(raw):
		return nil
	case <-h.pipe.done:
		return fmt.Errorf("transport.PipeHost.Reply: %w", ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("transport.PipeHost.Reply: %w", ctx.Err())
	}
}

// Serve answers each request with handle until ctx ends or the pipe closes.
// A nil reply from handle sends nothing.
func (h *PipeHost) Serve(ctx context.Context, handle func(ctx context.Context, raw []byte) []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.pipe.done:
			return
		case raw := <-h.pipe.requests:
			reply := handle(ctx, raw)
			if reply == nil {
				continue
			}
			if err := h.Reply(ctx, reply); err != nil {
				return
			}
		}
	}
}
