// Package memory is an in-process artifact event broker used when no Redis
// address is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("memory: broker closed") //nolint:gochecknoglobals // sentinel error

const subscriberBuffer = 64

type subscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Broker fans payloads out to in-process subscribers. A subscriber whose
// buffer is full misses the message.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func New() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

func (b *Broker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory.Broker.Ping: %w", ErrClosed)
	}
	return nil
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory.Broker.Publish(%s): %w", channel, ErrClosed)
	}

	for s := range b.subs[channel] {
		select {
		case s.ch <- slices.Clone(payload):
		case <-s.done:
		default:
			log.Warn().Str("channel", channel).Msg("memory.Broker: subscriber buffer full, dropping message")
		}
	}
	return nil
}

// Subscribe streams payloads published on channel until ctx ends or the
// returned cleanup runs. The output channel is closed on exit.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	s := &subscriber{ch: make(chan []byte, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("memory.Broker.Subscribe(%s): %w", channel, ErrClosed)
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer b.remove(channel, s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg := <-s.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
	}()

	return out, s.stop, nil
}

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*subscriber]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for s := range set {
			s.stop()
		}
	}
	return nil
}

func (b *Broker) remove(channel string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[channel]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, channel)
	}
}
