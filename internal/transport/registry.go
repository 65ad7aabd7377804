package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when a requested binding is not registered.
var ErrUnknownKind = errors.New("transport: unknown binding") //nolint:gochecknoglobals // sentinel error

// Factory creates an Adapter for one binding.
type Factory func(ctx context.Context, opts Options) (Adapter, error)

// Registry maps binding kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
	}
}

// DefaultRegistry returns a registry with the network bindings registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindChannel, NewWebSocketAdapter)
	r.Register(KindEventStream, NewEventStreamAdapter)
	r.Register(KindToolHost, NewToolHostAdapter)
	return r
}

// Register adds a factory for a binding kind.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create instantiates an adapter for kind.
func (r *Registry) Create(ctx context.Context, kind Kind, opts Options) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transport.Registry.Create(%q): %w", kind, ErrUnknownKind)
	}

	adapter, err := factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("transport.Registry.Create(%q): %w", kind, err)
	}

	return adapter, nil
}

// Available returns registered kinds in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for kind := range r.factories {
			if !yield(string(kind)) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
