package modality

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

type entry struct {
	state     State
	requestID string
}

// Store holds the status of each modality and is the only writer of it.
// Display layers read through Get, Snapshot, and Subscribe.
type Store struct {
	mu      sync.RWMutex
	kinds   []Kind
	entries map[Kind]*entry

	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

// NewStore creates a store tracking the given kinds, all starting as initial.
func NewStore(kinds []Kind) *Store {
	s := &Store{
		kinds:   slices.Clone(kinds),
		entries: make(map[Kind]*entry, len(kinds)),
		subs:    make(map[int]func(Change)),
	}
	for _, k := range kinds {
		s.entries[k] = &entry{state: State{Status: StatusInitial}}
	}
	return s
}

// Kinds returns the tracked kinds in configuration order.
func (s *Store) Kinds() []Kind {
	return slices.Clone(s.kinds)
}

// Has reports whether kind is tracked.
func (s *Store) Has(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[kind]
	return ok
}

// Begin moves kind to loading for requestID, superseding any prior request,
// value, or error.
func (s *Store) Begin(kind Kind, requestID string) error {
	s.mu.Lock()
	e, ok := s.entries[kind]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("modality.Store.Begin(%q): %w", kind, ErrUnknownModality)
	}
	e.requestID = requestID
	e.state = State{Status: StatusLoading}
	change := Change{Kind: kind, RequestID: requestID, State: e.state}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Resolve moves kind from loading to ready with value. It is rejected when
// requestID is no longer the active request for kind.
func (s *Store) Resolve(kind Kind, requestID string, value json.RawMessage) error {
	if value == nil {
		value = json.RawMessage("null")
	}
	return s.finish(kind, requestID, State{Status: StatusReady, Value: value}, "Resolve")
}

// Fail moves kind from loading to failed with message.
func (s *Store) Fail(kind Kind, requestID, message string) error {
	return s.finish(kind, requestID, State{Status: StatusFailed, Error: message}, "Fail")
}

func (s *Store) finish(kind Kind, requestID string, next State, op string) error {
	s.mu.Lock()
	e, ok := s.entries[kind]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("modality.Store.%s(%q): %w", op, kind, ErrUnknownModality)
	}
	if e.requestID != requestID {
		s.mu.Unlock()
		return fmt.Errorf("modality.Store.%s(%q): request %s: %w", op, kind, requestID, ErrStaleRequest)
	}
	if e.state.Status != StatusLoading {
		status := e.state.Status
		s.mu.Unlock()
		return fmt.Errorf("modality.Store.%s(%q): from %s: %w", op, kind, status, ErrInvalidTransition)
	}
	e.state = next
	change := Change{Kind: kind, RequestID: requestID, State: next}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Get returns the current state of kind. Unknown kinds report initial.
func (s *Store) Get(kind Kind) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[kind]
	if !ok {
		return State{Status: StatusInitial}
	}
	return e.state
}

// ActiveRequest returns the request id currently owning kind, if any.
func (s *Store) ActiveRequest(kind Kind) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[kind]
	if !ok || e.requestID == "" {
		return "", false
	}
	return e.requestID, true
}

// Snapshot returns a copy of every modality's state.
func (s *Store) Snapshot() map[Kind]State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Kind]State, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.state
	}
	return out
}

// Subscribe registers fn for every accepted transition and returns a function
// that removes the subscription. fn runs on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}
