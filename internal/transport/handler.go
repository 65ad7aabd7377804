package transport

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// maxHeldMessages bounds what an adapter holds before a handler is registered.
const maxHeldMessages = 64

// handlerSlot holds the registered inbound handler for an adapter. Messages
// that arrive before the first registration are held and delivered to it.
// While held messages drain, new ones queue behind them, so delivery stays
// in arrival order; a handler that emits from inside its own call is queued
// rather than blocked.
type handlerSlot struct {
	mu       sync.Mutex
	handler  Handler
	held     [][]byte
	draining bool
}

func (s *handlerSlot) set(h Handler) {
	s.mu.Lock()
	s.handler = h
	if h == nil || s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.drainLocked()
}

// drainLocked delivers held messages in batches until none remain. It is
// entered with s.mu held and returns with it released.
func (s *handlerSlot) drainLocked() {
	for {
		batch := s.held
		h := s.handler
		if len(batch) == 0 || h == nil {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.held = nil
		s.mu.Unlock()

		for _, raw := range batch {
			h(raw)
		}
		s.mu.Lock()
	}
}

func (s *handlerSlot) emit(kind Kind, raw []byte) {
	s.mu.Lock()
	switch {
	case s.draining:
		s.held = append(s.held, raw)
		s.mu.Unlock()
		return
	case s.handler == nil:
		if len(s.held) < maxHeldMessages {
			s.held = append(s.held, raw)
		} else {
			log.Debug().Str("transport", string(kind)).Int("bytes", len(raw)).Msg("transport: no handler, dropping message")
		}
		s.mu.Unlock()
		return
	}
	h := s.handler
	s.mu.Unlock()
	h(raw)
}
