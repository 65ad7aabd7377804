// Package ws serves the push surfaces of the host: the widget WebSocket
// channel and the server-sent artifact event stream.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
	"github.com/gosuda/multimodal/internal/store"
)

const widgetReadLimit = 1 << 20

// SessionLookup resolves live sessions. *host.Sessions satisfies it.
type SessionLookup interface {
	Get(id uuid.UUID) (*host.Session, error)
}

// Hub serves widget connections for authenticated sessions.
type Hub struct {
	sessions SessionLookup
	broker   store.Broker
}

// NewHub creates a new hub.
func NewHub(sessions SessionLookup, broker store.Broker) *Hub {
	return &Hub{sessions: sessions, broker: broker}
}

// ServeWidget upgrades to a WebSocket carrying request and response
// envelopes. The availability push is sent first. Requests are answered
// concurrently; replies may arrive out of order.
func (h *Hub) ServeWidget(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(widgetReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	dispatcher := host.NewDispatcher(s)
	avail, err := dispatcher.Available()
	if err != nil {
		log.Error().Err(err).Msg("websocket encode availability")
		_ = conn.Close(websocket.StatusInternalError, "encode failed")
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, avail); err != nil {
		log.Debug().Err(err).Msg("websocket write")
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("session_id", s.ID.String()).Msg("websocket read")
			}
			cancel()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := dispatcher.Handle(ctx, msg)
			if reply == nil {
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, reply); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
			}
		}()
	}
}

func (h *Hub) session(w http.ResponseWriter, r *http.Request) (*host.Session, bool) {
	id, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return nil, false
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}
