package ws

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/server/middleware"
)

const sseKeepalive = 15 * time.Second

// ServeEvents streams the artifact events published on the session's
// channel as server-sent events. The channel query parameter must name the
// channel the token was issued for.
func (h *Hub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.session(w, r); !ok {
		return
	}
	allowed, _ := middleware.ChannelFromContext(r.Context())
	channel := r.URL.Query().Get("channel")
	if channel == "" || channel != allowed {
		http.Error(w, "channel not permitted", http.StatusForbidden)
		return
	}

	ctx := r.Context()
	messages, cleanup, err := h.broker.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("sse subscribe")
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cleanup()

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Debug().Err(err).Msg("sse flush")
		return
	}

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if _, err := w.Write(formatEvent(msg)); err != nil {
				log.Debug().Err(err).Msg("sse write")
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// formatEvent frames payload as one event, one data line per payload line.
func formatEvent(payload []byte) []byte {
	var buf bytes.Buffer
	for line := range bytes.SplitSeq(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
