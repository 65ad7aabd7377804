package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const widgetPath = "/ws/widget"

// WebSocket is the channel binding over a websocket connection to a host
// process. Each text frame carries one envelope.
type WebSocket struct {
	conn      *websocket.Conn
	slot      handlerSlot
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWebSocketAdapter dials {HostURL}/ws/widget and starts reading frames.
func NewWebSocketAdapter(ctx context.Context, opts Options) (Adapter, error) {
	if opts.HostURL == "" {
		return nil, errors.New("transport.NewWebSocketAdapter: host url is required")
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	url := websocketURL(opts.HostURL) + widgetPath
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("transport.NewWebSocketAdapter: dial %s: %w", url, err)
	}

	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	ctx, cancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	go ws.readLoop()
	return ws
}

func (w *WebSocket) Kind() Kind { return KindChannel }

func (w *WebSocket) Send(ctx context.Context, envelope []byte) error {
	if w.ctx.Err() != nil {
		return fmt.Errorf("transport.WebSocket.Send: %w", ErrClosed)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, envelope); err != nil {
		return fmt.Errorf("transport.WebSocket.Send: %w", err)
	}
	return nil
}

func (w *WebSocket) OnMessage(handler Handler) {
	w.slot.set(handler)
}

func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.conn.Close(websocket.StatusNormalClosure, "client closed")
	})
	if err != nil && !isClosedErr(err) {
		return fmt.Errorf("transport.WebSocket.Close: %w", err)
	}
	return nil
}

func (w *WebSocket) readLoop() {
	for {
		typ, data, err := w.conn.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() == nil && !isClosedErr(err) {
				log.Warn().Err(err).Msg("transport.WebSocket: read failed")
			}
			w.cancel()
			return
		}
		if typ != websocket.MessageText {
			log.Debug().Msg("transport.WebSocket: ignoring binary frame")
			continue
		}
		w.slot.emit(KindChannel, data)
	}
}

func isClosedErr(err error) bool {
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}

func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
