package transport

import (
	"context"
	"errors"
	"net/http"
)

// ErrClosed is returned by Send after the adapter has been closed.
var ErrClosed = errors.New("transport: closed") //nolint:gochecknoglobals // sentinel error

// Kind names a host binding.
type Kind string

const (
	KindChannel     Kind = "channel"
	KindEventStream Kind = "eventstream"
	KindToolHost    Kind = "toolhost"
)

// Handler receives raw inbound messages. Messages from one source arrive in
// order, but a handler may be called from more than one goroutine.
type Handler func(raw []byte)

// Adapter is the capability set every host binding implements.
type Adapter interface {
	// Kind returns the binding this adapter implements.
	Kind() Kind

	// Send hands an encoded request envelope to the host. A nil error means
	// the envelope was accepted; it does not mean a reply will arrive.
	Send(ctx context.Context, envelope []byte) error

	// OnMessage registers the handler for inbound messages, replacing any
	// previous one. Messages received before the first registration are
	// held and delivered to it.
	OnMessage(handler Handler)

	// Close releases the adapter. It is safe to call more than once.
	Close() error
}

// Subscriber yields raw messages published on a named channel. The returned
// cleanup function ends the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Options carries what a factory may need to build an adapter.
type Options struct {
	HostURL    string       // base URL of the host process
	Token      string       // bearer token for the host session
	HTTPClient *http.Client // nil means a default client
	Subscriber Subscriber   // event source for the event-stream binding
	Channel    string       // event channel for the event-stream binding
	Buffer     int          // inbound buffer size
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o Options) buffer() int {
	if o.Buffer > 0 {
		return o.Buffer
	}
	return 64
}
