package protocol

import (
	"encoding/json"
	"fmt"
)

// EventStatus is the production status reported on an event stream.
type EventStatus string

const (
	EventLoading EventStatus = "loading"
	EventFailed  EventStatus = "failed"
	EventLoaded  EventStatus = "loaded"
)

// Terminal reports whether the status ends a production.
func (s EventStatus) Terminal() bool {
	return s == EventFailed || s == EventLoaded
}

// Event is a message pushed on a server event stream. Type names the
// modality the event belongs to; Data is a JSON document encoded as a string.
type Event struct {
	Type   string      `json:"type"`
	Status EventStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   string      `json:"data,omitempty"`
}

// DecodeEvent parses an event-stream message.
func DecodeEvent(raw []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("protocol.DecodeEvent: %w: %w", ErrMalformedMessage, err)
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("protocol.DecodeEvent: %w: missing type", ErrMalformedMessage)
	}

	switch evt.Status {
	case EventLoading, EventFailed, EventLoaded:
	default:
		return Event{}, fmt.Errorf("protocol.DecodeEvent: %w: status %q", ErrMalformedMessage, evt.Status)
	}

	return evt, nil
}

// EncodeEvent serializes an event-stream message.
func EncodeEvent(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeEvent: %w", err)
	}
	return data, nil
}

// Payload returns the event data as raw JSON. An empty Data yields nil.
func (e Event) Payload() (json.RawMessage, error) {
	if e.Data == "" {
		return nil, nil
	}
	if !json.Valid([]byte(e.Data)) {
		return nil, fmt.Errorf("protocol.Event.Payload: %w: data is not JSON", ErrMalformedMessage)
	}
	return json.RawMessage(e.Data), nil
}

// SelectPayload is the payload of a SELECT_MODALITY action.
type SelectPayload struct {
	Modality string `json:"modality"`
}

// ParseSelectPayload extracts the modality name from a SELECT_MODALITY payload.
// A bare JSON string is accepted as well as the object form.
func ParseSelectPayload(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("protocol.ParseSelectPayload: %w: empty payload", ErrMalformedMessage)
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, nil
	}

	var p SelectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("protocol.ParseSelectPayload: %w: %w", ErrMalformedMessage, err)
	}
	if p.Modality == "" {
		return "", fmt.Errorf("protocol.ParseSelectPayload: %w: missing modality", ErrMalformedMessage)
	}
	return p.Modality, nil
}
