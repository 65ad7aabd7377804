package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedMessage is returned when an inbound payload cannot be decoded
// into the expected envelope schema.
var ErrMalformedMessage = errors.New("protocol: malformed message") //nolint:gochecknoglobals // sentinel error

// Envelope type discriminators.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Action types understood by hosts.
const (
	ActionSelectModality = "SELECT_MODALITY"
	ActionInitWidget     = "INIT_WIDGET"
)

// Action is the typed operation carried by a request envelope.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request is an outbound request envelope.
type Request struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Action    Action `json:"action"`
}

// ResponseAction echoes the action type a response belongs to.
type ResponseAction struct {
	Type string `json:"type"`
}

// Response is an inbound response envelope. Payload carries the produced
// artifact when the host attaches one.
type Response struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
	Action    ResponseAction  `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewID returns a correlation id that is unique for the lifetime of the process.
func NewID() string {
	return uuid.NewString()
}

// NewRequest builds a request envelope with a freshly generated id.
// payload may be nil, a json.RawMessage, or any JSON-serializable value.
func NewRequest(actionType string, payload any) (Request, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Request{}, fmt.Errorf("protocol.NewRequest: %w", err)
	}

	return Request{
		Type:      TypeRequest,
		MessageID: NewID(),
		Action: Action{
			Type:    actionType,
			Payload: raw,
		},
	}, nil
}

// Encode serializes a request envelope for the wire.
func Encode(req Request) ([]byte, error) {
	if req.MessageID == "" {
		return nil, fmt.Errorf("protocol.Encode: %w: empty messageId", ErrMalformedMessage)
	}
	if req.Type == "" {
		req.Type = TypeRequest
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol.Encode: %w", err)
	}
	return data, nil
}

// Decode parses a response envelope. It fails with ErrMalformedMessage when
// the payload is not JSON, is not a response, or has no messageId.
func Decode(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("protocol.Decode: %w: %w", ErrMalformedMessage, err)
	}
	if resp.Type != TypeResponse {
		return Response{}, fmt.Errorf("protocol.Decode: %w: type %q", ErrMalformedMessage, resp.Type)
	}
	if resp.MessageID == "" {
		return Response{}, fmt.Errorf("protocol.Decode: %w: missing messageId", ErrMalformedMessage)
	}
	return resp, nil
}

// DecodeRequest parses a request envelope on the host side. Only JSON
// validity and the presence of a messageId are enforced here; type and
// action checks are left to the host so it can answer with a failure.
func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("protocol.DecodeRequest: %w: %w", ErrMalformedMessage, err)
	}
	if req.MessageID == "" {
		return Request{}, fmt.Errorf("protocol.DecodeRequest: %w: missing messageId", ErrMalformedMessage)
	}
	return req, nil
}

// EncodeResponse serializes a response envelope.
func EncodeResponse(resp Response) ([]byte, error) {
	resp.Type = TypeResponse

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeResponse: %w", err)
	}
	return data, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
