package protocol

import (
	"encoding/json"
	"fmt"
)

// ToolRequestName is the tool an extension host exposes for envelope requests.
const ToolRequestName = "multimodal_request"

// ToolCall is a tool invocation sent to an extension host.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolArguments wraps a request envelope as tool arguments.
type ToolArguments struct {
	Envelope json.RawMessage `json:"envelope"`
}

// ToolContent is one item of a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the envelope an extension host returns for a tool call.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// NewToolCall wraps an encoded request envelope in a tool invocation.
func NewToolCall(envelope []byte) (ToolCall, error) {
	args, err := json.Marshal(ToolArguments{Envelope: envelope})
	if err != nil {
		return ToolCall{}, fmt.Errorf("protocol.NewToolCall: %w", err)
	}
	return ToolCall{Name: ToolRequestName, Arguments: args}, nil
}

// EnvelopeFromToolCall extracts the request envelope from a tool invocation.
func EnvelopeFromToolCall(call ToolCall) ([]byte, error) {
	if call.Name != ToolRequestName {
		return nil, fmt.Errorf("protocol.EnvelopeFromToolCall: %w: tool %q", ErrMalformedMessage, call.Name)
	}
	var args ToolArguments
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("protocol.EnvelopeFromToolCall: %w: %w", ErrMalformedMessage, err)
	}
	if len(args.Envelope) == 0 {
		return nil, fmt.Errorf("protocol.EnvelopeFromToolCall: %w: missing envelope", ErrMalformedMessage)
	}
	return args.Envelope, nil
}

// FindResponse locates the first text item of a tool result that decodes as
// a response envelope and returns its raw bytes.
func FindResponse(result ToolResult) ([]byte, bool) {
	for _, c := range result.Content {
		if c.Type != "text" || c.Text == "" {
			continue
		}
		if _, err := Decode([]byte(c.Text)); err == nil {
			return []byte(c.Text), true
		}
	}
	return nil, false
}
