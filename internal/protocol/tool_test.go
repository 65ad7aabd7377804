package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/multimodal/internal/protocol"
)

func TestToolCall_WrapsEnvelope(t *testing.T) {
	t.Parallel()

	req, err := protocol.NewRequest(protocol.ActionSelectModality, protocol.SelectPayload{Modality: "chart"})
	require.NoError(t, err)
	raw, err := protocol.Encode(req)
	require.NoError(t, err)

	call, err := protocol.NewToolCall(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.ToolRequestName, call.Name)

	// Survives a JSON round trip through the wire form.
	wire, err := json.Marshal(call)
	require.NoError(t, err)
	var decoded protocol.ToolCall
	require.NoError(t, json.Unmarshal(wire, &decoded))

	env, err := protocol.EnvelopeFromToolCall(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(env))
}

func TestEnvelopeFromToolCall_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		call protocol.ToolCall
	}{
		{name: "wrong tool", call: protocol.ToolCall{Name: "other", Arguments: json.RawMessage(`{"envelope":{}}`)}},
		{name: "bad arguments", call: protocol.ToolCall{Name: protocol.ToolRequestName, Arguments: json.RawMessage(`[1]`)}},
		{name: "missing envelope", call: protocol.ToolCall{Name: protocol.ToolRequestName, Arguments: json.RawMessage(`{}`)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := protocol.EnvelopeFromToolCall(tc.call)
			require.ErrorIs(t, err, protocol.ErrMalformedMessage)
		})
	}
}

func TestFindResponse(t *testing.T) {
	t.Parallel()

	resp := `{"type":"response","messageId":"m1","success":true,"action":{"type":"SELECT_MODALITY"}}`

	t.Run("skips non-envelope items", func(t *testing.T) {
		t.Parallel()

		raw, ok := protocol.FindResponse(protocol.ToolResult{Content: []protocol.ToolContent{
			{Type: "text", Text: "Rendered chart"},
			{Type: "image"},
			{Type: "text", Text: `{"type":"request","messageId":"m0"}`},
			{Type: "text", Text: resp},
		}})
		require.True(t, ok)
		assert.JSONEq(t, resp, string(raw))
	})

	t.Run("no envelope", func(t *testing.T) {
		t.Parallel()

		_, ok := protocol.FindResponse(protocol.ToolResult{
			Content: []protocol.ToolContent{{Type: "text", Text: "Error: boom"}},
			IsError: true,
		})
		assert.False(t, ok)
	})
}
