package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/protocol"
	"github.com/gosuda/multimodal/internal/server/middleware"
)

type ToolCallInput struct {
	Body struct {
		Name      string         `json:"name" minLength:"1" doc:"Tool name"`
		Arguments map[string]any `json:"arguments" doc:"Tool arguments"`
	}
}

type ToolCallOutput struct {
	Body protocol.ToolResult
}

// RegisterToolRoutes registers the extension-host tool endpoint. The request
// envelope travels in the tool arguments; the response envelope is returned
// as a text item of the tool result.
func RegisterToolRoutes(api huma.API, sessions SessionStore) {
	huma.Register(api, huma.Operation{
		OperationID: "call-tool",
		Method:      http.MethodPost,
		Path:        "/tools/call",
		Summary:     "Invoke a widget tool",
		Tags:        []string{"Tools"},
	}, func(ctx context.Context, input *ToolCallInput) (*ToolCallOutput, error) {
		id, ok := middleware.SessionIDFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing session context")
		}
		s, err := sessions.Get(id)
		if err != nil {
			if errors.Is(err, host.ErrSessionNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		args, err := json.Marshal(input.Body.Arguments)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid tool arguments", err)
		}
		envelope, err := protocol.EnvelopeFromToolCall(protocol.ToolCall{Name: input.Body.Name, Arguments: args})
		if err != nil {
			return toolError(err.Error()), nil
		}

		reply := host.NewDispatcher(s).Handle(ctx, envelope)
		if reply == nil {
			return toolError("request envelope has no message id"), nil
		}

		resp, err := protocol.Decode(reply)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to decode response", err)
		}

		summary := "Handled " + resp.Action.Type
		if !resp.Success {
			summary = "Failed: " + resp.Error
		}
		return &ToolCallOutput{Body: protocol.ToolResult{
			Content: []protocol.ToolContent{
				{Type: "text", Text: summary},
				{Type: "text", Text: string(reply)},
			},
		}}, nil
	})
}

func toolError(text string) *ToolCallOutput {
	return &ToolCallOutput{Body: protocol.ToolResult{
		Content: []protocol.ToolContent{{Type: "text", Text: text}},
		IsError: true,
	}}
}
