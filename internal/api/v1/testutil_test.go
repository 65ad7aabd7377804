package v1_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/multimodal/internal/api/v1"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
	"github.com/gosuda/multimodal/internal/store/memory"
)

const (
	testSecret = "api-test-secret-at-least-32-characters"
	artifacts  = `{"chart": {"mark": "line"}, "description": "flat", "table": {"columns": ["x"], "rows": [[1]]}}`
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newSessions(t *testing.T) *host.Sessions {
	t.Helper()

	producer, err := host.NewStaticProducer([]byte(artifacts))
	require.NoError(t, err)
	broker := memory.New()
	t.Cleanup(func() { _ = broker.Close() })
	return host.NewSessions(producer, broker, time.Hour, nil)
}

func newTestAPI(t *testing.T) (humatest.TestAPI, *host.Sessions) {
	t.Helper()

	_, api := humatest.New(t)
	sessions := newSessions(t)

	v1.RegisterSessionRoutes(api, sessions, testSecret, time.Hour)
	v1.RegisterArtifactRoutes(t.Context(), api, sessions)
	v1.RegisterToolRoutes(api, sessions)

	return api, sessions
}

// sessionCtx injects an authenticated session into the context for DoCtx.
func sessionCtx(s *host.Session) context.Context {
	return middleware.WithSession(context.Background(), s.ID, s.Channel())
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
