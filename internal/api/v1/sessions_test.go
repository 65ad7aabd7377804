package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/multimodal/internal/api/v1"
	"github.com/gosuda/multimodal/internal/auth"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// POST /sessions
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	api, sessions := newTestAPI(t)

	resp := api.Post("/sessions")
	require.Equal(t, http.StatusOK, resp.Code)

	var tok v1.SessionToken
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tok))

	assert.Equal(t, []string{"chart", "description", "table"}, tok.Modalities)
	assert.Equal(t, "artifacts:"+tok.SessionID.String(), tok.Channel)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	claims, err := auth.ValidateToken(testSecret, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.SessionID.String(), claims.SessionID)
	assert.Equal(t, tok.Channel, claims.Channel)

	_, err = sessions.Get(tok.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sessions.Len())
}

// ---------------------------------------------------------------------------
// GET /sessions/{id}
// ---------------------------------------------------------------------------

func TestGetSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		api, sessions := newTestAPI(t)
		s := sessions.Create()
		_, err := s.Produce(t.Context(), "table")
		require.NoError(t, err)

		resp := api.GetCtx(sessionCtx(s), "/sessions/"+s.ID.String())
		require.Equal(t, http.StatusOK, resp.Code)

		var status v1.SessionStatus
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
		assert.Equal(t, s.ID, status.SessionID)
		assert.Equal(t, string(host.StatusComputed), status.Status)
		assert.Equal(t, []string{"table"}, status.Produced)
	})

	t.Run("missing_session_context", func(t *testing.T) {
		t.Parallel()

		api, sessions := newTestAPI(t)
		s := sessions.Create()

		resp := api.Get("/sessions/" + s.ID.String())
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("other_session", func(t *testing.T) {
		t.Parallel()

		api, sessions := newTestAPI(t)
		mine := sessions.Create()
		theirs := sessions.Create()

		resp := api.GetCtx(sessionCtx(mine), "/sessions/"+theirs.ID.String())
		assert.Equal(t, http.StatusForbidden, resp.Code)
		body := parseErrorBody(t, resp.Body.Bytes())
		assert.Contains(t, body["detail"], "not valid for this session")
	})

	t.Run("expired_or_unknown", func(t *testing.T) {
		t.Parallel()

		api, _ := newTestAPI(t)
		id := uuid.New()
		ctx := middleware.WithSession(context.Background(), id, "artifacts:"+id.String())

		resp := api.GetCtx(ctx, "/sessions/"+id.String())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// POST /sessions/{id}/compute
// ---------------------------------------------------------------------------

func TestComputeSession(t *testing.T) {
	t.Parallel()

	api, sessions := newTestAPI(t)
	s := sessions.Create()

	resp := api.PostCtx(sessionCtx(s), "/sessions/"+s.ID.String()+"/compute")
	require.Equal(t, http.StatusAccepted, resp.Code)

	var out struct {
		Channel string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, s.Channel(), out.Channel)

	require.Eventually(t, func() bool {
		return len(s.Artifacts()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, host.StatusComputed, s.Status())
}
