package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/auth"
	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
)

type CreateSessionInput struct{}

type SessionToken struct {
	SessionID  uuid.UUID `json:"session_id" doc:"Widget session ID"`
	Token      string    `json:"token" doc:"Bearer token scoped to the session"`
	Channel    string    `json:"channel" doc:"Event channel carrying artifact events"`
	ExpiresAt  time.Time `json:"expires_at" doc:"Token expiry"`
	Modalities []string  `json:"modalities" doc:"Modalities the session can produce"`
}

type CreateSessionOutput struct {
	Body SessionToken
}

type SessionPathInput struct {
	ID uuid.UUID `path:"id" doc:"Widget session ID"`
}

type SessionStatus struct {
	SessionID  uuid.UUID `json:"session_id"`
	Status     string    `json:"status" enum:"initializing,initialized,computing,computed,failed"`
	Modalities []string  `json:"modalities"`
	Produced   []string  `json:"produced" doc:"Modalities already computed and cached"`
	CreatedAt  time.Time `json:"created_at"`
}

type GetSessionOutput struct {
	Body SessionStatus
}

type ComputeOutput struct {
	Body struct {
		Channel string `json:"channel" doc:"Channel the production events are published on"`
	}
}

// RegisterSessionRoutes registers the unauthenticated session bootstrap.
func RegisterSessionRoutes(api huma.API, sessions SessionStore, secret string, ttl time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a widget session and issue its token",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *CreateSessionInput) (*CreateSessionOutput, error) {
		s := sessions.Create()
		token, err := auth.IssueSessionToken(secret, s.ID, s.Channel(), ttl)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to issue session token", err)
		}

		return &CreateSessionOutput{Body: SessionToken{
			SessionID:  s.ID,
			Token:      token,
			Channel:    s.Channel(),
			ExpiresAt:  s.Created.Add(ttl),
			Modalities: kindLabels(s),
		}}, nil
	})
}

// RegisterArtifactRoutes registers the session-scoped routes. baseCtx bounds
// background productions started by compute.
func RegisterArtifactRoutes(baseCtx context.Context, api huma.API, sessions SessionStore) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a widget session's status",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SessionPathInput) (*GetSessionOutput, error) {
		s, err := ownedSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		produced := make([]string, 0, len(s.Kinds()))
		artifacts := s.Artifacts()
		for _, k := range s.Kinds() {
			if _, ok := artifacts[k]; ok {
				produced = append(produced, string(k))
			}
		}

		return &GetSessionOutput{Body: SessionStatus{
			SessionID:  s.ID,
			Status:     string(s.Status()),
			Modalities: kindLabels(s),
			Produced:   produced,
			CreatedAt:  s.Created,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "compute-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/compute",
		Summary:       "Produce every modality and publish the events",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SessionPathInput) (*ComputeOutput, error) {
		s, err := ownedSession(ctx, sessions, input.ID)
		if err != nil {
			return nil, err
		}

		go func() {
			s.ProduceAll(baseCtx)
			log.Debug().Str("session_id", s.ID.String()).Str("status", string(s.Status())).Msg("v1: compute finished")
		}()

		out := &ComputeOutput{}
		out.Body.Channel = s.Channel()
		return out, nil
	})
}

func ownedSession(ctx context.Context, sessions SessionStore, id uuid.UUID) (*host.Session, error) {
	caller, ok := middleware.SessionIDFromContext(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("missing session context")
	}
	if caller != id {
		return nil, huma.Error403Forbidden("token is not valid for this session")
	}

	s, err := sessions.Get(id)
	if err != nil {
		if errors.Is(err, host.ErrSessionNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error500InternalServerError("failed to get session", err)
	}
	return s, nil
}

func kindLabels(s *host.Session) []string {
	kinds := s.Kinds()
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = string(k)
	}
	return labels
}
