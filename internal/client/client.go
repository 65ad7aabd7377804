// Package client connects the widget to a host: it bootstraps a session
// over HTTP and builds the transport adapter for the configured binding.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	sessionsPath   = "/api/v1/sessions"
	bootstrapLimit = 1 << 20
)

// ErrBootstrap is returned when the host refuses a session call.
var ErrBootstrap = errors.New("client: session bootstrap failed") //nolint:gochecknoglobals // sentinel error

// Session is a host session the client is bound to.
type Session struct {
	ID         uuid.UUID `json:"session_id"`
	Token      string    `json:"token"`
	Channel    string    `json:"channel"`
	ExpiresAt  time.Time `json:"expires_at"`
	Modalities []string  `json:"modalities"`
}

// API calls the host's session endpoints.
type API struct {
	baseURL string
	client  *http.Client
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// CreateSession starts a host session and returns its token.
func (a *API) CreateSession(ctx context.Context) (Session, error) {
	var s Session
	if err := a.post(ctx, sessionsPath, "", http.StatusOK, &s); err != nil {
		return Session{}, fmt.Errorf("client.API.CreateSession: %w", err)
	}
	if s.Token == "" || s.Channel == "" {
		return Session{}, fmt.Errorf("client.API.CreateSession: %w: incomplete session", ErrBootstrap)
	}
	return s, nil
}

// Compute asks the host to produce every modality of s and publish the
// events on its channel.
func (a *API) Compute(ctx context.Context, s Session) error {
	path := sessionsPath + "/" + s.ID.String() + "/compute"
	if err := a.post(ctx, path, s.Token, http.StatusAccepted, nil); err != nil {
		return fmt.Errorf("client.API.Compute: %w", err)
	}
	return nil
}

func (a *API) post(ctx context.Context, path, token string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, bootstrapLimit))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%w: http %d: %s", ErrBootstrap, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
