package server

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/host"
	"github.com/gosuda/multimodal/internal/server/middleware"
)

const viewerTemplate = "viewer/index.html"

// newViewerHandler serves the standalone viewer with the caller's session
// artifacts injected into the page.
func newViewerHandler(sessions *host.Sessions, assets fs.FS) (http.HandlerFunc, error) {
	tmpl, err := template.ParseFS(assets, viewerTemplate)
	if err != nil {
		return nil, fmt.Errorf("server.newViewerHandler: %w", err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.SessionIDFromContext(r.Context())
		if !ok {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}
		s, err := sessions.Get(id)
		if err != nil {
			if errors.Is(err, host.ErrSessionNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
			return
		}

		data, err := s.ViewerData(r.Context())
		if err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("viewer: assemble data")
			http.Error(w, "failed to assemble artifacts", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
			log.Error().Err(err).Msg("viewer: render")
		}
	}, nil
}
