package v1

import (
	"github.com/google/uuid"

	"github.com/gosuda/multimodal/internal/host"
)

// SessionStore abstracts the session registry for handler testing.
// *host.Sessions satisfies this interface.
type SessionStore interface {
	Create() *host.Session
	Get(id uuid.UUID) (*host.Session, error)
}
