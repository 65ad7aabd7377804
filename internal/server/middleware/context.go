package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeySessionID contextKey = "session_id"
	ContextKeyChannel   contextKey = "channel"
)

// WithSession returns ctx carrying an authenticated session.
func WithSession(ctx context.Context, sessionID uuid.UUID, channel string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
	return context.WithValue(ctx, ContextKeyChannel, channel)
}

func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeySessionID).(uuid.UUID)
	return v, ok
}

func ChannelFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyChannel).(string)
	return v, ok
}
