// Package store holds the artifact event brokers the host publishes to and
// the event-stream binding subscribes from.
package store

import (
	"context"

	"github.com/google/uuid"
)

// Broker fans published payloads out to every subscriber of a channel.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Ping(ctx context.Context) error
	Close() error
}

// ArtifactChannel returns the channel carrying artifact events for a session.
func ArtifactChannel(sessionID uuid.UUID) string {
	return "artifacts:" + sessionID.String()
}
