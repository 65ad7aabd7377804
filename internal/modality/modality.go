package modality

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind identifies one requestable artifact kind.
type Kind string

const (
	KindChart       Kind = "chart"
	KindDescription Kind = "description"
	KindTable       Kind = "table"
)

// DefaultKinds is the modality set used when a deployment does not configure one.
func DefaultKinds() []Kind {
	return []Kind{KindChart, KindDescription, KindTable}
}

// ParseKinds normalizes a list of labels into kinds, dropping blanks and duplicates.
func ParseKinds(labels []string) []Kind {
	kinds := make([]Kind, 0, len(labels))
	seen := make(map[Kind]struct{}, len(labels))
	for _, l := range labels {
		k := Kind(strings.ToLower(strings.TrimSpace(l)))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds
}

// Status is the lifecycle position of a modality's latest request.
type Status string

const (
	StatusInitial Status = "initial"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// State is the externally visible state of one modality.
// Value is set only when Status is ready; Error only when Status is failed.
type State struct {
	Status Status          `json:"status"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Change is delivered to subscribers after every accepted transition.
type Change struct {
	Kind      Kind
	RequestID string
	State     State
}

// Sentinel errors for rejected transitions.
var (
	ErrUnknownModality   = errors.New("modality: unknown modality")   //nolint:gochecknoglobals // sentinel error
	ErrStaleRequest      = errors.New("modality: stale request")      //nolint:gochecknoglobals // sentinel error
	ErrInvalidTransition = errors.New("modality: invalid transition") //nolint:gochecknoglobals // sentinel error
)
