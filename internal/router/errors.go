package router

import (
	"errors"
)

var (
	// ErrTimeout is returned when no matching response arrives before the deadline.
	ErrTimeout = errors.New("router: request timed out") //nolint:gochecknoglobals // sentinel error

	// ErrSend wraps a synchronous transport send failure.
	ErrSend = errors.New("router: send failed") //nolint:gochecknoglobals // sentinel error

	// ErrClosed is returned for requests outstanding when the router closes.
	ErrClosed = errors.New("router: closed") //nolint:gochecknoglobals // sentinel error

	// ErrDuplicateID is returned when a request id is already pending.
	ErrDuplicateID = errors.New("router: duplicate request id") //nolint:gochecknoglobals // sentinel error
)

// ApplicationError carries the error text of a response with success=false.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "router: application failure"
	}
	return "router: application failure: " + e.Message
}

// Describe renders err as display text: "Timeout" for deadlines, the carried
// text for application failures, the error string otherwise.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return "Timeout"
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Message == "" {
			return "Unknown error"
		}
		return appErr.Message
	}
	return err.Error()
}
