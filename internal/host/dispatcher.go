package host

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/modality"
	"github.com/gosuda/multimodal/internal/protocol"
)

// Failure texts returned to clients.
const (
	errUnknownEvent   = "Unknown message event"
	errMissingAction  = "Missing action type"
	errUnknownAction  = "Unknown action: "
	errUnknownKind    = "Unknown modality: "
	errInvalidPayload = "Invalid payload: "
)

// modalityAliases maps legacy tab names onto modality kinds.
var modalityAliases = map[string]modality.Kind{ //nolint:gochecknoglobals // lookup table
	"dataframe": modality.KindTable,
}

// Dispatcher answers request envelopes for one session.
type Dispatcher struct {
	session *Session
}

func NewDispatcher(session *Session) *Dispatcher {
	return &Dispatcher{session: session}
}

// Handle answers one inbound envelope. It returns nil when the envelope has
// no message id to answer.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		log.Debug().Err(err).Str("session_id", d.session.ID.String()).Msg("host: ignoring unanswerable message")
		return nil
	}

	if req.Type != protocol.TypeRequest {
		return d.respond(req.MessageID, "", nil, errUnknownEvent)
	}
	if req.Action.Type == "" {
		return d.respond(req.MessageID, "", nil, errMissingAction)
	}

	switch req.Action.Type {
	case protocol.ActionInitWidget:
		d.session.Init()
		return d.respond(req.MessageID, req.Action.Type, nil, "")

	case protocol.ActionSelectModality:
		kind, failure := parseKind(req.Action.Payload, d.session.Kinds())
		if failure != "" {
			return d.respond(req.MessageID, req.Action.Type, nil, failure)
		}
		value, err := d.session.Produce(ctx, kind)
		if err != nil {
			return d.respond(req.MessageID, req.Action.Type, nil, err.Error())
		}
		return d.respond(req.MessageID, req.Action.Type, value, "")

	default:
		return d.respond(req.MessageID, req.Action.Type, nil, errUnknownAction+req.Action.Type)
	}
}

// Available returns the availability push announcing this session's modalities.
func (d *Dispatcher) Available() ([]byte, error) {
	kinds := d.session.Kinds()
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = string(k)
	}
	return protocol.EncodeAvailable(labels)
}

func (d *Dispatcher) respond(id, action string, payload json.RawMessage, failure string) []byte {
	d.session.metrics.requests.WithLabelValues(action, strconv.FormatBool(failure == "")).Inc()

	raw, err := protocol.EncodeResponse(protocol.Response{
		MessageID: id,
		Success:   failure == "",
		Error:     failure,
		Action:    protocol.ResponseAction{Type: action},
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("host: encode response")
		return nil
	}
	return raw
}

// parseKind resolves the selected modality against the kinds the session
// serves.
func parseKind(payload json.RawMessage, served []modality.Kind) (modality.Kind, string) {
	name, err := protocol.ParseSelectPayload(payload)
	if err != nil {
		return "", errInvalidPayload + err.Error()
	}
	name = strings.ToLower(strings.TrimSpace(name))
	kind := modality.Kind(name)
	if alias, ok := modalityAliases[name]; ok {
		kind = alias
	}
	if !slices.Contains(served, kind) {
		return "", errUnknownKind + name
	}
	return kind, ""
}
