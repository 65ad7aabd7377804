package protocol

import (
	"encoding/json"
	"fmt"
)

// TypeAvailable marks a host push announcing which modalities can be requested.
const TypeAvailable = "available"

// Available is pushed by a host when new modalities become available.
type Available struct {
	Type       string   `json:"type"`
	Modalities []string `json:"modalities"`
}

// PeekType returns the envelope discriminator without decoding the rest.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("protocol.PeekType: %w: %w", ErrMalformedMessage, err)
	}
	return head.Type, nil
}

// EncodeAvailable serializes an availability push.
func EncodeAvailable(modalities []string) ([]byte, error) {
	data, err := json.Marshal(Available{Type: TypeAvailable, Modalities: modalities})
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeAvailable: %w", err)
	}
	return data, nil
}

// DecodeAvailable parses an availability push.
func DecodeAvailable(raw []byte) (Available, error) {
	var a Available
	if err := json.Unmarshal(raw, &a); err != nil {
		return Available{}, fmt.Errorf("protocol.DecodeAvailable: %w: %w", ErrMalformedMessage, err)
	}
	if a.Type != TypeAvailable {
		return Available{}, fmt.Errorf("protocol.DecodeAvailable: %w: type %q", ErrMalformedMessage, a.Type)
	}
	return a, nil
}
