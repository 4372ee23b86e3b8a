package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one datagram into a frame. Failures map to the sentinel
// errors in errors.go; callers reply with the error text verbatim.
func Decode(data []byte) (Frame, error) {
	var raw struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if raw.Type == "" {
		return Frame{}, ErrMissingType
	}
	kind, err := ParseMessageKind(raw.Type)
	if err != nil {
		return Frame{}, err
	}

	payload := map[string]any{}
	if len(raw.Payload) > 0 && !bytes.Equal(raw.Payload, []byte("null")) {
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	return Frame{Type: kind, Payload: payload}, nil
}
