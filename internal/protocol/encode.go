package protocol

import (
	"encoding/json"
	"time"
)

type wireFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Encode serializes a frame to its wire form.
func Encode(f Frame) ([]byte, error) {
	payload := f.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(wireFrame{Type: string(f.Type), Payload: payload})
}

// Hello builds the registration frame. secret is optional; an empty
// string omits the field entirely so open servers see the legacy shape.
// The wire field is named "password" for compatibility with older
// driver stations.
func Hello(clientID, secret string) Frame {
	payload := map[string]any{"client_id": clientID}
	if secret != "" {
		payload["password"] = secret
	}
	return Frame{Type: KindHello, Payload: payload}
}

// Heartbeat builds a liveness frame stamped with the sender clock.
func Heartbeat(clientID string) Frame {
	return Frame{Type: KindHeartbeat, Payload: map[string]any{
		"client_id": clientID,
		"timestamp": UnixSeconds(time.Now()),
	}}
}

// Command builds an operator command frame.
func Command(clientID string, kind CommandKind) Frame {
	return Frame{Type: KindCommand, Payload: map[string]any{
		"client_id": clientID,
		"timestamp": UnixSeconds(time.Now()),
		"command":   string(kind),
	}}
}

// Status wraps a report with a server timestamp.
func Status(report StatusReport) Frame {
	payload := report.ToPayload()
	payload["timestamp"] = UnixSeconds(time.Now())
	return Frame{Type: KindStatus, Payload: payload}
}

// Error builds a diagnostic reply frame.
func Error(message string) Frame {
	return Frame{Type: KindError, Payload: map[string]any{
		"error":     message,
		"timestamp": UnixSeconds(time.Now()),
	}}
}

// UnixSeconds renders a timestamp the way the wire schema carries them:
// float seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
