package protocol

import (
	"fmt"
	"strings"
)

// DefaultPort is the UDP port the station server binds by default.
const DefaultPort = 8750

// MessageKind identifies the payload schema of a frame. Closed set.
type MessageKind string

const (
	KindHello     MessageKind = "HELLO"
	KindHeartbeat MessageKind = "HEARTBEAT"
	KindCommand   MessageKind = "COMMAND"
	KindStatus    MessageKind = "STATUS"
	KindError     MessageKind = "ERROR"
)

// ParseMessageKind maps a wire type string to a MessageKind.
func ParseMessageKind(raw string) (MessageKind, error) {
	switch MessageKind(raw) {
	case KindHello, KindHeartbeat, KindCommand, KindStatus, KindError:
		return MessageKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

// CommandKind is the operator command vocabulary. Only CmdEnable,
// CmdDisable and CmdEStop touch the safety state; the mode-select
// commands are orthogonal to it.
type CommandKind string

const (
	CmdEnable  CommandKind = "enable"
	CmdDisable CommandKind = "disable"
	CmdEStop   CommandKind = "estop"

	CmdTeleop   CommandKind = "teleop"
	CmdAuto     CommandKind = "auto"
	CmdPractice CommandKind = "practice"
	CmdTest     CommandKind = "test"
)

// ParseCommandKind maps a wire command string to a CommandKind.
func ParseCommandKind(raw string) (CommandKind, error) {
	switch CommandKind(strings.TrimSpace(raw)) {
	case CmdEnable:
		return CmdEnable, nil
	case CmdDisable:
		return CmdDisable, nil
	case CmdEStop:
		return CmdEStop, nil
	case CmdTeleop:
		return CmdTeleop, nil
	case CmdAuto:
		return CmdAuto, nil
	case CmdPractice:
		return CmdPractice, nil
	case CmdTest:
		return CmdTest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}
}

// Frame is one protocol message. Immutable once constructed.
type Frame struct {
	Type    MessageKind
	Payload map[string]any
}

// ClientID extracts the string client_id payload field. The second return
// is false when the field is missing or not a string.
func (f Frame) ClientID() (string, bool) {
	v, ok := f.Payload["client_id"]
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// StringField returns a string payload field, or "" when absent.
func (f Frame) StringField(key string) string {
	if v, ok := f.Payload[key].(string); ok {
		return v
	}
	return ""
}
