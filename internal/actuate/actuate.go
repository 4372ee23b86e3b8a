// Package actuate is the boundary to whatever mechanism actually flips
// the robot-enable state on the driver-station host. The station core
// treats every backend as a black box that reports a Result; only the
// ENABLE success flag ever gates a state transition.
package actuate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/frclink/dsctl/internal/protocol"
)

var ErrUnknownBackend = errors.New("actuate: unknown backend")

// Result is one actuation outcome. Message and Backend are for logging
// only; control flow never inspects them.
type Result struct {
	Success bool
	Message string
	Backend string
}

// Mode is a robot operating mode. Mode selection is orthogonal to the
// safety state.
type Mode string

const (
	ModeTeleop   Mode = "teleoperated"
	ModeAuto     Mode = "autonomous"
	ModePractice Mode = "practice"
	ModeTest     Mode = "test"
)

// ModeFor maps a mode-select command to its Mode. Returns false for the
// safety commands, which have no mode.
func ModeFor(kind protocol.CommandKind) (Mode, bool) {
	switch kind {
	case protocol.CmdTeleop:
		return ModeTeleop, true
	case protocol.CmdAuto:
		return ModeAuto, true
	case protocol.CmdPractice:
		return ModePractice, true
	case protocol.CmdTest:
		return ModeTest, true
	default:
		return "", false
	}
}

// Executor applies validated commands to the underlying enable mechanism.
type Executor interface {
	Enable() Result
	Disable() Result
	EStop() Result
	SetMode(mode Mode) Result
}

// Closer is implemented by backends that hold resources (sockets, loops).
type Closer interface {
	Close() error
}

// ForBackend builds the configured executor. Recognized names: "log"
// (default), "fms" and "script".
func ForBackend(name string, fms FMSConfig, script ScriptConfig) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "log":
		return NewLogOnly(), nil
	case "fms":
		return DialFMS(fms)
	case "script":
		return NewScript(script), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
