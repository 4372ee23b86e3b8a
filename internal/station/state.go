package station

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/actuate"
	"github.com/frclink/dsctl/internal/observability"
	"github.com/frclink/dsctl/internal/protocol"
)

// SafetyState is the authoritative robot arming state. One copy exists,
// owned by the Server; clients only ever cache what STATUS told them.
type SafetyState string

const (
	StateDisabled SafetyState = "disabled"
	StateEnabled  SafetyState = "enabled"
	StateEStop    SafetyState = "estop"
)

// WatchdogActor is the synthetic sender recorded when the watchdog
// forces a transition.
const WatchdogActor = "watchdog"

// applyCommandLocked runs one validated command through the state
// machine and broadcasts the resulting status. Callers hold s.mu, which
// is what makes apply-then-broadcast atomic.
//
// The asymmetry here is deliberate and load-bearing: ENABLE only takes
// effect when the executor confirms it, but DISABLE and ESTOP always
// record the safe state even when actuation fails. Losing track of an
// intent to disable is the one mistake this system must never make.
func (s *Server) applyCommandLocked(kind protocol.CommandKind, actor string) {
	var result actuate.Result
	switch kind {
	case protocol.CmdEnable:
		result = runExecutor(s.exec.Enable)
		if result.Success {
			s.robotState = StateEnabled
		}
	case protocol.CmdEStop:
		// safe state is recorded before the executor runs; no backend
		// failure mode may leave an estop unlatched
		s.robotState = StateEStop
		result = runExecutor(s.exec.EStop)
	case protocol.CmdDisable:
		s.robotState = StateDisabled
		result = runExecutor(s.exec.Disable)
	default:
		mode, ok := actuate.ModeFor(kind)
		if !ok {
			// dispatch validated the kind already; nothing to do
			return
		}
		result = runExecutor(func() actuate.Result { return s.exec.SetMode(mode) })
	}

	s.lastCommandBy = actor
	s.lastCommandAt = s.now()
	observability.RecordCommand(string(kind), actor, result.Success)

	log.Info().
		Str("command", string(kind)).
		Str("actor", actor).
		Str("backend", result.Backend).
		Bool("success", result.Success).
		Str("robot_state", string(s.robotState)).
		Msg("station: command applied")
	if !result.Success {
		log.Warn().
			Str("command", string(kind)).
			Str("actor", actor).
			Str("message", result.Message).
			Msg("station: executor reported failure")
	}

	s.broadcastLocked()
}

// runExecutor shields the state machine from a misbehaving backend: a
// panic is converted into a failed Result instead of unwinding through
// the command handler.
func runExecutor(fn func() actuate.Result) (result actuate.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("station: executor panicked")
			result = actuate.Result{Success: false, Message: fmt.Sprintf("executor panic: %v", r)}
		}
	}()
	return fn()
}
