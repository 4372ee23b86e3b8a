package actuate

import "github.com/rs/zerolog/log"

// LogOnly records requested actions without touching any hardware. It is
// the default backend: it lets the whole control plane run on hosts with
// no driver station attached, and every action "succeeds" so state
// transitions behave exactly as they would in production.
type LogOnly struct{}

func NewLogOnly() *LogOnly { return &LogOnly{} }

func (l *LogOnly) Enable() Result  { return l.simulate("enable") }
func (l *LogOnly) Disable() Result { return l.simulate("disable") }
func (l *LogOnly) EStop() Result   { return l.simulate("estop") }

func (l *LogOnly) SetMode(mode Mode) Result {
	log.Info().Str("mode", string(mode)).Msg("actuate: mode simulated (log-only backend)")
	return Result{Success: true, Message: "mode " + string(mode) + " simulated", Backend: "log-only"}
}

func (l *LogOnly) simulate(action string) Result {
	log.Info().Str("action", action).Msg("actuate: action simulated (log-only backend)")
	return Result{Success: true, Message: action + " simulated", Backend: "log-only"}
}
