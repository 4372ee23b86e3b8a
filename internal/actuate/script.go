package actuate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/tools"
)

var ErrNoScriptCommand = errors.New("actuate: no command configured for action")

// ScriptConfig maps each action to a host command line. Empty entries
// fail at actuation time rather than at startup: an operator may
// legitimately configure only the actions their rig supports.
type ScriptConfig struct {
	Enable  []string
	Disable []string
	EStop   []string
	SetMode []string // mode name is appended as the final argument
	Timeout time.Duration
}

// Script is the shell-out actuation backend: each action runs a
// configured host command, and the exit code decides success.
type Script struct {
	cfg    ScriptConfig
	runner tools.CommandRunner
}

func NewScript(cfg ScriptConfig) *Script {
	return &Script{cfg: cfg, runner: tools.ExecRunner{Timeout: cfg.Timeout}}
}

func (s *Script) Enable() Result  { return s.run("enable", s.cfg.Enable) }
func (s *Script) Disable() Result { return s.run("disable", s.cfg.Disable) }
func (s *Script) EStop() Result   { return s.run("estop", s.cfg.EStop) }

func (s *Script) SetMode(mode Mode) Result {
	if len(s.cfg.SetMode) == 0 {
		return s.run("set_mode", nil)
	}
	argv := append(append([]string(nil), s.cfg.SetMode...), string(mode))
	return s.run("set_mode", argv)
}

func (s *Script) run(action string, argv []string) Result {
	if len(argv) == 0 {
		log.Error().Str("action", action).Msg("actuate: script action not configured")
		return Result{Success: false, Message: ErrNoScriptCommand.Error(), Backend: "script"}
	}

	stdout, stderr, exitCode, err := s.runner.Run(context.Background(), argv[0], argv[1:]...)
	if err != nil {
		log.Error().
			Str("action", action).
			Str("command", argv[0]).
			Int("exit_code", exitCode).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Err(err).
			Msg("actuate: script action failed")
		return Result{Success: false, Message: strings.TrimSpace(string(stderr)), Backend: "script"}
	}

	log.Info().
		Str("action", action).
		Str("command", argv[0]).
		Msg("actuate: script action executed")
	return Result{Success: true, Message: strings.TrimSpace(string(stdout)), Backend: "script"}
}
