package station

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/observability"
	"github.com/frclink/dsctl/internal/protocol"
)

// watchdogLoop evicts clients that stop heartbeating and forces the
// robot safe when nobody is left to command it. Ticks at half the
// heartbeat timeout so a stale session is caught within one timeout
// window of going silent.
func (s *Server) watchdogLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWatchdogTick()
		}
	}
}

// runWatchdogTick isolates tick failures: a panic in one tick is
// logged and the loop keeps running. The watchdog dying silently
// would defeat its purpose.
func (s *Server) runWatchdogTick() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("station: watchdog tick panicked")
		}
	}()
	s.watchdogTick(s.now())
}

func (s *Server) watchdogTick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := s.sessions.evictStale(now, s.cfg.HeartbeatTimeout)
	for _, id := range evicted {
		log.Warn().Str("client_id", id).Msg("station: evicted stale client")
	}
	if len(evicted) > 0 {
		observability.RecordWatchdogEvictions(len(evicted))
		observability.SetConnectedClients(s.sessions.len())
	}

	// Force-disable only while enabled: a disabled robot is already
	// safe, and an estopped robot must stay latched until an operator
	// explicitly disables it.
	if s.robotState != StateEnabled {
		return
	}
	if len(evicted) == 0 && s.sessions.len() > 0 {
		return
	}

	log.Error().
		Int("evicted", len(evicted)).
		Int("connected", s.sessions.len()).
		Msg("station: no live operator while enabled; forcing disable")
	observability.RecordWatchdogDisable()
	s.applyCommandLocked(protocol.CmdDisable, WatchdogActor)
}
