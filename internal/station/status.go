package station

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/observability"
	"github.com/frclink/dsctl/internal/protocol"
)

// statusReportLocked builds a fresh report. Never cached; every send
// recomputes so connected_clients always equals the live table size.
func (s *Server) statusReportLocked() protocol.StatusReport {
	report := protocol.StatusReport{
		RobotState:       string(s.robotState),
		ConnectedClients: s.sessions.len(),
		DSState:          s.source.State(),
	}
	if s.lastCommandBy != "" {
		report.LastCommandBy = s.lastCommandBy
		report.LastCommandAt = protocol.UnixSeconds(s.lastCommandAt)
	}
	return report
}

// broadcastLocked pushes a fresh status to every session and to the
// attached sink. Sending under the lock is what keeps the broadcast
// consistent with the state it reports.
func (s *Server) broadcastLocked() {
	report := s.statusReportLocked()
	frame := protocol.Status(report)
	for _, sess := range s.sessions.all() {
		s.send(frame, sess.addr)
	}
	observability.RecordBroadcast()
	if s.sink != nil {
		s.sink(report)
	}
}

// broadcastLoop is the fixed-cadence unconditional status push,
// independent of command-triggered broadcasts.
func (s *Server) broadcastLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastTick()
		}
	}
}

func (s *Server) broadcastTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions.len() == 0 {
		now := s.now()
		if !now.Before(s.statusLogAt) {
			log.Debug().Msg("station: no connected clients; skipping broadcast")
			s.statusLogAt = now.Add(s.cfg.LogStatusEvery)
		}
		// the monitor feed still wants a pulse even with no UDP clients
		if s.sink != nil {
			s.sink(s.statusReportLocked())
		}
		return
	}
	s.broadcastLocked()
}
