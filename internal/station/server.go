package station

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/actuate"
	"github.com/frclink/dsctl/internal/auth"
	"github.com/frclink/dsctl/internal/detect"
	"github.com/frclink/dsctl/internal/observability"
	"github.com/frclink/dsctl/internal/protocol"
)

const readPollInterval = 250 * time.Millisecond

// Config configures the control server.
type Config struct {
	Host             string
	Port             int
	HeartbeatTimeout time.Duration
	StatusInterval   time.Duration
	LogStatusEvery   time.Duration
	RequireHello     bool
	Secret           string // empty disables HELLO authentication
}

func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 250 * time.Millisecond
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 100 * time.Millisecond
	}
	if c.LogStatusEvery <= 0 {
		c.LogStatusEvery = 5 * time.Second
	}
	return c
}

// StatusSink receives every status report the server emits. Called with
// the server lock held; implementations must not block.
type StatusSink func(protocol.StatusReport)

// Server owns the safety state, the session table and the transport.
type Server struct {
	cfg       Config
	exec      actuate.Executor
	source    detect.Source
	validator auth.Validator
	sink      StatusSink

	conn *net.UDPConn
	send func(frame protocol.Frame, addr *net.UDPAddr)
	now  func() time.Time

	mu            sync.Mutex
	sessions      sessionTable
	robotState    SafetyState
	lastCommandBy string
	lastCommandAt time.Time
	statusLogAt   time.Time

	started   time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a server in the disabled state. Start must be called
// before it serves anything.
func New(cfg Config, exec actuate.Executor) *Server {
	cfg = cfg.WithDefaults()
	s := &Server{
		cfg:        cfg,
		exec:       exec,
		source:     detect.None{},
		validator:  auth.SharedSecret{Secret: cfg.Secret},
		sessions:   newSessionTable(),
		robotState: StateDisabled,
		now:        time.Now,
	}
	s.send = s.sendFrame
	return s
}

// AttachDetect wires the optional display-state source. Call before Start.
func (s *Server) AttachDetect(source detect.Source) {
	if source != nil {
		s.source = source
	}
}

// AttachStatusSink wires an extra consumer of every emitted status
// report (the monitor's websocket feed). Call before Start.
func (s *Server) AttachStatusSink(sink StatusSink) {
	s.sink = sink
}

// Start binds the UDP socket and launches the receive, watchdog and
// broadcast loops. The loops stop when ctx is cancelled or Close is
// called.
func (s *Server) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("station: bind %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.conn = conn
	s.started = s.now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.recvLoop(runCtx)
	go s.watchdogLoop(runCtx)
	go s.broadcastLoop(runCtx)

	log.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Dur("heartbeat_timeout", s.cfg.HeartbeatTimeout).
		Bool("require_hello", s.cfg.RequireHello).
		Msg("station: listening")
	return nil
}

// Close stops all loops, waits for them, and only then releases the
// socket, so nothing can transmit after shutdown.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// StartedAt reports when Start bound the socket.
func (s *Server) StartedAt() time.Time { return s.started }

// Snapshot builds a fresh status report for out-of-band consumers.
func (s *Server) Snapshot() protocol.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusReportLocked()
}

// recvLoop reads datagrams until shutdown. Reads poll with a short
// deadline so cancellation is observed without closing the socket out
// from under an in-flight handler.
func (s *Server) recvLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("station: read error")
			continue
		}
		s.handleDatagram(buf[:n], addr)
	}
}

// handleDatagram decodes and dispatches one inbound frame. Every
// protocol-level failure is contained here: reply with ERROR and keep
// serving.
func (s *Server) handleDatagram(data []byte, addr *net.UDPAddr) {
	frame, err := protocol.Decode(data)
	if err != nil {
		observability.RecordDecodeFailure()
		log.Error().Err(err).Str("from", addr.String()).Msg("station: invalid packet")
		s.send(protocol.Error(err.Error()), addr)
		return
	}
	observability.RecordFrame(string(frame.Type))

	switch frame.Type {
	case protocol.KindHello:
		s.handleHello(frame, addr)
	case protocol.KindHeartbeat:
		s.handleHeartbeat(frame, addr)
	case protocol.KindCommand:
		s.handleCommand(frame, addr)
	case protocol.KindStatus:
		// server is authoritative; a client STATUS is dropped on the floor
		log.Debug().Str("from", addr.String()).Msg("station: ignoring client STATUS")
	case protocol.KindError:
		log.Warn().
			Str("from", addr.String()).
			Str("error", frame.StringField("error")).
			Msg("station: client reported error")
	}
}

func (s *Server) handleHello(frame protocol.Frame, addr *net.UDPAddr) {
	id, ok := frame.ClientID()
	if !ok {
		log.Error().Str("from", addr.String()).Msg("station: hello missing client_id")
		s.send(protocol.Error("client_id required"), addr)
		return
	}
	if err := s.validator.Validate(frame.StringField("password")); err != nil {
		log.Warn().Str("client_id", id).Str("from", addr.String()).Msg("station: hello rejected")
		observability.RecordCommandRejected("unauthorized")
		s.send(protocol.Error("unauthorized"), addr)
		return
	}

	s.mu.Lock()
	created := s.sessions.registerOrRefresh(id, addr, s.now())
	observability.SetConnectedClients(s.sessions.len())
	report := s.statusReportLocked()
	s.mu.Unlock()

	if created {
		log.Info().Str("client_id", id).Str("from", addr.String()).Msg("station: client registered")
	} else {
		log.Debug().Str("client_id", id).Str("from", addr.String()).Msg("station: client refreshed hello")
	}

	// point-to-point reply so a fresh client learns the state without
	// waiting out the broadcast cadence
	s.send(protocol.Status(report), addr)
}

func (s *Server) handleHeartbeat(frame protocol.Frame, addr *net.UDPAddr) {
	id, ok := frame.ClientID()
	if !ok {
		log.Error().Str("from", addr.String()).Msg("station: heartbeat missing client_id")
		s.send(protocol.Error("client_id required"), addr)
		return
	}

	s.mu.Lock()
	err := s.sessions.touch(id, addr, s.now(), s.cfg.RequireHello)
	observability.SetConnectedClients(s.sessions.len())
	s.mu.Unlock()

	if errors.Is(err, ErrUnregistered) {
		log.Warn().Str("client_id", id).Str("from", addr.String()).Msg("station: heartbeat from unknown client")
		s.send(protocol.Error("send HELLO before HEARTBEAT"), addr)
	}
	// heartbeats are fire-and-forget; success gets no reply
}

func (s *Server) handleCommand(frame protocol.Frame, addr *net.UDPAddr) {
	id, ok := frame.ClientID()
	if !ok {
		log.Error().Str("from", addr.String()).Msg("station: command missing client_id")
		s.send(protocol.Error("client_id required"), addr)
		return
	}

	kind, parseErr := protocol.ParseCommandKind(frame.StringField("command"))

	// The lock is released by defer so a misbehaving executor cannot
	// unwind out of here with s.mu held and wedge every other loop.
	// Broadcasts already go out under the lock; the rejection replies
	// below follow the same discipline.
	s.mu.Lock()
	defer s.mu.Unlock()

	// unconditional, independent of require_hello: an unauthenticated
	// command must never reach the state machine
	if !s.sessions.has(id) {
		log.Warn().Str("client_id", id).Msg("station: command from unregistered client")
		observability.RecordCommandRejected("not_registered")
		s.send(protocol.Error("client not registered; send HELLO first"), addr)
		return
	}
	if parseErr != nil {
		log.Warn().Str("client_id", id).Str("command", frame.StringField("command")).Msg("station: unknown command")
		observability.RecordCommandRejected("unknown_command")
		s.send(protocol.Error("unknown command"), addr)
		return
	}
	// estop latches: only DISABLE releases it. ENABLE while estopped
	// must not even reach the executor.
	if kind == protocol.CmdEnable && s.robotState == StateEStop {
		log.Warn().Str("client_id", id).Msg("station: enable refused while estopped")
		observability.RecordCommandRejected("estop_latched")
		s.send(protocol.Error("estop latched; send DISABLE first"), addr)
		return
	}
	s.applyCommandLocked(kind, id)
}

func (s *Server) sendFrame(frame protocol.Frame, addr *net.UDPAddr) {
	if s.conn == nil {
		log.Error().Msg("station: attempted send without active transport")
		return
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Error().Err(err).Msg("station: encode failed")
		return
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		log.Warn().Err(err).Str("to", addr.String()).Msg("station: send failed")
	}
}
