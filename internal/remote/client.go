package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("remote: client not connected")
	ErrHandshakeTimeout = errors.New("remote: timed out waiting for status response from server")
	ErrConnectionLost   = errors.New("remote: connection lost")
)

// ServerError is an ERROR frame relayed from the station. It is
// diagnostic, not terminal; the flow keeps running.
type ServerError struct {
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("remote: server error: %s", e.Message)
}

const readPollInterval = 250 * time.Millisecond

// Config configures the client side of the control flow.
type Config struct {
	ServerHost         string
	ServerPort         int
	ClientID           string
	Secret             string // sent in HELLO when non-empty
	HeartbeatInterval  time.Duration
	HelloRetryInterval time.Duration
	HandshakeTimeout   time.Duration
}

func (c Config) WithDefaults() Config {
	if c.ServerHost == "" {
		c.ServerHost = "127.0.0.1"
	}
	if c.ServerPort == 0 {
		c.ServerPort = protocol.DefaultPort
	}
	if c.ClientID == "" {
		c.ClientID = "client"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 100 * time.Millisecond
	}
	if c.HelloRetryInterval <= 0 {
		c.HelloRetryInterval = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = time.Second
	}
	return c
}

// Client is a connected control-protocol client. Status reports and
// errors are delivered on channels; both are dropped, not blocked on,
// when the consumer falls behind.
type Client struct {
	cfg  Config
	conn *net.UDPConn

	statusCh chan protocol.StatusReport
	errorCh  chan error

	mu         sync.Mutex
	lastStatus protocol.StatusReport
	hasStatus  bool
	firstOnce  sync.Once
	firstCh    chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects, performs the HELLO handshake and starts the periodic
// loops. It fails with ErrHandshakeTimeout when the server never
// answers the registration with a STATUS frame.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	raddr := &net.UDPAddr{IP: net.ParseIP(cfg.ServerHost), Port: cfg.ServerPort}
	if raddr.IP == nil {
		ips, err := net.LookupIP(cfg.ServerHost)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("remote: resolve %s: %w", cfg.ServerHost, err)
		}
		raddr.IP = ips[0]
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s:%d: %w", cfg.ServerHost, cfg.ServerPort, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		statusCh: make(chan protocol.StatusReport, 16),
		errorCh:  make(chan error, 16),
		firstCh:  make(chan struct{}),
		cancel:   cancel,
	}

	c.wg.Add(1)
	go c.readLoop(runCtx)

	if err := c.handshake(runCtx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.wg.Add(2)
	go c.helloLoop(runCtx)
	go c.heartbeatLoop(runCtx)

	log.Info().
		Str("server", raddr.String()).
		Str("client_id", cfg.ClientID).
		Msg("remote: connected")
	return c, nil
}

// handshake sends HELLO and waits for the first STATUS, resending at
// the retry cadence in case the registration datagram was lost.
func (c *Client) handshake(ctx context.Context) error {
	c.sendFrame(protocol.Hello(c.cfg.ClientID, c.cfg.Secret))

	deadline := time.NewTimer(c.cfg.HandshakeTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(c.cfg.HelloRetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-c.firstCh:
			return nil
		case <-retry.C:
			c.sendFrame(protocol.Hello(c.cfg.ClientID, c.cfg.Secret))
		case <-deadline.C:
			return ErrHandshakeTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the loops, waits for them, then releases the socket.
// Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		err = c.conn.Close()
		close(c.statusCh)
		close(c.errorCh)
	})
	return err
}

// Status delivers every report the server sends. Closed on Close.
func (c *Client) Status() <-chan protocol.StatusReport { return c.statusCh }

// Errors delivers server ERROR frames as ServerError values and
// transport failures as ErrConnectionLost. Closed on Close.
func (c *Client) Errors() <-chan error { return c.errorCh }

// LastStatus returns the most recent report, if any arrived yet.
func (c *Client) LastStatus() (protocol.StatusReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus, c.hasStatus
}

// SendCommand submits one operator command. Delivery is best-effort;
// confirmation arrives as the next STATUS broadcast.
func (c *Client) SendCommand(kind protocol.CommandKind) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(protocol.Command(c.cfg.ClientID, kind))
	if err != nil {
		return fmt.Errorf("remote: encode command: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("remote: send command: %w", err)
	}
	log.Info().Str("command", string(kind)).Msg("remote: command sent")
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("remote: read error")
			c.pushError(ErrConnectionLost)
			c.cancel() // transport is gone; stop the periodic loops too
			return
		}
		c.handleDatagram(buf[:n])
	}
}

func (c *Client) handleDatagram(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Msg("remote: malformed datagram from server")
		return
	}

	switch frame.Type {
	case protocol.KindStatus:
		report := protocol.ReportFromPayload(frame.Payload)
		c.mu.Lock()
		c.lastStatus = report
		c.hasStatus = true
		c.mu.Unlock()
		c.firstOnce.Do(func() { close(c.firstCh) })
		select {
		case c.statusCh <- report:
		default: // consumer behind, drop
		}
	case protocol.KindError:
		msg := frame.StringField("error")
		if msg == "" {
			msg = "unknown error"
		}
		log.Error().Str("error", msg).Msg("remote: server error")
		c.pushError(ServerError{Message: msg})
	default:
		log.Debug().Str("type", string(frame.Type)).Msg("remote: unexpected frame type")
	}
}

// helloLoop keeps the registration fresh for the life of the flow, so
// a restarted server re-learns this client without operator action.
func (c *Client) helloLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HelloRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendFrame(protocol.Hello(c.cfg.ClientID, c.cfg.Secret))
		}
	}
}

// heartbeatLoop starts after one full interval; the HELLO that opened
// the flow already counts as liveness.
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendFrame(protocol.Heartbeat(c.cfg.ClientID))
		}
	}
}

func (c *Client) sendFrame(frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Error().Err(err).Msg("remote: encode failed")
		return
	}
	if _, err := c.conn.Write(data); err != nil {
		log.Warn().Err(err).Msg("remote: send failed")
	}
}

func (c *Client) pushError(err error) {
	select {
	case c.errorCh <- err:
	default:
	}
}
