package actuate

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FMS speaks the field-management UDP protocol straight at the driver
// station, bypassing its on-screen controls entirely.
const (
	fmsSendPort   = 1121
	fmsListenPort = 1160

	fmsFlagAuto    = 0x02
	fmsFlagEnabled = 0x04
	fmsFlagEStop   = 0x80

	fmsFlagRadioLinked = 0x10
	fmsFlagRobotLinked = 0x20
)

var ErrBadAllianceStation = errors.New("actuate: invalid alliance station")

// AlliancePosition is the field slot the controlled team occupies.
type AlliancePosition byte

const (
	StationR1 AlliancePosition = iota
	StationR2
	StationR3
	StationB1
	StationB2
	StationB3
)

// ParseAlliancePosition maps "R1".."B3" to a station slot.
func ParseAlliancePosition(raw string) (AlliancePosition, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "R1":
		return StationR1, nil
	case "R2":
		return StationR2, nil
	case "R3":
		return StationR3, nil
	case "B1":
		return StationB1, nil
	case "B2":
		return StationB2, nil
	case "B3":
		return StationB3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadAllianceStation, raw)
	}
}

// FMSConfig configures the FMS backend.
type FMSConfig struct {
	TeamID          int
	AllianceStation string
	DSAddress       string
	SendInterval    time.Duration // control packet keepalive cadence
}

func (c FMSConfig) withDefaults() FMSConfig {
	if c.DSAddress == "" {
		c.DSAddress = "127.0.0.1"
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 500 * time.Millisecond
	}
	return c
}

// FMS is the field-management actuation backend. The driver station
// treats a silent FMS as a lost field link, so a keepalive loop resends
// the current control packet at the configured cadence.
type FMS struct {
	cfg     FMSConfig
	station AlliancePosition

	conn     *net.UDPConn // control packets to the DS
	listener *net.UDPConn // DS status packets back to us

	mu          sync.Mutex
	packetCount uint16
	auto        bool
	enabled     bool
	estop       bool

	dsLinked       bool
	radioLinked    bool
	robotLinked    bool
	batteryVoltage float64
	lastDSPacket   time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialFMS opens both FMS sockets and starts the keepalive and DS status
// listener loops.
func DialFMS(cfg FMSConfig) (*FMS, error) {
	cfg = cfg.withDefaults()
	station, err := ParseAlliancePosition(cfg.AllianceStation)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.DSAddress, fmsSendPort))
	if err != nil {
		return nil, fmt.Errorf("actuate: resolve ds address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("actuate: dial ds: %w", err)
	}
	listener, err := net.ListenUDP("udp", &net.UDPAddr{Port: fmsListenPort})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("actuate: bind ds status port: %w", err)
	}

	f := &FMS{
		cfg:      cfg,
		station:  station,
		conn:     conn,
		listener: listener,
		done:     make(chan struct{}),
	}
	f.wg.Add(2)
	go f.keepaliveLoop()
	go f.listenLoop()
	log.Info().
		Int("team", cfg.TeamID).
		Str("station", cfg.AllianceStation).
		Str("ds", cfg.DSAddress).
		Msg("actuate: fms backend connected")
	return f, nil
}

func (f *FMS) Enable() Result {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
	return f.send("enable")
}

func (f *FMS) Disable() Result {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
	return f.send("disable")
}

func (f *FMS) EStop() Result {
	f.mu.Lock()
	f.estop = true
	f.enabled = false
	f.mu.Unlock()
	return f.send("estop")
}

// SetMode toggles the autonomous flag; the FMS packet has no notion of
// practice or test, so those map to teleoperated.
func (f *FMS) SetMode(mode Mode) Result {
	f.mu.Lock()
	f.auto = mode == ModeAuto
	f.mu.Unlock()
	return f.send("mode " + string(mode))
}

// Linked reports whether the driver station has acknowledged us recently.
func (f *FMS) Linked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dsLinked
}

// BatteryVoltage returns the last voltage reported by the robot, 0 when
// the robot has never linked.
func (f *FMS) BatteryVoltage() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batteryVoltage
}

// Close stops both loops and releases the sockets. Safe to call more
// than once.
func (f *FMS) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		_ = f.conn.Close()
		_ = f.listener.Close()
		f.wg.Wait()
	})
	return nil
}

func (f *FMS) send(action string) Result {
	f.mu.Lock()
	packet := encodeControlPacket(f.packetCount, f.auto, f.enabled, f.estop, f.station, time.Now())
	f.packetCount++
	f.mu.Unlock()

	if _, err := f.conn.Write(packet); err != nil {
		log.Error().Err(err).Str("action", action).Msg("actuate: fms send failed")
		return Result{Success: false, Message: fmt.Sprintf("fms %s failed: %v", action, err), Backend: "fms"}
	}
	return Result{Success: true, Message: action + " sent via fms", Backend: "fms"}
}

func (f *FMS) keepaliveLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.send("keepalive")
		}
	}
}

func (f *FMS) listenLoop() {
	defer f.wg.Done()
	buf := make([]byte, 50)
	for {
		n, _, err := f.listener.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("actuate: fms status listener error")
			continue
		}
		f.handleDSStatus(buf[:n])
	}
}

// handleDSStatus parses the short status packet the driver station sends
// back: team echo at bytes 4-5, link flags in byte 3, battery voltage in
// bytes 6-7 as volts + fraction/256.
func (f *FMS) handleDSStatus(data []byte) {
	if len(data) < 8 {
		return
	}
	team := int(data[4])<<8 | int(data[5])
	if team != f.cfg.TeamID {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dsLinked = true
	f.lastDSPacket = time.Now()
	f.radioLinked = data[3]&fmsFlagRadioLinked != 0
	f.robotLinked = data[3]&fmsFlagRobotLinked != 0
	if f.robotLinked {
		f.batteryVoltage = float64(data[6]) + float64(data[7])/256
	}
}

// encodeControlPacket builds the 22-byte FMS control packet: sequence
// counter, control flags, station slot, match info, wall clock, and match
// seconds remaining, all big endian.
func encodeControlPacket(count uint16, auto, enabled, estop bool, station AlliancePosition, now time.Time) []byte {
	packet := make([]byte, 22)
	packet[0] = byte(count >> 8)
	packet[1] = byte(count)
	packet[2] = 0 // protocol revision

	if auto {
		packet[3] |= fmsFlagAuto
	}
	if enabled {
		packet[3] |= fmsFlagEnabled
	}
	if estop {
		packet[3] |= fmsFlagEStop
	}

	packet[4] = 0
	packet[5] = byte(station)

	packet[6] = 2 // qualification match
	packet[7] = 0
	packet[8] = 1 // match number 1
	packet[9] = 1 // match repeat number

	micros := now.Nanosecond() / 1000
	packet[10] = byte(micros >> 24)
	packet[11] = byte(micros >> 16)
	packet[12] = byte(micros >> 8)
	packet[13] = byte(micros)
	packet[14] = byte(now.Second())
	packet[15] = byte(now.Minute())
	packet[16] = byte(now.Hour())
	packet[17] = byte(now.Day())
	packet[18] = byte(now.Month())
	packet[19] = byte(now.Year() - 1900)

	const secondsRemaining = 135
	packet[20] = byte(secondsRemaining >> 8)
	packet[21] = byte(secondsRemaining)
	return packet
}
