package actuate

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestEncodeControlPacketFlags(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.UTC)

	cases := []struct {
		name                 string
		auto, enabled, estop bool
		wantFlags            byte
	}{
		{"idle", false, false, false, 0x00},
		{"enabled teleop", false, true, false, fmsFlagEnabled},
		{"enabled auto", true, true, false, fmsFlagAuto | fmsFlagEnabled},
		{"estopped", false, false, true, fmsFlagEStop},
	}
	for _, tc := range cases {
		packet := encodeControlPacket(7, tc.auto, tc.enabled, tc.estop, StationB2, now)
		if len(packet) != 22 {
			t.Fatalf("%s: packet length %d, want 22", tc.name, len(packet))
		}
		if packet[3] != tc.wantFlags {
			t.Fatalf("%s: flags=0x%02x want 0x%02x", tc.name, packet[3], tc.wantFlags)
		}
	}

	packet := encodeControlPacket(0x0102, false, false, false, StationB2, now)
	if packet[0] != 0x01 || packet[1] != 0x02 {
		t.Fatalf("sequence counter not big endian: % x", packet[:2])
	}
	if packet[5] != byte(StationB2) {
		t.Fatalf("station slot=%d want %d", packet[5], StationB2)
	}
	if packet[14] != 26 || packet[15] != 9 || packet[16] != 15 {
		t.Fatalf("wall clock bytes wrong: % x", packet[14:17])
	}
	if packet[19] != byte(2026-1900) {
		t.Fatalf("year byte=%d want %d", packet[19], 2026-1900)
	}
	if got := int(packet[20])<<8 | int(packet[21]); got != 135 {
		t.Fatalf("seconds remaining=%d want 135", got)
	}
}

func TestHandleDSStatus(t *testing.T) {
	f := &FMS{cfg: FMSConfig{TeamID: 5987}}

	// wrong team is ignored
	f.handleDSStatus([]byte{0, 0, 0, 0xFF, 0x01, 0x02, 12, 128})
	if f.Linked() {
		t.Fatalf("status for another team must not link us")
	}

	// 5987 = 0x1763; robot linked with 12.5V battery
	f.handleDSStatus([]byte{0, 0, 0, fmsFlagRadioLinked | fmsFlagRobotLinked, 0x17, 0x63, 12, 128})
	if !f.Linked() {
		t.Fatalf("matching team status should link")
	}
	if v := f.BatteryVoltage(); v != 12.5 {
		t.Fatalf("battery voltage=%v want 12.5", v)
	}

	// short packets are dropped
	f.handleDSStatus([]byte{1, 2, 3})
}

func TestFMSCloseIsIdempotent(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind listener: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	if err != nil {
		_ = listener.Close()
		t.Fatalf("dial loopback: %v", err)
	}

	f := &FMS{
		cfg:      FMSConfig{TeamID: 5987}.withDefaults(),
		conn:     conn,
		listener: listener,
		done:     make(chan struct{}),
	}
	f.wg.Add(2)
	go f.keepaliveLoop()
	go f.listenLoop()

	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
}

func TestParseAlliancePosition(t *testing.T) {
	got, err := ParseAlliancePosition(" b3 ")
	if err != nil || got != StationB3 {
		t.Fatalf("parse b3: got %v err %v", got, err)
	}
	if _, err := ParseAlliancePosition("G7"); !errors.Is(err, ErrBadAllianceStation) {
		t.Fatalf("want ErrBadAllianceStation, got %v", err)
	}
}

func TestModeFor(t *testing.T) {
	if _, ok := ModeFor("enable"); ok {
		t.Fatalf("safety commands have no mode")
	}
	mode, ok := ModeFor("auto")
	if !ok || mode != ModeAuto {
		t.Fatalf("auto should map to autonomous, got %v ok=%v", mode, ok)
	}
}

func TestForBackend(t *testing.T) {
	exec, err := ForBackend("", FMSConfig{}, ScriptConfig{})
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := exec.(*LogOnly); !ok {
		t.Fatalf("default backend should be log-only, got %T", exec)
	}
	if !exec.Enable().Success || !exec.SetMode(ModeTest).Success {
		t.Fatalf("log-only actions must report success")
	}
	if _, err := ForBackend("pixels", FMSConfig{}, ScriptConfig{}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("want ErrUnknownBackend, got %v", err)
	}
}
