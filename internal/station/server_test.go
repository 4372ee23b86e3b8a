package station

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/frclink/dsctl/internal/actuate"
	"github.com/frclink/dsctl/internal/logging"
	"github.com/frclink/dsctl/internal/protocol"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}

// stubExecutor records calls and fails on demand.
type stubExecutor struct {
	fail  bool
	calls []string
}

func (e *stubExecutor) result(name string) actuate.Result {
	e.calls = append(e.calls, name)
	if e.fail {
		return actuate.Result{Success: false, Message: "stub failure", Backend: "stub"}
	}
	return actuate.Result{Success: true, Backend: "stub"}
}

func (e *stubExecutor) Enable() actuate.Result  { return e.result("enable") }
func (e *stubExecutor) Disable() actuate.Result { return e.result("disable") }
func (e *stubExecutor) EStop() actuate.Result   { return e.result("estop") }
func (e *stubExecutor) SetMode(mode actuate.Mode) actuate.Result {
	return e.result("set_mode:" + string(mode))
}

type sentFrame struct {
	frame protocol.Frame
	addr  *net.UDPAddr
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (r *frameRecorder) record(frame protocol.Frame, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, sentFrame{frame: frame, addr: addr})
}

func (r *frameRecorder) all() []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentFrame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *frameRecorder) lastOfKind(kind protocol.MessageKind) (sentFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].frame.Type == kind {
			return r.frames[i], true
		}
	}
	return sentFrame{}, false
}

func (r *frameRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestServer(t *testing.T) (*Server, *stubExecutor, *frameRecorder, *fakeClock) {
	t.Helper()
	exec := &stubExecutor{}
	s := New(Config{RequireHello: true}, exec)
	rec := &frameRecorder{}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.send = rec.record
	s.now = clock.Now
	return s, exec, rec, clock
}

func register(t *testing.T, s *Server, id string, addr *net.UDPAddr) {
	t.Helper()
	s.handleHello(protocol.Hello(id, ""), addr)
	s.mu.Lock()
	registered := s.sessions.has(id)
	s.mu.Unlock()
	if !registered {
		t.Fatalf("hello did not register %q", id)
	}
}

func TestHelloRepliesWithStatus(t *testing.T) {
	s, _, rec, _ := newTestServer(t)
	addr := testAddr(5000)

	s.handleHello(protocol.Hello("a", ""), addr)

	sent, ok := rec.lastOfKind(protocol.KindStatus)
	if !ok {
		t.Fatalf("expected a STATUS reply, got %v", rec.all())
	}
	if sent.addr != addr {
		t.Fatalf("STATUS went to %v, want %v", sent.addr, addr)
	}
	report := protocol.ReportFromPayload(sent.frame.Payload)
	if report.RobotState != string(StateDisabled) {
		t.Fatalf("fresh server must report disabled, got %q", report.RobotState)
	}
	if report.ConnectedClients != 1 {
		t.Fatalf("expected 1 connected client, got %d", report.ConnectedClients)
	}
}

func TestHelloWithoutClientID(t *testing.T) {
	s, _, rec, _ := newTestServer(t)

	frame := protocol.Frame{Type: protocol.KindHello, Payload: map[string]any{}}
	s.handleHello(frame, testAddr(5000))

	sent, ok := rec.lastOfKind(protocol.KindError)
	if !ok || sent.frame.StringField("error") == "" {
		t.Fatalf("expected non-empty ERROR reply, got %v", rec.all())
	}
	if got := s.Snapshot().ConnectedClients; got != 0 {
		t.Fatalf("invalid hello must not register, got %d clients", got)
	}
}

func TestHelloSecretRejected(t *testing.T) {
	exec := &stubExecutor{}
	s := New(Config{RequireHello: true, Secret: "opensesame"}, exec)
	rec := &frameRecorder{}
	s.send = rec.record

	s.handleHello(protocol.Hello("a", "wrong"), testAddr(5000))

	if sent, ok := rec.lastOfKind(protocol.KindError); !ok || sent.frame.StringField("error") != "unauthorized" {
		t.Fatalf("expected unauthorized ERROR, got %v", rec.all())
	}
	if got := s.Snapshot().ConnectedClients; got != 0 {
		t.Fatalf("rejected hello must not register, got %d clients", got)
	}

	rec.reset()
	s.handleHello(protocol.Hello("a", "opensesame"), testAddr(5000))
	if _, ok := rec.lastOfKind(protocol.KindStatus); !ok {
		t.Fatalf("correct secret should register, got %v", rec.all())
	}
}

func TestEnableBroadcastsNewState(t *testing.T) {
	s, _, rec, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	rec.reset()

	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	sent, ok := rec.lastOfKind(protocol.KindStatus)
	if !ok {
		t.Fatalf("command application must broadcast, got %v", rec.all())
	}
	report := protocol.ReportFromPayload(sent.frame.Payload)
	if report.RobotState != string(StateEnabled) {
		t.Fatalf("expected enabled, got %q", report.RobotState)
	}
	if report.LastCommandBy != "a" {
		t.Fatalf("expected last_command_by=a, got %q", report.LastCommandBy)
	}
	if report.LastCommandAt == 0 {
		t.Fatalf("expected last_command_at to be set")
	}
}

func TestEnableFailureKeepsStateUnchanged(t *testing.T) {
	s, exec, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	exec.fail = true

	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("failed enable must not arm, got %q", got)
	}
}

func TestDisableTransitionsEvenOnExecutorFailure(t *testing.T) {
	s, exec, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)

	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)
	exec.fail = true
	s.handleCommand(protocol.Command("a", protocol.CmdDisable), addr)

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("disable must always record the safe state, got %q", got)
	}
}

func TestEStopTransitionsEvenOnExecutorFailure(t *testing.T) {
	s, exec, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	exec.fail = true

	s.handleCommand(protocol.Command("a", protocol.CmdEStop), addr)

	if got := s.Snapshot().RobotState; got != string(StateEStop) {
		t.Fatalf("estop must latch even on executor failure, got %q", got)
	}
}

// panicExecutor blows up on every action, modeling a backend bug.
type panicExecutor struct{}

func (panicExecutor) Enable() actuate.Result            { panic("enable blew up") }
func (panicExecutor) Disable() actuate.Result           { panic("disable blew up") }
func (panicExecutor) EStop() actuate.Result             { panic("estop blew up") }
func (panicExecutor) SetMode(actuate.Mode) actuate.Result { panic("set_mode blew up") }

func TestEStopLatchesWhenExecutorPanics(t *testing.T) {
	s, _, rec, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.exec = panicExecutor{}
	rec.reset()

	s.handleCommand(protocol.Command("a", protocol.CmdEStop), addr)

	// Snapshot takes s.mu; it would hang here if the handler leaked
	// the lock while unwinding.
	if got := s.Snapshot().RobotState; got != string(StateEStop) {
		t.Fatalf("estop must latch even when the executor panics, got %q", got)
	}
	if _, ok := rec.lastOfKind(protocol.KindStatus); !ok {
		t.Fatalf("estop must still broadcast after an executor panic")
	}
}

func TestDisableRecordedWhenExecutorPanics(t *testing.T) {
	s, exec, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)
	if len(exec.calls) == 0 {
		t.Fatalf("enable never reached the stub executor")
	}
	s.exec = panicExecutor{}

	s.handleCommand(protocol.Command("a", protocol.CmdDisable), addr)

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("disable must record the safe state despite the panic, got %q", got)
	}
}

func TestEnablePanicLeavesStateUnchanged(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.exec = panicExecutor{}

	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("a panicked enable must not arm the robot, got %q", got)
	}
}

func TestEnableRefusedWhileEStopped(t *testing.T) {
	s, exec, rec, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)

	s.handleCommand(protocol.Command("a", protocol.CmdEStop), addr)
	before := len(exec.calls)
	rec.reset()

	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	if got := s.Snapshot().RobotState; got != string(StateEStop) {
		t.Fatalf("estop must stay latched, got %q", got)
	}
	if len(exec.calls) != before {
		t.Fatalf("enable while estopped must not reach the executor, calls %v", exec.calls)
	}
	if sent, ok := rec.lastOfKind(protocol.KindError); !ok || sent.frame.StringField("error") == "" {
		t.Fatalf("expected ERROR reply, got %v", rec.all())
	}
}

func TestDisableReleasesEStop(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)

	s.handleCommand(protocol.Command("a", protocol.CmdEStop), addr)
	s.handleCommand(protocol.Command("a", protocol.CmdDisable), addr)

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("disable must release estop, got %q", got)
	}
}

func TestModeCommandsLeaveSafetyStateAlone(t *testing.T) {
	s, exec, _, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	for _, kind := range []protocol.CommandKind{
		protocol.CmdTeleop, protocol.CmdAuto, protocol.CmdPractice, protocol.CmdTest,
	} {
		s.handleCommand(protocol.Command("a", kind), addr)
		if got := s.Snapshot().RobotState; got != string(StateEnabled) {
			t.Fatalf("mode command %q changed safety state to %q", kind, got)
		}
	}
	last := exec.calls[len(exec.calls)-1]
	if last != "set_mode:"+string(actuate.ModeTest) {
		t.Fatalf("expected final set_mode call, got %q", last)
	}
}

func TestCommandFromUnregisteredClient(t *testing.T) {
	s, exec, rec, _ := newTestServer(t)

	s.handleCommand(protocol.Command("ghost", protocol.CmdEnable), testAddr(5000))

	if sent, ok := rec.lastOfKind(protocol.KindError); !ok || sent.frame.StringField("error") == "" {
		t.Fatalf("expected ERROR reply, got %v", rec.all())
	}
	if len(exec.calls) != 0 {
		t.Fatalf("unregistered command must not reach the executor, calls %v", exec.calls)
	}
	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("state must be unchanged, got %q", got)
	}
}

func TestUnknownCommandString(t *testing.T) {
	s, exec, rec, _ := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	rec.reset()

	frame := protocol.Frame{
		Type:    protocol.KindCommand,
		Payload: map[string]any{"client_id": "a", "command": "self_destruct"},
	}
	s.handleCommand(frame, addr)

	if sent, ok := rec.lastOfKind(protocol.KindError); !ok || sent.frame.StringField("error") != "unknown command" {
		t.Fatalf("expected unknown command ERROR, got %v", rec.all())
	}
	if len(exec.calls) != 0 {
		t.Fatalf("unknown command must not reach the executor, calls %v", exec.calls)
	}
}

func TestHeartbeatFromUnknownClientRejected(t *testing.T) {
	s, _, rec, _ := newTestServer(t)

	s.handleHeartbeat(protocol.Heartbeat("ghost"), testAddr(5000))

	if sent, ok := rec.lastOfKind(protocol.KindError); !ok || sent.frame.StringField("error") == "" {
		t.Fatalf("expected ERROR reply under require_hello, got %v", rec.all())
	}
	if got := s.Snapshot().ConnectedClients; got != 0 {
		t.Fatalf("rejected heartbeat must not register, got %d clients", got)
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	s, _, rec, clock := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	rec.reset()

	clock.Advance(200 * time.Millisecond)
	s.handleHeartbeat(protocol.Heartbeat("a"), addr)

	if frames := rec.all(); len(frames) != 0 {
		t.Fatalf("successful heartbeat must not be answered, got %v", frames)
	}

	// the refresh pushed the eviction horizon out
	clock.Advance(200 * time.Millisecond)
	s.watchdogTick(clock.Now())
	if got := s.Snapshot().ConnectedClients; got != 1 {
		t.Fatalf("refreshed client must survive the tick, got %d clients", got)
	}
}

func TestMalformedDatagramAnsweredWithError(t *testing.T) {
	s, _, rec, _ := newTestServer(t)
	addr := testAddr(5000)

	s.handleDatagram([]byte("{not json"), addr)

	sent, ok := rec.lastOfKind(protocol.KindError)
	if !ok {
		t.Fatalf("expected ERROR reply, got %v", rec.all())
	}
	if sent.frame.StringField("error") == "" {
		t.Fatalf("ERROR frame must carry a reason")
	}
	if got := s.Snapshot().ConnectedClients; got != 0 {
		t.Fatalf("malformed datagram must not touch the session table, got %d", got)
	}
}

func TestWatchdogForcesDisableWhenAbandoned(t *testing.T) {
	s, _, rec, clock := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)
	rec.reset()

	clock.Advance(300 * time.Millisecond)
	s.watchdogTick(clock.Now())

	snap := s.Snapshot()
	if snap.RobotState != string(StateDisabled) {
		t.Fatalf("abandoned enabled server must disable, got %q", snap.RobotState)
	}
	if snap.LastCommandBy != WatchdogActor {
		t.Fatalf("disable must be attributed to the watchdog, got %q", snap.LastCommandBy)
	}
	if snap.ConnectedClients != 0 {
		t.Fatalf("stale client must be evicted, got %d", snap.ConnectedClients)
	}
}

func TestWatchdogBroadcastReachesSurvivors(t *testing.T) {
	s, _, rec, clock := newTestServer(t)
	staleAddr := testAddr(5000)
	freshAddr := testAddr(5001)
	register(t, s, "stale", staleAddr)
	s.handleCommand(protocol.Command("stale", protocol.CmdEnable), staleAddr)

	clock.Advance(200 * time.Millisecond)
	register(t, s, "fresh", freshAddr)
	rec.reset()

	clock.Advance(100 * time.Millisecond)
	s.watchdogTick(clock.Now())

	sent, ok := rec.lastOfKind(protocol.KindStatus)
	if !ok {
		t.Fatalf("forced disable must broadcast, got %v", rec.all())
	}
	if sent.addr != freshAddr {
		t.Fatalf("broadcast went to %v, want surviving client %v", sent.addr, freshAddr)
	}
	report := protocol.ReportFromPayload(sent.frame.Payload)
	if report.RobotState != string(StateDisabled) || report.LastCommandBy != WatchdogActor {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.ConnectedClients != 1 {
		t.Fatalf("expected only the fresh client left, got %d", report.ConnectedClients)
	}
}

func TestWatchdogIgnoresDisabledState(t *testing.T) {
	s, exec, _, clock := newTestServer(t)
	register(t, s, "a", testAddr(5000))

	clock.Advance(time.Second)
	s.watchdogTick(clock.Now())

	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("expected disabled, got %q", got)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("a disabled robot needs no correction, calls %v", exec.calls)
	}
}

func TestWatchdogNeverPerturbsEStop(t *testing.T) {
	s, exec, _, clock := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.handleCommand(protocol.Command("a", protocol.CmdEStop), addr)
	calls := len(exec.calls)

	clock.Advance(time.Second)
	s.watchdogTick(clock.Now())

	snap := s.Snapshot()
	if snap.RobotState != string(StateEStop) {
		t.Fatalf("watchdog must not touch estop, got %q", snap.RobotState)
	}
	if snap.ConnectedClients != 0 {
		t.Fatalf("eviction still applies under estop, got %d clients", snap.ConnectedClients)
	}
	if len(exec.calls) != calls {
		t.Fatalf("no executor call expected, calls %v", exec.calls)
	}
}

func TestWatchdogRunsWithEmptyTableWhileEnabled(t *testing.T) {
	// enabled with an already-empty table (evictions happened on a
	// previous tick) still gets corrected
	s, _, _, clock := newTestServer(t)
	addr := testAddr(5000)
	register(t, s, "a", addr)
	s.handleCommand(protocol.Command("a", protocol.CmdEnable), addr)

	clock.Advance(300 * time.Millisecond)
	s.mu.Lock()
	s.sessions.evictStale(clock.Now(), s.cfg.HeartbeatTimeout)
	s.mu.Unlock()

	s.watchdogTick(clock.Now())
	if got := s.Snapshot().RobotState; got != string(StateDisabled) {
		t.Fatalf("empty table while enabled must disable, got %q", got)
	}
}

func TestBroadcastTickFeedsSinkWithoutClients(t *testing.T) {
	s, _, rec, _ := newTestServer(t)
	var mu sync.Mutex
	var reports []protocol.StatusReport
	s.AttachStatusSink(func(r protocol.StatusReport) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	s.broadcastTick()

	if frames := rec.all(); len(frames) != 0 {
		t.Fatalf("no clients means no UDP frames, got %v", frames)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 1 {
		t.Fatalf("sink must still see the pulse, got %d reports", len(reports))
	}
}

func TestWatchdogTickPanicIsolated(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.now = func() time.Time { panic("clock exploded") }

	// must not propagate
	s.runWatchdogTick()
}
