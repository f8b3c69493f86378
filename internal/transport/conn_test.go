package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swarmdash/eventstream/internal/model"
)

// fakeSocket is an in-memory Socket that records sent frames and lets tests
// inject messages and closes.
type fakeSocket struct {
	cb Callbacks

	mu        sync.Mutex
	sent      []model.Frame
	closed    bool
	closeCode int
}

func (s *fakeSocket) SendText(text string) error {
	var f model.Frame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, f)
	s.mu.Unlock()
	return nil
}

// Close mirrors the production socket: a local close reports the recorded
// code through OnClose exactly once.
func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeCode = code
	s.mu.Unlock()

	if s.cb.OnClose != nil {
		s.cb.OnClose(code)
	}
	return nil
}

func (s *fakeSocket) injectMessage(text string) {
	s.cb.OnMessage(text)
}

func (s *fakeSocket) injectClose(code int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeCode = code
	s.mu.Unlock()
	s.cb.OnClose(code)
}

func (s *fakeSocket) sentFrames() []model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) sentOfType(frameType string) []model.Frame {
	var out []model.Frame
	for _, f := range s.sentFrames() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer scripts dial outcomes: each entry in fail is an error returned
// for one attempt; once exhausted, dials succeed.
type fakeDialer struct {
	mu    sync.Mutex
	fail  []error
	socks []*fakeSocket
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ []string, cb Callbacks) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.fail) > 0 {
		err := d.fail[0]
		d.fail = d.fail[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSocket{cb: cb}
	d.socks = append(d.socks, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socks[i]
}

func (d *fakeDialer) socketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.socks)
}

// statusRecorder captures state transitions.
type statusRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *statusRecorder) handle(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *statusRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func testConfig() Config {
	return Config{
		URL:                  "ws://test.invalid/stream",
		MaxReconnectAttempts: 10,
		ReconnectDelay:       2 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
	}
}

func TestConn_ConnectSuccess(t *testing.T) {
	d := &fakeDialer{}
	var rec statusRecorder
	c := NewConn(testConfig(), d, nil, nil)
	c.OnStatus(rec.handle)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !c.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}
	states := rec.all()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("transitions = %v, want [connecting connected]", states)
	}
}

func TestConn_ConnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestConn_FirstDialError(t *testing.T) {
	dialErr := errors.New("refused")
	d := &fakeDialer{fail: []error{dialErr}}
	c := NewConn(testConfig(), d, nil, nil)

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect did not fail")
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error type = %T, want *ConnectionError", err)
	}
	if !errors.Is(err, dialErr) {
		t.Error("ConnectionError does not wrap the dial error")
	}
	if c.State() != StateError {
		t.Errorf("State = %s, want error", c.State())
	}
}

func TestConn_SendNotConnected(t *testing.T) {
	c := NewConn(testConfig(), &fakeDialer{}, nil, nil)

	if c.Send(model.Frame{Type: "log"}) {
		t.Error("Send returned true while disconnected")
	}
}

func TestConn_SendWhileConnected(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.Connect(context.Background())

	if !c.Send(model.Frame{Type: "log", Channel: "sys"}) {
		t.Fatal("Send returned false while connected")
	}

	sent := d.socket(0).sentOfType("log")
	if len(sent) != 1 || sent[0].Channel != "sys" {
		t.Errorf("sent = %v, want one log frame on sys", sent)
	}
}

func TestConn_SubscribeBeforeConnectSweptIn(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)

	c.Subscribe("agents")
	c.Subscribe("tasks")

	if !c.Registry().Has("agents") || !c.Registry().Has("tasks") {
		t.Fatal("registry missing channels")
	}

	c.Connect(context.Background())

	subs := d.socket(0).sentOfType("subscribe")
	if len(subs) != 2 || subs[0].Channel != "agents" || subs[1].Channel != "tasks" {
		t.Errorf("subscribe frames = %v, want agents then tasks", subs)
	}
}

func TestConn_SubscribeWhileConnectedSendsFrame(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.Connect(context.Background())

	c.Subscribe("agents")
	c.Unsubscribe("agents")

	sock := d.socket(0)
	if got := sock.sentOfType("subscribe"); len(got) != 1 {
		t.Errorf("subscribe frames = %d, want 1", len(got))
	}
	if got := sock.sentOfType("unsubscribe"); len(got) != 1 {
		t.Errorf("unsubscribe frames = %d, want 1", len(got))
	}
	if c.Registry().Has("agents") {
		t.Error("registry still holds unsubscribed channel")
	}
}

func TestConn_ResubscribeAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.Connect(context.Background())
	c.Subscribe("agents")
	c.Subscribe("tasks")
	c.Subscribe("memory")

	d.socket(0).injectClose(CloseAbnormal)
	waitUntil(t, time.Second, func() bool { return d.socketCount() == 2 && c.IsConnected() })

	subs := d.socket(1).sentOfType("subscribe")
	want := []string{"agents", "tasks", "memory"}
	if len(subs) != len(want) {
		t.Fatalf("resubscribe frames = %d, want %d", len(subs), len(want))
	}
	for i, ch := range want {
		if subs[i].Channel != ch {
			t.Errorf("resubscribe[%d] = %s, want %s", i, subs[i].Channel, ch)
		}
	}
}

func TestConn_IntentionalCloseIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.Connect(context.Background())

	d.socket(0).injectClose(CloseNormal)

	if c.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", c.State())
	}
	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d after intentional close, want 1", d.dialCount())
	}
}

func TestConn_MaxRetriesExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	// First dial succeeds; every retry fails.
	d := &fakeDialer{fail: []error{nil, errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down")}}
	c := NewConn(cfg, d, nil, nil)
	c.Connect(context.Background())

	d.socket(0).injectClose(CloseAbnormal)
	waitUntil(t, time.Second, func() bool { return c.State() == StateError })

	if !errors.Is(c.LastError(), ErrMaxRetries) {
		t.Errorf("LastError = %v, want ErrMaxRetries", c.LastError())
	}
	if d.dialCount() != 4 {
		t.Errorf("dials = %d, want 4 (1 connect + 3 retries)", d.dialCount())
	}

	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 4 {
		t.Error("retry scheduled past the attempt ceiling")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, base); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConn_PongConsumedInternally(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)

	var frames []model.Frame
	var mu sync.Mutex
	c.OnFrame(func(f model.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})
	c.Connect(context.Background())

	before := c.Stats().LastPong
	time.Sleep(5 * time.Millisecond)
	d.socket(0).injectMessage(`{"type":"pong"}`)

	mu.Lock()
	n := len(frames)
	mu.Unlock()
	if n != 0 {
		t.Errorf("pong forwarded to frame handler: %v", frames)
	}
	if !c.Stats().LastPong.After(before) {
		t.Error("LastPong not updated by pong")
	}
}

func TestConn_MalformedMessageBecomesRaw(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)

	var got model.Frame
	var mu sync.Mutex
	c.OnFrame(func(f model.Frame) {
		mu.Lock()
		got = f
		mu.Unlock()
	})
	c.Connect(context.Background())

	d.socket(0).injectMessage("not-json")

	mu.Lock()
	defer mu.Unlock()
	if got.Type != "raw" {
		t.Fatalf("frame type = %s, want raw", got.Type)
	}
	var text string
	json.Unmarshal(got.Payload, &text)
	if text != "not-json" {
		t.Errorf("raw payload = %q, want original text", text)
	}
	if c.Stats().MalformedFrames != 1 {
		t.Errorf("MalformedFrames = %d, want 1", c.Stats().MalformedFrames)
	}
}

func TestConn_MissingTimestampStamped(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)

	var got model.Frame
	var mu sync.Mutex
	c.OnFrame(func(f model.Frame) {
		mu.Lock()
		got = f
		mu.Unlock()
	})
	c.Connect(context.Background())

	d.socket(0).injectMessage(`{"type":"log","channel":"sys"}`)

	mu.Lock()
	defer mu.Unlock()
	if got.Timestamp == 0 {
		t.Error("missing timestamp was not stamped")
	}
}

func TestConn_FrameHandlerPanicAbsorbed(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.OnFrame(func(model.Frame) { panic("boom") })
	c.Connect(context.Background())

	// Must not crash the process or kill the connection.
	d.socket(0).injectMessage(`{"type":"log"}`)

	if !c.IsConnected() {
		t.Error("handler panic disrupted the connection")
	}
}

func TestConn_HeartbeatPing(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	d := &fakeDialer{}
	c := NewConn(cfg, d, nil, nil)
	c.Connect(context.Background())
	defer c.Disconnect()

	waitUntil(t, time.Second, func() bool {
		return len(d.socket(0).sentOfType("ping")) >= 1
	})

	pings := d.socket(0).sentOfType("ping")
	if pings[0].Timestamp == 0 {
		t.Error("ping frame missing timestamp")
	}
}

func TestConn_StaleHeartbeatForcesReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	d := &fakeDialer{}
	c := NewConn(cfg, d, nil, nil)
	c.Connect(context.Background())
	defer c.Disconnect()

	// Never answer pings: after two silent intervals the link is stale.
	waitUntil(t, time.Second, func() bool { return d.socketCount() >= 2 })

	first := d.socket(0)
	first.mu.Lock()
	code := first.closeCode
	first.mu.Unlock()
	if code != closeStale {
		t.Errorf("stale close code = %d, want %d", code, closeStale)
	}
}

func TestConn_DisconnectCancelsReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Minute
	d := &fakeDialer{}
	c := NewConn(cfg, d, nil, nil)
	c.Connect(context.Background())

	d.socket(0).injectClose(CloseAbnormal)
	if c.State() != StateReconnecting {
		t.Fatalf("State = %s, want reconnecting", c.State())
	}

	c.Disconnect()

	if c.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", c.State())
	}
	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d after Disconnect, want 1", d.dialCount())
	}
}

func TestConn_RegistrySurvivesDisconnect(t *testing.T) {
	d := &fakeDialer{}
	c := NewConn(testConfig(), d, nil, nil)
	c.Subscribe("agents")
	c.Connect(context.Background())
	c.Disconnect()

	if !c.Registry().Has("agents") {
		t.Error("registry cleared by Disconnect")
	}

	// Reconnecting sweeps the surviving registration back in.
	c.Connect(context.Background())
	subs := d.socket(1).sentOfType("subscribe")
	if len(subs) != 1 || subs[0].Channel != "agents" {
		t.Errorf("post-reconnect subscribes = %v, want [agents]", subs)
	}
}
