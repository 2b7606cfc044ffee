package connection

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/relay-sender/internal/model"
	"github.com/rickgao/relay-sender/internal/picker"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, buf
}

// fakeClient is an in-memory Client.
type fakeClient struct {
	messages chan TimestampedMessage
	errors   chan error

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	lateSends int // Send calls after Close
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.lateSends++
		return ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeClient) push(data string) {
	f.messages <- TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

func (f *fakeClient) fail(err error) {
	f.errors <- err
}

func (f *fakeClient) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, d := range f.sent {
		out[i] = string(d)
	}
	return out
}

func (f *fakeClient) lateSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateSends
}

// fakeDialer hands out fake clients and records dial times.
type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	dials   []time.Time
	failN   int // number of initial dials that fail
}

func (d *fakeDialer) dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	if len(d.dials) <= d.failN {
		return nil, errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")
	}
	c := newFakeClient()
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.clients) {
		return nil
	}
	return d.clients[i]
}

// countingRecorder is a Recorder backed by atomics.
type countingRecorder struct {
	sent, skipped, received, parseErrors, reconnects, connErrors atomic.Int64

	mu     sync.Mutex
	states []string
}

func (r *countingRecorder) SetState(s string) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}
func (r *countingRecorder) MessageSent()     { r.sent.Add(1) }
func (r *countingRecorder) MessageSkipped()  { r.skipped.Add(1) }
func (r *countingRecorder) MessageReceived() { r.received.Add(1) }
func (r *countingRecorder) ParseError()      { r.parseErrors.Add(1) }
func (r *countingRecorder) Reconnect()       { r.reconnects.Add(1) }
func (r *countingRecorder) ConnectionError() { r.connErrors.Add(1) }

func (r *countingRecorder) stateHistory() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:          "ws://relay.test/ws/client1",
		ServerAddress:  "http://relay.test",
		SendInterval:   time.Hour, // tests call SendMessage directly unless overridden
		ReconnectDelay: 100 * time.Millisecond,
	}
}

func mustPicker(t *testing.T, contents, receivers []string) *picker.Picker {
	t.Helper()
	p, err := picker.New(contents, receivers, nil)
	if err != nil {
		t.Fatalf("picker.New failed: %v", err)
	}
	return p
}

func startManager(t *testing.T, m Manager) {
	t.Helper()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
}

func TestManager_SendWhileOpen(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}
	rec := &countingRecorder{}

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithRecorder(rec),
	)
	startManager(t, m)

	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	if err := m.SendMessage(); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	frames := dialer.client(0).sentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	want := `{"type":"send","receiver":"X","content":"hi"}`
	if frames[0] != want {
		t.Errorf("frame = %s, want %s", frames[0], want)
	}

	if got := m.Stats().Sent; got != 1 {
		t.Errorf("Stats().Sent = %d, want 1", got)
	}
	if got := rec.sent.Load(); got != 1 {
		t.Errorf("recorder sent = %d, want 1", got)
	}
	if out := logs.String(); !strings.Contains(out, "sent message") || !strings.Contains(out, "receiver=X") {
		t.Errorf("log output missing send line: %s", out)
	}
}

func TestManager_SendWhileClosed(t *testing.T) {
	logger, logs := newTestLogger()
	rec := &countingRecorder{}
	dialer := &fakeDialer{}

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithRecorder(rec),
	)

	if m.State() != StateClosed {
		t.Fatalf("initial State() = %v, want closed", m.State())
	}

	if err := m.SendMessage(); err != nil {
		t.Errorf("SendMessage while closed returned %v, want nil", err)
	}

	if dialer.dialCount() != 0 {
		t.Errorf("dial count = %d, want 0", dialer.dialCount())
	}
	if got := m.Stats().Skipped; got != 1 {
		t.Errorf("Stats().Skipped = %d, want 1", got)
	}
	if got := m.Stats().Sent; got != 0 {
		t.Errorf("Stats().Sent = %d, want 0", got)
	}
	if got := rec.skipped.Load(); got != 1 {
		t.Errorf("recorder skipped = %d, want 1", got)
	}
	if !strings.Contains(logs.String(), "not connected, message not sent") {
		t.Errorf("expected skip notice in logs, got: %s", logs.String())
	}
}

func TestManager_ReceiveLogged(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}

	var mu sync.Mutex
	var handled []model.IncomingMessage
	handler := ReceiveHandlerFunc(func(msg model.IncomingMessage) {
		mu.Lock()
		handled = append(handled, msg)
		mu.Unlock()
	})

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithReceiveHandler(handler),
	)
	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	c := dialer.client(0)
	c.push(`{"type":"ack","sender":"server","content":"ignored"}`)
	c.push(`{"type":"receive","sender":"何毅彬","content":"hello"}`)

	waitFor(t, time.Second, "received message", func() bool { return m.Stats().Received == 1 })

	out := logs.String()
	var line string
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, "message received") {
			line = l
		}
	}
	if !strings.Contains(line, "何毅彬") || !strings.Contains(line, "hello") {
		t.Errorf("receive log line = %q, want sender and content", line)
	}
	if strings.Contains(out, "ignored") {
		t.Errorf("non-receive message should be ignored silently, logs: %s", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0].Sender != "何毅彬" || handled[0].Content != "hello" {
		t.Errorf("handler got %+v, want one message from 何毅彬", handled)
	}
}

func TestManager_ParseErrorKeepsState(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}
	rec := &countingRecorder{}

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithRecorder(rec),
	)
	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	dialer.client(0).push("not-json")

	waitFor(t, time.Second, "parse error", func() bool { return m.Stats().ParseErrors == 1 })

	if m.State() != StateOpen {
		t.Errorf("State() = %v after parse error, want open", m.State())
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.dialCount())
	}
	if rec.parseErrors.Load() != 1 {
		t.Errorf("recorder parse errors = %d, want 1", rec.parseErrors.Load())
	}
	if !strings.Contains(logs.String(), "failed to parse message") {
		t.Errorf("expected parse error in logs, got: %s", logs.String())
	}

	// Connection keeps working after a bad frame.
	dialer.client(0).push(`{"type":"receive","sender":"a","content":"b"}`)
	waitFor(t, time.Second, "received message", func() bool { return m.Stats().Received == 1 })
}

func TestManager_ReconnectAfterDelay(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}
	rec := &countingRecorder{}
	cfg := testManagerConfig()
	cfg.ReconnectDelay = 150 * time.Millisecond

	m := NewManager(cfg, mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithRecorder(rec),
	)
	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	closedAt := time.Now()
	dialer.client(0).fail(&websocket.CloseError{Code: websocket.CloseGoingAway, Text: "restart"})

	waitFor(t, time.Second, "closed state", func() bool { return m.State() == StateClosed })

	// Nothing before the delay.
	time.Sleep(cfg.ReconnectDelay / 2)
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dial count = %d before reconnect delay elapsed, want 1", n)
	}

	waitFor(t, time.Second, "reconnect", func() bool { return dialer.dialCount() == 2 })
	waitFor(t, time.Second, "reopen", func() bool { return m.State() == StateOpen })

	if elapsed := dialer.dialTimes()[1].Sub(closedAt); elapsed < cfg.ReconnectDelay {
		t.Errorf("reconnect after %v, want >= %v", elapsed, cfg.ReconnectDelay)
	}

	// Exactly one reconnect per close.
	time.Sleep(3 * cfg.ReconnectDelay)
	if n := dialer.dialCount(); n != 2 {
		t.Errorf("dial count = %d, want 2", n)
	}
	if got := m.Stats().Reconnects; got != 1 {
		t.Errorf("Stats().Reconnects = %d, want 1", got)
	}
	if got := rec.reconnects.Load(); got != 1 {
		t.Errorf("recorder reconnects = %d, want 1", got)
	}
	// A going-away close is not an error.
	if got := rec.connErrors.Load(); got != 0 {
		t.Errorf("recorder connection errors = %d, want 0", got)
	}
	if !strings.Contains(logs.String(), "code=1001") {
		t.Errorf("expected close code in logs, got: %s", logs.String())
	}

	want := []string{"closed", "connecting", "open", "closed", "connecting", "open"}
	got := rec.stateHistory()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("state history = %v, want %v", got, want)
	}
}

func TestManager_DialFailureRetries(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{failN: 2}
	rec := &countingRecorder{}
	cfg := testManagerConfig()
	cfg.ReconnectDelay = 40 * time.Millisecond

	m := NewManager(cfg, mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
		WithRecorder(rec),
	)
	startManager(t, m)

	waitFor(t, 2*time.Second, "open after retries", func() bool { return m.State() == StateOpen })

	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dial count = %d, want 3", n)
	}
	times := dialer.dialTimes()
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < cfg.ReconnectDelay {
			t.Errorf("dial %d came %v after the previous one, want >= %v", i, gap, cfg.ReconnectDelay)
		}
	}
	if got := rec.connErrors.Load(); got != 2 {
		t.Errorf("recorder connection errors = %d, want 2", got)
	}

	out := logs.String()
	if !strings.Contains(out, "websocket error") {
		t.Errorf("expected error log, got: %s", out)
	}
	if !strings.Contains(out, "address=http://relay.test") {
		t.Errorf("expected server hint, got: %s", out)
	}
	if !strings.Contains(out, "code=1006") {
		t.Errorf("expected abnormal close code, got: %s", out)
	}
}

func TestManager_SendTimerDoesNotAccumulate(t *testing.T) {
	logger, _ := newTestLogger()
	dialer := &fakeDialer{}
	cfg := testManagerConfig()
	cfg.SendInterval = 20 * time.Millisecond
	cfg.ReconnectDelay = 30 * time.Millisecond

	m := NewManager(cfg, mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
	)
	startManager(t, m)

	waitFor(t, time.Second, "first sends", func() bool {
		c := dialer.client(0)
		return c != nil && len(c.sentFrames()) >= 2
	})

	first := dialer.client(0)
	first.fail(errors.New("read tcp: connection reset by peer"))

	waitFor(t, time.Second, "second connection", func() bool {
		return dialer.client(1) != nil && m.State() == StateOpen
	})
	second := dialer.client(1)
	before := len(second.sentFrames())

	window := 10 * cfg.SendInterval
	time.Sleep(window)

	sent := len(second.sentFrames()) - before
	// One ticker yields about 10 sends in the window; a leaked ticker would double it.
	if sent > 13 {
		t.Errorf("sent %d frames in %v, want at most 13 (single timer)", sent, window)
	}
	if sent < 3 {
		t.Errorf("sent %d frames in %v, want the timer to keep firing", sent, window)
	}
	if n := first.lateSendCount(); n != 0 {
		t.Errorf("closed connection received %d send attempts, want 0", n)
	}
}

func TestManager_StartTwice(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), nil,
		WithDialer(dialer.dial),
	)
	startManager(t, m)

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestManager_Stop(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), nil,
		WithDialer(dialer.dial),
	)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if m.State() != StateClosed {
		t.Errorf("State() = %v after Stop, want closed", m.State())
	}
	if dialer.client(0).IsConnected() {
		t.Error("expected client to be closed after Stop")
	}

	// No reconnect after Stop.
	time.Sleep(2 * testManagerConfig().ReconnectDelay)
	if n := dialer.dialCount(); n != 1 {
		t.Errorf("dial count = %d after Stop, want 1", n)
	}
}

func TestManager_StatsSession(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), nil,
		WithDialer(dialer.dial),
	)

	if s := m.Stats(); s.SessionID != uuid.Nil {
		t.Errorf("SessionID before start = %s, want zero", s.SessionID)
	}

	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	s := m.Stats()
	if s.SessionID == uuid.Nil {
		t.Error("SessionID should be set once connected")
	}
	if s.ConnectedAt.IsZero() {
		t.Error("ConnectedAt should be set while open")
	}
}

// TestManager_RealServerReconnect exercises the gorilla transport end to end: the server
// drops the first connection right after the handshake and the manager must come back
// no earlier than the reconnect delay.
func TestManager_RealServerReconnect(t *testing.T) {
	var mu sync.Mutex
	var accepted []time.Time
	var dropped time.Time
	received := make(chan []byte, 10)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		accepted = append(accepted, time.Now())
		first := len(accepted) == 1
		mu.Unlock()

		if first {
			mu.Lock()
			dropped = time.Now()
			mu.Unlock()
			return // deferred Close drops the connection
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"receive","sender":"听桥","content":"hello"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- data:
			default:
			}
		}
	})
	defer server.Close()

	logger, logs := newTestLogger()
	cfg := ManagerConfig{
		WSURL:          wsURL(server),
		SendInterval:   30 * time.Millisecond,
		ReconnectDelay: 200 * time.Millisecond,
		Client:         testClientConfig(""),
	}

	m := NewManager(cfg, mustPicker(t, []string{"hi"}, []string{"X"}), logger)
	startManager(t, m)

	select {
	case data := <-received:
		if string(data) != `{"type":"send","receiver":"X","content":"hi"}` {
			t.Errorf("server received %s", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for a sent message after reconnect")
	}

	mu.Lock()
	if len(accepted) < 2 {
		t.Fatalf("accepted %d connections, want 2", len(accepted))
	}
	if gap := accepted[1].Sub(dropped); gap < cfg.ReconnectDelay {
		t.Errorf("reconnected %v after drop, want >= %v", gap, cfg.ReconnectDelay)
	}
	mu.Unlock()

	waitFor(t, time.Second, "received message", func() bool { return m.Stats().Received == 1 })
	if !strings.Contains(logs.String(), "听桥") {
		t.Errorf("expected sender in logs, got: %s", logs.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		data string
		n    int
		want string
	}{
		{name: "short", data: "abc", n: 5, want: "abc"},
		{name: "exact", data: "abcde", n: 5, want: "abcde"},
		{name: "ascii", data: "abcdef", n: 3, want: "abc..."},
		// 何 is three bytes; cutting at 4 lands inside 毅.
		{name: "mid rune", data: "何毅彬", n: 4, want: "何..."},
		{name: "rune boundary", data: "何毅彬", n: 6, want: "何毅..."},
		{name: "inside first rune", data: "何毅彬", n: 2, want: "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate([]byte(tt.data), tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.data, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.data, tt.n, got)
			}
		})
	}
}

func TestManager_ParseErrorLogKeepsRunes(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
	)
	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	// 255 ASCII bytes then a three-byte rune straddling the 256-byte cut.
	raw := strings.Repeat("x", 255) + "毅" + "tail"
	dialer.client(0).push(raw)

	waitFor(t, time.Second, "parse error", func() bool { return m.Stats().ParseErrors == 1 })

	out := logs.String()
	if !utf8.ValidString(out) {
		t.Errorf("log output contains invalid UTF-8: %q", out)
	}
	if strings.Contains(out, `\xe6`) {
		t.Errorf("raw frame was split mid-rune: %s", out)
	}
}

func TestManager_NullFrameIsParseError(t *testing.T) {
	logger, logs := newTestLogger()
	dialer := &fakeDialer{}

	m := NewManager(testManagerConfig(), mustPicker(t, []string{"hi"}, []string{"X"}), logger,
		WithDialer(dialer.dial),
	)
	startManager(t, m)
	waitFor(t, time.Second, "open state", func() bool { return m.State() == StateOpen })

	dialer.client(0).push("null")

	waitFor(t, time.Second, "parse error", func() bool { return m.Stats().ParseErrors == 1 })
	if m.State() != StateOpen {
		t.Errorf("State() = %v after null frame, want open", m.State())
	}
	if !strings.Contains(logs.String(), "failed to parse message") {
		t.Errorf("expected parse error in logs, got: %s", logs.String())
	}
}
