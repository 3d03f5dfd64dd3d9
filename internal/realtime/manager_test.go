package realtime

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"workspace-realtime/internal/clock"
	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/events"
	"workspace-realtime/internal/logging"
	"workspace-realtime/internal/runstatus"
)

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	inbound   chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialRecord struct {
	target string
	conn   *fakeConn
}

func (r dialRecord) query(t *testing.T, key string) string {
	t.Helper()
	u, err := url.Parse(r.target)
	if err != nil {
		t.Fatalf("parse dial target %q: %v", r.target, err)
	}
	return u.Query().Get(key)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials chan dialRecord
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan dialRecord, 64)}
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, target string) (Conn, error) {
	d.mu.Lock()
	fail := d.fail
	d.mu.Unlock()
	if fail {
		d.dials <- dialRecord{target: target}
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.dials <- dialRecord{target: target, conn: conn}
	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) dialRecord {
	t.Helper()
	select {
	case rec := <-d.dials:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a dial")
		return dialRecord{}
	}
}

func (d *fakeDialer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case rec := <-d.dials:
		t.Fatalf("unexpected dial to %s", rec.target)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *Manager) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clk    *clock.Fake
	store  *credstore.Memory
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		dialer: newFakeDialer(),
		clk:    clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		store:  credstore.NewMemory(credstore.Pair{Access: "tok-A", Renewal: "ref-A"}),
	}
	h.m = New(Options{URL: "ws://chat.test/", Dialer: h.dialer, Clock: h.clk}, h.store, logging.Discard())
	t.Cleanup(h.m.Disconnect)
	return h
}

// open connects and waits until the socket is established.
func (h harness) open(t *testing.T, workspaceID string, token string) dialRecord {
	t.Helper()
	h.m.Connect(workspaceID, token)
	rec := h.dialer.next(t)
	waitFor(t, "connection open", h.m.IsConnected)
	return rec
}

func (h harness) waitReconnecting(t *testing.T, attempts int) {
	t.Helper()
	waitFor(t, "reconnect scheduled", func() bool {
		return h.m.State() == runstatus.Reconnecting && h.m.attemptCount() == attempts
	})
}

func TestConnect_BuildsEndpointAndOpens(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok A")

	if !strings.HasPrefix(rec.target, "ws://chat.test/ws/w1?") {
		t.Fatalf("dial target = %q", rec.target)
	}
	if got := rec.query(t, "token"); got != "tok A" {
		t.Fatalf("token query = %q, want %q", got, "tok A")
	}
	if h.m.State() != runstatus.Connected {
		t.Fatalf("State() = %s", h.m.State())
	}
}

func TestClose_ReconnectsAfterBaseDelayWithCurrentCredential(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")

	if err := h.store.Set(credstore.Pair{Access: "tok-B", Renewal: "ref-B"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	rec.conn.Close()
	h.waitReconnecting(t, 1)
	if h.m.IsConnected() {
		t.Fatalf("IsConnected() = true after close")
	}
	if got := h.clk.Pending(); got != 1 {
		t.Fatalf("pending timers = %d, want only the reconnect timer", got)
	}

	h.clk.Advance(999 * time.Millisecond)
	h.dialer.expectNone(t)
	h.clk.Advance(time.Millisecond)

	again := h.dialer.next(t)
	if !strings.Contains(again.target, "/ws/w1?") {
		t.Fatalf("reconnect target = %q", again.target)
	}
	if got := again.query(t, "token"); got != "tok-B" {
		t.Fatalf("reconnect token = %q, want rotated tok-B", got)
	}
	waitFor(t, "reconnected", h.m.IsConnected)
	if got := h.m.attemptCount(); got != 0 {
		t.Fatalf("attempts after open = %d, want 0", got)
	}
}

func TestReconnect_ExponentialDelaysUntilBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFail(true)

	h.m.Connect("w1", "tok-A")
	h.dialer.next(t)

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		h.waitReconnecting(t, attempt)
		delay := ReconnectDelay(DefaultBaseDelay, attempt)
		if want := time.Second << (attempt - 1); delay != want {
			t.Fatalf("delay for attempt %d = %s, want %s", attempt, delay, want)
		}
		h.clk.Advance(delay - time.Millisecond)
		h.dialer.expectNone(t)
		h.clk.Advance(time.Millisecond)
		h.dialer.next(t)
	}

	waitFor(t, "budget exhausted", func() bool { return h.m.State() == runstatus.Exhausted })
	if got := h.clk.Pending(); got != 0 {
		t.Fatalf("pending timers after exhaustion = %d, want 0", got)
	}
	h.clk.Advance(time.Hour)
	h.dialer.expectNone(t)
	if h.m.IsConnected() {
		t.Fatalf("IsConnected() = true after exhaustion")
	}

	// An explicit Connect restores the budget.
	h.dialer.setFail(false)
	h.open(t, "w1", "tok-A")
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")
	rec.conn.Close()
	h.waitReconnecting(t, 1)

	h.m.Disconnect()
	h.m.Disconnect()

	if got := h.clk.Pending(); got != 0 {
		t.Fatalf("pending timers = %d, want 0", got)
	}
	h.clk.Advance(time.Hour)
	h.dialer.expectNone(t)
	if h.m.State() != runstatus.Disconnected {
		t.Fatalf("State() = %s", h.m.State())
	}
}

func TestDisconnect_ClosesSocketStopsHeartbeatAndClearsListeners(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")
	h.m.Events().Subscribe(events.Wildcard, func(events.Frame) {})

	h.m.Disconnect()

	if !rec.conn.isClosed() {
		t.Fatalf("socket left open")
	}
	if h.m.IsConnected() {
		t.Fatalf("IsConnected() = true")
	}
	if got := h.m.Events().Len(events.Wildcard); got != 0 {
		t.Fatalf("wildcard listeners = %d, want 0", got)
	}
	if got := h.clk.Pending(); got != 0 {
		t.Fatalf("pending timers = %d, want 0", got)
	}
	h.clk.Advance(time.Hour)
	h.dialer.expectNone(t)
}

func TestDisconnect_WhenNeverConnected(t *testing.T) {
	h := newHarness(t)
	h.m.Disconnect()
	if h.m.IsConnected() || h.m.State() != runstatus.Disconnected {
		t.Fatalf("unexpected state %s", h.m.State())
	}
}

func TestHeartbeat_PingsEveryInterval(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")

	h.clk.Advance(DefaultHeartbeatInterval - time.Second)
	select {
	case data := <-rec.conn.writes:
		t.Fatalf("early write %s", data)
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		h.clk.Advance(time.Second)
		select {
		case data := <-rec.conn.writes:
			if string(data) != `{"type":"ping"}` {
				t.Fatalf("heartbeat frame = %s", data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no heartbeat ping")
		}
		h.clk.Advance(DefaultHeartbeatInterval - time.Second)
	}
}

func TestInboundFrames_DispatchedInOrderMalformedDropped(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")

	got := make(chan string, 8)
	h.m.Events().Subscribe(events.Wildcard, func(f events.Frame) { got <- f.Type })
	newMessages := 0
	var mu sync.Mutex
	h.m.Events().Subscribe("message.new", func(events.Frame) {
		mu.Lock()
		newMessages++
		mu.Unlock()
	})

	rec.conn.inbound <- []byte(`{"type":"message.new","data":{"id":"m1"}}`)
	rec.conn.inbound <- []byte(`{not json`)
	rec.conn.inbound <- []byte(`{"type":"typing","channel_id":"c1"}`)

	for _, want := range []string{"message.new", "typing"} {
		select {
		case typ := <-got:
			if typ != want {
				t.Fatalf("frame type = %q, want %q", typ, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing frame %q", want)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if newMessages != 1 {
		t.Fatalf("message.new listener calls = %d, want 1", newMessages)
	}
	if !h.m.IsConnected() {
		t.Fatalf("malformed frame closed the connection")
	}
}

func TestSend_WhileDisconnectedIsDropped(t *testing.T) {
	h := newHarness(t)
	if err := h.m.Send(map[string]string{"type": "custom"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := h.m.SendTyping("c1", true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendTyping() error = %v, want ErrNotConnected", err)
	}
	h.dialer.expectNone(t)
}

func TestSendTyping_WireShape(t *testing.T) {
	h := newHarness(t)
	rec := h.open(t, "w1", "tok-A")

	if err := h.m.SendTyping("c1", true); err != nil {
		t.Fatalf("SendTyping() error = %v", err)
	}
	if err := h.m.Send(map[string]any{"type": "presence", "status": "away"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := []string{
		`{"type":"typing","channel_id":"c1","is_typing":true}`,
		`{"status":"away","type":"presence"}`,
	}
	for _, w := range want {
		select {
		case data := <-rec.conn.writes:
			if string(data) != w {
				t.Fatalf("frame = %s, want %s", data, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %s not written", w)
		}
	}
}

func TestConnect_ReplacesExistingSessionWithoutReconnect(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, "w1", "tok-A")

	h.m.Connect("w2", "tok-A")
	second := h.dialer.next(t)
	waitFor(t, "old socket closed", first.conn.isClosed)
	waitFor(t, "new session open", h.m.IsConnected)

	if !strings.Contains(second.target, "/ws/w2?") {
		t.Fatalf("dial target = %q", second.target)
	}
	if h.m.State() != runstatus.Connected {
		t.Fatalf("State() = %s", h.m.State())
	}
	// The old socket's close must not schedule anything.
	if got := h.clk.Pending(); got != 1 {
		t.Fatalf("pending timers = %d, want one heartbeat", got)
	}
	h.dialer.expectNone(t)
}

func TestRapidConnectDisconnect_AtMostOneLiveSocket(t *testing.T) {
	h := newHarness(t)
	const rounds = 20
	for i := 0; i < rounds; i++ {
		h.m.Connect("w1", "tok-A")
		if i%2 == 1 {
			h.m.Disconnect()
		}
	}
	h.m.Connect("w1", "tok-A")

	var conns []*fakeConn
	for i := 0; i < rounds+1; i++ {
		conns = append(conns, h.dialer.next(t).conn)
	}
	waitFor(t, "final session open", h.m.IsConnected)
	waitFor(t, "stale sockets closed", func() bool {
		live := 0
		for _, c := range conns {
			if !c.isClosed() {
				live++
			}
		}
		return live == 1
	})
	if got := h.clk.Pending(); got != 1 {
		t.Fatalf("pending timers = %d, want exactly one heartbeat", got)
	}
	h.dialer.expectNone(t)
}
