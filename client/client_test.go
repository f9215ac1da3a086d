package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mbocsi/accesswatch/metrics"
	"github.com/mbocsi/accesswatch/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConn delivers frames pushed by the test and records writes.
type fakeConn struct {
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closes   int
	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []byte),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		return nil, c.closeErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	gate := c.closeGate
	c.mu.Unlock()
	c.fail(errors.New("use of closed connection"))
	if gate != nil {
		<-gate
	}
	return nil
}

func (c *fakeConn) slowClose() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeGate = make(chan struct{})
	return c.closeGate
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fail ends the connection as if the server dropped it.
func (c *fakeConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}

func (c *fakeConn) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.inbox <- []byte(frame):
	case <-c.done:
		t.Fatalf("push %q on closed connection", frame)
	case <-time.After(waitFor):
		t.Fatalf("push %q timed out", frame)
	}
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer blocks every Dial until the test accepts or rejects it.
type fakeDialer struct {
	results  chan dialResult
	attempts atomic.Int32

	mu   sync.Mutex
	urls []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	d.attempts.Add(1)

	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) Attempts() int {
	return int(d.attempts.Load())
}

func (d *fakeDialer) accept(t *testing.T) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	select {
	case d.results <- dialResult{conn: conn}:
	case <-time.After(waitFor):
		t.Fatal("no dial attempt to accept")
	}
	return conn
}

func (d *fakeDialer) reject(t *testing.T, err error) {
	t.Helper()
	select {
	case d.results <- dialResult{err: err}:
	case <-time.After(waitFor):
		t.Fatal("no dial attempt to reject")
	}
}

type recordingCache struct {
	mu       sync.Mutex
	patterns []string
	failOn   string
}

func (r *recordingCache) Invalidate(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
	if pattern == r.failOn {
		return errors.New("cache unavailable")
	}
	return nil
}

func (r *recordingCache) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.patterns...)
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []Status
}

func (s *statusRecorder) record(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, status)
}

func (s *statusRecorder) Changes() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.changes...)
}

type harness struct {
	client   *Client
	dialer   *fakeDialer
	clock    *clockwork.FakeClock
	cache    *recordingCache
	statuses *statusRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer:   newFakeDialer(),
		clock:    clockwork.NewFakeClock(),
		cache:    &recordingCache{},
		statuses: &statusRecorder{},
	}

	cfg := DefaultConfig()
	cfg.Origin = "http://dashboard.local:8080"
	cfg.Dialer = h.dialer
	cfg.Clock = h.clock
	cfg.OnStatusChange = h.statuses.record

	c, err := NewClient(cfg, h.cache)
	require.NoError(t, err)
	h.client = c
	t.Cleanup(c.Deactivate)
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.client.State() == want }, waitFor, tick,
		"expected state %s, got %s", want, h.client.State())
}

func (h *harness) waitAttempts(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.dialer.Attempts() == want }, waitFor, tick,
		"expected %d dial attempts, got %d", want, h.dialer.Attempts())
}

func (h *harness) waitPatterns(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, h.cache.Patterns()) }, waitFor, tick,
		"expected invalidations %v, got %v", want, h.cache.Patterns())
}

// open activates the client and accepts the first dial.
func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	h.client.Activate()
	conn := h.dialer.accept(t)
	h.waitState(t, StateOpen)
	return conn
}

func TestNewClient_RequiresInvalidator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = "http://localhost"

	_, err := NewClient(cfg, nil)
	assert.Error(t, err)
}

func TestNewClient_RejectsBadOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = "ftp://localhost"

	_, err := NewClient(cfg, &recordingCache{})
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&Config{Origin: "https://dash.example.com"}, &recordingCache{})
	require.NoError(t, err)

	assert.Equal(t, "wss://dash.example.com/ws", c.URL())
	assert.Equal(t, DefaultReconnectDelay, c.delay)
	assert.Equal(t, DefaultRules(), c.rules)
	assert.IsType(t, &WebSocketDialer{}, c.dialer)
}

func TestClient_NotConnectedBeforeActivate(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, Disconnected, h.client.Status())
	assert.False(t, h.client.Connected())
	assert.Equal(t, StateIdle, h.client.State())
	assert.Equal(t, 0, h.dialer.Attempts())
}

func TestClient_ActivateOpensChannel(t *testing.T) {
	h := newHarness(t)

	h.client.Activate()
	h.waitAttempts(t, 1)
	assert.Equal(t, StateConnecting, h.client.State())
	assert.False(t, h.client.Connected(), "Expected not connected while dialing")

	h.dialer.accept(t)
	h.waitState(t, StateOpen)

	assert.True(t, h.client.Connected())
	assert.Equal(t, []Status{Connected}, h.statuses.Changes())

	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	assert.Equal(t, []string{"ws://dashboard.local:8080/ws"}, h.dialer.urls)
}

func TestClient_ActivateIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.client.Activate()
	h.client.Activate()
	h.waitAttempts(t, 1)

	h.dialer.accept(t)
	h.waitState(t, StateOpen)

	h.client.Activate()
	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)
}

func TestClient_AccessUpdateInvalidatesLogsAndStats(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(t, `{"type":"access-update","payload":{"id":"e1"}}`)

	h.waitPatterns(t, proto.KeyAccessLogs, proto.KeyDashboardStats)
}

func TestClient_DeviceUpdateInvalidatesDevicesAndAlerts(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(t, `{"type":"device-update"}`)

	h.waitPatterns(t, proto.KeyDevices, proto.KeyAlerts)
}

func TestClient_MessagesHandledInOrder(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(t, `{"type":"device-update"}`)
	conn.push(t, `{"type":"access-update"}`)
	conn.push(t, `{"type":"device-update"}`)

	h.waitPatterns(t,
		proto.KeyDevices, proto.KeyAlerts,
		proto.KeyAccessLogs, proto.KeyDashboardStats,
		proto.KeyDevices, proto.KeyAlerts,
	)
}

func TestClient_IgnoresConnectedUnknownAndMalformed(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	frames := []string{
		`{"type":"connected","payload":{"client_id":"abc"}}`,
		`not json`,
		`[1,2,3]`,
		`{"type":7}`,
		`{"payload":{}}`,
		`{"type":"mystery-update"}`,
		`{"type":"ACCESS-UPDATE"}`,
		``,
	}
	for _, f := range frames {
		conn.push(t, f)
	}
	// Sentinel: once it is handled, everything before it has been too.
	conn.push(t, `{"type":"access-update"}`)

	h.waitPatterns(t, proto.KeyAccessLogs, proto.KeyDashboardStats)
	assert.True(t, h.client.Connected(), "Expected bad frames to leave the channel open")
	assert.Equal(t, 1, h.dialer.Attempts())
}

func TestClient_ExtraFieldsDoNotMatter(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(t, `{"type":"device-update","timestamp":"not-a-number","payload":"x","extra":[1]}`)

	h.waitPatterns(t, proto.KeyDevices, proto.KeyAlerts)
}

func TestClient_InvalidationFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.cache.failOn = proto.KeyDevices
	conn := h.open(t)

	conn.push(t, `{"type":"device-update"}`)
	conn.push(t, `{"type":"access-update"}`)

	h.waitPatterns(t, proto.KeyDevices, proto.KeyAlerts, proto.KeyAccessLogs, proto.KeyDashboardStats)
	assert.True(t, h.client.Connected())
}

func TestClient_ReconnectsAfterFixedDelay(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.fail(errors.New("server went away"))
	h.waitState(t, StateClosed)
	assert.False(t, h.client.Connected())

	h.clock.Advance(DefaultReconnectDelay - time.Millisecond)
	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)

	h.clock.Advance(time.Millisecond)
	h.waitAttempts(t, 2)

	h.dialer.accept(t)
	h.waitState(t, StateOpen)
	assert.Equal(t, []Status{Connected, Disconnected, Connected}, h.statuses.Changes())
}

func TestClient_FailedDialRetriesWithoutBackoff(t *testing.T) {
	h := newHarness(t)

	h.client.Activate()
	for attempt := 1; attempt <= 3; attempt++ {
		h.waitAttempts(t, attempt)
		h.dialer.reject(t, errors.New("connection refused"))
		h.waitState(t, StateClosed)
		h.clock.Advance(DefaultReconnectDelay)
	}
	h.waitAttempts(t, 4)

	assert.Empty(t, h.statuses.Changes(), "Expected no status change while never connected")
}

func TestClient_ActivateWhileReconnectPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.fail(errors.New("reset"))
	h.waitState(t, StateClosed)

	h.client.Activate()
	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateClosed, h.client.State())
}

func TestClient_DeactivateClosesOpenChannel(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	h.client.Deactivate()

	assert.True(t, conn.Closed(), "Expected connection to be closed")
	assert.Equal(t, StateDeactivated, h.client.State())
	assert.False(t, h.client.Connected())

	h.clock.Advance(10 * DefaultReconnectDelay)
	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, []Status{Connected, Disconnected}, h.statuses.Changes())
}

func TestClient_SlowCloseAfterFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)
	release := conn.slowClose()
	defer close(release)

	conn.fail(errors.New("server went away"))
	require.Eventually(t, func() bool { return conn.Closes() == 1 }, waitFor, tick)

	h.waitState(t, StateClosed)
	h.client.Send(map[string]string{"type": "ping"})
	assert.Empty(t, conn.Written())
}

func TestClient_SlowCloseOnDeactivateDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)
	release := conn.slowClose()

	done := make(chan struct{})
	go func() {
		h.client.Deactivate()
		close(done)
	}()
	require.Eventually(t, func() bool { return conn.Closes() == 1 }, waitFor, tick)

	h.waitState(t, StateDeactivated)
	assert.False(t, h.client.Connected())

	close(release)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Expected Deactivate to return once the close finished")
	}
}

func TestClient_DeactivateCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.fail(errors.New("reset"))
	h.waitState(t, StateClosed)

	h.client.Deactivate()
	h.clock.Advance(10 * DefaultReconnectDelay)

	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateDeactivated, h.client.State())
}

func TestClient_DeactivateAbandonsPendingDial(t *testing.T) {
	h := newHarness(t)

	h.client.Activate()
	h.waitAttempts(t, 1)

	h.client.Deactivate()
	assert.Equal(t, StateDeactivated, h.client.State())

	h.clock.Advance(10 * DefaultReconnectDelay)
	assert.Never(t, func() bool { return h.dialer.Attempts() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateDeactivated, h.client.State())
	assert.False(t, h.client.Connected())
}

func TestClient_NoInvalidationAfterDeactivate(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	h.client.Deactivate()

	// The read loop may or may not pick this up before it notices the close.
	select {
	case conn.inbox <- []byte(`{"type":"device-update"}`):
	case <-time.After(50 * time.Millisecond):
	}
	assert.Never(t, func() bool { return len(h.cache.Patterns()) > 0 }, 50*time.Millisecond, tick)
}

func TestClient_DeactivateIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.client.Deactivate()
	assert.Equal(t, StateIdle, h.client.State())

	h.open(t)
	h.client.Deactivate()
	h.client.Deactivate()

	assert.Equal(t, StateDeactivated, h.client.State())
	assert.Equal(t, []Status{Connected, Disconnected}, h.statuses.Changes())
}

func TestClient_ReactivateAfterDeactivate(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.client.Deactivate()

	h.client.Activate()
	h.waitAttempts(t, 2)
	conn := h.dialer.accept(t)
	h.waitState(t, StateOpen)

	conn.push(t, `{"type":"access-update"}`)
	h.waitPatterns(t, proto.KeyAccessLogs, proto.KeyDashboardStats)
}

func TestClient_SendWhenOpen(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	h.client.Send(map[string]string{"type": "ping"})

	assert.Equal(t, []string{`{"type":"ping"}`}, conn.Written())
}

func TestClient_SendIsDroppedWhenNotOpen(t *testing.T) {
	h := newHarness(t)

	assert.NotPanics(t, func() { h.client.Send("before activate") })

	h.client.Activate()
	h.waitAttempts(t, 1)
	assert.NotPanics(t, func() { h.client.Send("while connecting") })

	conn := h.dialer.accept(t)
	h.waitState(t, StateOpen)
	conn.fail(errors.New("reset"))
	h.waitState(t, StateClosed)
	h.client.Send("while closed")

	assert.Empty(t, conn.Written())
}

func TestClient_SendSwallowsErrors(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	assert.NotPanics(t, func() { h.client.Send(make(chan int)) })

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()
	assert.NotPanics(t, func() { h.client.Send("hello") })

	assert.Empty(t, conn.Written())
	assert.True(t, h.client.Connected(), "Expected send errors not to change status")
}

func TestClient_CustomRulesAndDelay(t *testing.T) {
	dialer := newFakeDialer()
	clock := clockwork.NewFakeClock()
	cache := &recordingCache{}

	rules := Rules{"badge-update": {"/api/badges"}}
	cfg := &Config{
		Origin:         "https://dash.example.com",
		Path:           "realtime",
		ReconnectDelay: time.Second,
		Rules:          rules,
		Dialer:         dialer,
		Clock:          clock,
	}
	c, err := NewClient(cfg, cache)
	require.NoError(t, err)
	t.Cleanup(c.Deactivate)

	// Mutating the caller's rules after construction has no effect.
	rules["badge-update"][0] = "/api/other"

	assert.Equal(t, "wss://dash.example.com/realtime", c.URL())

	c.Activate()
	conn := dialer.accept(t)
	require.Eventually(t, c.Connected, waitFor, tick)

	conn.push(t, `{"type":"access-update"}`)
	conn.push(t, `{"type":"badge-update"}`)
	require.Eventually(t, func() bool { return len(cache.Patterns()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"/api/badges"}, cache.Patterns())

	conn.fail(errors.New("reset"))
	require.Eventually(t, func() bool { return c.State() == StateClosed }, waitFor, tick)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return dialer.Attempts() == 2 }, waitFor, tick)
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewClientMetrics(reg)

	dialer := newFakeDialer()
	cfg := DefaultConfig()
	cfg.Origin = "http://localhost:8080"
	cfg.Dialer = dialer
	cfg.Clock = clockwork.NewFakeClock()
	cfg.Metrics = m

	cache := &recordingCache{}
	c, err := NewClient(cfg, cache)
	require.NoError(t, err)
	t.Cleanup(c.Deactivate)

	c.Activate()
	conn := dialer.accept(t)
	require.Eventually(t, c.Connected, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))

	conn.push(t, `garbage`)
	conn.push(t, `{"type":"nope"}`)
	conn.push(t, `{"type":"device-update"}`)
	require.Eventually(t, func() bool { return len(cache.Patterns()) == 2 }, waitFor, tick)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations.WithLabelValues(proto.KeyDevices)))

	conn.fail(errors.New("reset"))
	require.Eventually(t, func() bool { return !c.Connected() }, waitFor, tick)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects))
}

func TestClient_RunDeactivatesOnCancel(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.client.Run(ctx) }()

	h.waitAttempts(t, 1)
	h.dialer.accept(t)
	h.waitState(t, StateOpen)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDeactivated, h.client.State())
	assert.False(t, h.client.Connected())
}
