// Package client keeps a dashboard's cached data fresh from the server's
// realtime channel.
//
// A Client owns exactly one push connection at a time. It walks the states
// Idle → Connecting → Open → Closed → Connecting … until Deactivate, retrying
// at a fixed delay for as long as it is active. Each inbound frame is decoded
// just far enough to read its "type"; known types invalidate a fixed list of
// cache keys, everything else is dropped.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mbocsi/accesswatch/logging"
	"github.com/mbocsi/accesswatch/metrics"
)

const DefaultReconnectDelay = 5 * time.Second

type Config struct {
	// Origin is the origin of the dashboard page, e.g. "https://dash.example.com".
	// The channel address is derived from it with ChannelURL.
	Origin string

	// Path is the channel path on the origin. Defaults to DefaultPath.
	Path string

	// ReconnectDelay is the fixed wait after a failed dial or a closed channel.
	ReconnectDelay time.Duration

	// Rules maps message types to cache-key patterns. Defaults to DefaultRules.
	Rules Rules

	// Dialer opens channels. Defaults to a gorilla/websocket dialer.
	Dialer Dialer

	// Clock schedules reconnects. Defaults to the real clock.
	Clock clockwork.Clock

	// Metrics is optional.
	Metrics *metrics.ClientMetrics

	// OnStatusChange is called on every connected / not connected transition.
	// It runs with the client's lock held: it may call Status or Connected but
	// must not block or call Activate, Deactivate or Send.
	OnStatusChange func(Status)
}

func DefaultConfig() *Config {
	return &Config{
		Path:           DefaultPath,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

type Client struct {
	url            string
	delay          time.Duration
	rules          Rules
	dialer         Dialer
	clock          clockwork.Clock
	cache          Invalidator
	metrics        *metrics.ClientMetrics
	onStatusChange func(Status)
	log            *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64 // bumped for every attempt and on Deactivate; stale events compare unequal
	conn   Conn
	timer  clockwork.Timer
	cancel context.CancelFunc
	ctx    context.Context

	connected atomic.Bool
}

// inbound is the part of a frame the client interprets.
type inbound struct {
	Type string `json:"type"`
}

func NewClient(cfg *Config, cache Invalidator) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cache == nil {
		return nil, errors.New("cache invalidator is required")
	}

	url, err := ChannelURL(cfg.Origin, cfg.Path)
	if err != nil {
		return nil, err
	}

	c := &Client{
		url:            url,
		delay:          cfg.ReconnectDelay,
		rules:          cfg.Rules,
		dialer:         cfg.Dialer,
		clock:          cfg.Clock,
		cache:          cache,
		metrics:        cfg.Metrics,
		onStatusChange: cfg.OnStatusChange,
		log:            logging.Nop(),
	}
	if c.delay <= 0 {
		c.delay = DefaultReconnectDelay
	}
	if c.rules == nil {
		c.rules = DefaultRules()
	} else {
		c.rules = c.rules.clone()
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c, nil
}

// SetLogger sets the operational logger. nil restores the no-op logger.
func (c *Client) SetLogger(log *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if log == nil {
		log = logging.Nop()
	}
	c.log = log
	if d, ok := c.dialer.(loggerSetter); ok {
		d.SetLogger(log)
	}
}

type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// URL is the channel address the client dials.
func (c *Client) URL() string {
	return c.url
}

// Status never blocks and is valid before the first Activate.
func (c *Client) Status() Status {
	return Status(c.connected.Load())
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activate starts the connection lifecycle. It does nothing while a
// connection is pending, open, or waiting to be retried.
func (c *Client) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && c.state != StateDeactivated {
		return
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.log.Info("Activating realtime client", "url", c.url)
	c.connectLocked()
}

// Deactivate closes the connection, abandons a pending dial and cancels a
// pending reconnect. The client stays silent until the next Activate.
func (c *Client) Deactivate() {
	c.mu.Lock()
	conn, log := c.deactivateLocked()
	c.mu.Unlock()
	closeConn(conn, log)
}

func (c *Client) deactivateLocked() (Conn, *slog.Logger) {
	if c.state == StateIdle || c.state == StateDeactivated {
		return nil, c.log
	}

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil

	c.state = StateDeactivated
	c.setStatusLocked(Disconnected)
	c.log.Info("Realtime client deactivated", "url", c.url)
	return conn, c.log
}

// closeConn runs outside c.mu: a close handshake can block for up to
// closeWriteTimeout.
func closeConn(conn Conn, log *slog.Logger) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.Debug("Error closing realtime channel", "error", err)
	}
}

// Run activates the client and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.Activate()
	<-ctx.Done()
	c.Deactivate()
	return ctx.Err()
}

// Send writes payload as one JSON text frame if the channel is open and
// silently drops it otherwise. Nothing is queued or retried.
func (c *Client) Send(payload any) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	log := c.log
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Debug("Dropping outbound realtime message", "panic", r)
		}
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		log.Debug("Dropping unencodable realtime message", "error", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Debug("Dropping realtime message after write failure", "error", err)
	}
}

func (c *Client) connectLocked() {
	c.gen++
	c.state = StateConnecting
	c.timer = nil
	if c.metrics != nil {
		c.metrics.ConnectAttempts.Inc()
	}
	go c.run(c.ctx, c.gen)
}

// run owns one attempt: dial, then read until the channel fails. Reading on
// this goroutine keeps message handling in transport order.
func (c *Client) run(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.closed(gen, err)
		return
	}
	if !c.opened(gen, conn) {
		_ = conn.Close()
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, err)
			return
		}
		c.handleMessage(ctx, gen, data)
	}
}

func (c *Client) opened(gen uint64, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateConnecting {
		return false
	}

	c.conn = conn
	c.state = StateOpen
	c.setStatusLocked(Connected)
	c.log.Info("Realtime channel open", "url", c.url)
	return true
}

// closed handles dial failures, transport errors and closes alike.
func (c *Client) closed(gen uint64, cause error) {
	c.mu.Lock()
	conn, log := c.closedLocked(gen, cause)
	c.mu.Unlock()
	closeConn(conn, log)
}

func (c *Client) closedLocked(gen uint64, cause error) (Conn, *slog.Logger) {
	if gen != c.gen {
		return nil, c.log
	}

	conn := c.conn
	c.conn = nil

	c.state = StateClosed
	c.setStatusLocked(Disconnected)
	if c.metrics != nil {
		c.metrics.Disconnects.Inc()
	}
	c.log.Info("Realtime channel closed, scheduling reconnect", "url", c.url, "delay", c.delay, "error", cause)

	c.timer = c.clock.AfterFunc(c.delay, func() { c.reconnect(gen) })
	return conn, c.log
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateClosed {
		return
	}
	c.log.Debug("Reconnecting realtime channel", "url", c.url)
	c.connectLocked()
}

func (c *Client) handleMessage(ctx context.Context, gen uint64, data []byte) {
	c.mu.Lock()
	current := gen == c.gen && c.state == StateOpen
	log := c.log
	c.mu.Unlock()
	if !current {
		return
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug("Discarding malformed realtime message", "error", err, "size", len(data))
		c.observe("malformed")
		return
	}

	patterns, ok := c.rules.Patterns(msg.Type)
	if !ok {
		log.Debug("Discarding realtime message of unknown type", "type", msg.Type)
		c.observe("unknown")
		return
	}
	c.observe("handled")

	for _, pattern := range patterns {
		if err := c.cache.Invalidate(ctx, pattern); err != nil {
			log.Warn("Cache invalidation failed", "type", msg.Type, "pattern", pattern, "error", err)
			continue
		}
		if c.metrics != nil {
			c.metrics.Invalidations.WithLabelValues(pattern).Inc()
		}
	}
	log.Debug("Realtime message handled", "type", msg.Type, "patterns", len(patterns))
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(outcome).Inc()
	}
}

func (c *Client) setStatusLocked(s Status) {
	if c.connected.Swap(bool(s)) == bool(s) {
		return
	}
	if c.metrics != nil {
		if s {
			c.metrics.Connected.Set(1)
		} else {
			c.metrics.Connected.Set(0)
		}
	}
	if c.onStatusChange != nil {
		c.onStatusChange(s)
	}
}
