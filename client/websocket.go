package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/accesswatch/logging"
)

const closeWriteTimeout = time.Second

type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header

	log atomic.Pointer[slog.Logger]
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: websocket.DefaultDialer}
}

// SetLogger sets the logger handed to connections dialed from now on. nil
// restores the no-op logger. Client.SetLogger calls it for its dialer.
func (d *WebSocketDialer) SetLogger(log *slog.Logger) {
	d.log.Store(log)
}

func (d *WebSocketDialer) logger() *slog.Logger {
	if log := d.log.Load(); log != nil {
		return log
	}
	return logging.Nop()
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	return &wsConn{conn: conn, log: d.logger()}, nil
}

// wsConn serializes writers; gorilla allows one concurrent writer per conn.
type wsConn struct {
	conn    *websocket.Conn
	log     *slog.Logger
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("WebSocket connection error: %w", err)
			}
			return nil, fmt.Errorf("connection closed: %w", err)
		}
		if msgType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text WebSocket frame", "frame_type", msgType, "size", len(data))
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	// WriteControl may run concurrently with WriteMessage.
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	if err != nil && err != websocket.ErrCloseSent {
		c.log.Debug("Failed to send close message", "error", err)
	}
	return c.conn.Close()
}
