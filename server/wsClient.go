package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/accesswatch/proto"
)

const writeWait = 5 * time.Second

var errClientClosed = errors.New("client closed")

type WSClient struct {
	ClientMetadata
	conn *websocket.Conn

	mu     sync.Mutex // one writer at a time
	closed bool
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	meta := ClientMetadata{Id: generateClientId("ws"), ConnectedAt: time.Now()}
	if conn != nil {
		meta.RemoteAddr = conn.RemoteAddr().String()
	}
	return &WSClient{
		conn:           conn,
		ClientMetadata: meta,
	}
}

func (c *WSClient) Send(msg proto.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return errClientClosed
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.TextMessage, jsonData)
	if err != nil {
		return err
	}

	slog.Debug("Sent WebSocket Message", "to", c.Id, "type", msg.Type, "size", len(msg.Payload))
	return nil
}

// Close sends a going-away close frame and closes the connection. It is safe
// to call more than once.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		c.closed = true
		return nil
	}
	c.closed = true

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

func (c *WSClient) Meta() *ClientMetadata {
	return &c.ClientMetadata
}
