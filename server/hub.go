package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/accesswatch/metrics"
	"github.com/mbocsi/accesswatch/proto"
)

const (
	DefaultMaxClients = 64
	maxInboundSize    = 4096
)

// Hub accepts dashboard connections on /ws. Dashboards only listen: the hub
// greets each one with a connected message and drops anything they send.
type Hub struct {
	registry *ClientRegistry
	upgrader websocket.Upgrader
	metrics  *metrics.HubMetrics

	maxClients     int
	allowedOrigins map[string]struct{}

	onConnect    func(Client)
	onDisconnect func(Client)

	conns sync.WaitGroup
}

func NewHub(registry *ClientRegistry) *Hub {
	if registry == nil {
		registry = NewClientRegistry()
	}
	h := &Hub{
		registry:   registry,
		maxClients: DefaultMaxClients,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) SetMaxClients(n int) {
	h.maxClients = n
}

// SetAllowedOrigins restricts browser connections to the given origins.
// With none set every origin is accepted.
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.allowedOrigins = make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			h.allowedOrigins[strings.ToLower(o)] = struct{}{}
		}
	}
}

func (h *Hub) SetMetrics(m *metrics.HubMetrics) {
	h.metrics = m
}

func (h *Hub) OnConnect(fn func(Client)) {
	h.onConnect = fn
}

func (h *Hub) OnDisconnect(fn func(Client)) {
	h.onDisconnect = fn
}

func (h *Hub) Registry() *ClientRegistry {
	return h.registry
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send one.
		return true
	}
	_, ok := h.allowedOrigins[strings.ToLower(origin)]
	return ok
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxClients > 0 && h.registry.Count() >= h.maxClients {
		h.reject(r)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewWSClient(conn)
	client.UserAgent = r.UserAgent()

	if !h.registry.TryStore(client, h.maxClients) {
		h.reject(r)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.conns.Add(1)
	go h.handleConnection(conn, client)
}

func (h *Hub) reject(r *http.Request) {
	slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
	if h.metrics != nil {
		h.metrics.Rejected.Inc()
	}
}

func (h *Hub) handleConnection(conn *websocket.Conn, client *WSClient) {
	defer h.conns.Done()
	slog.Info("Dashboard connected", "addr", client.RemoteAddr, "id", client.Id)

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}

	defer func() {
		h.registry.Delete(client.Id)
		_ = client.Close()
		if h.metrics != nil {
			h.metrics.ActiveConnections.Dec()
		}
		if h.onDisconnect != nil {
			h.onDisconnect(client)
		}
		slog.Info("Dashboard disconnected", "addr", client.RemoteAddr, "id", client.Id)
	}()

	hello, err := proto.NewMessage(proto.TypeConnected, proto.ConnectedPayload{ClientId: client.Id})
	if err == nil {
		err = client.Send(hello)
	}
	if err != nil {
		slog.Warn("Failed to greet dashboard", "id", client.Id, "error", err)
		return
	}

	if h.onConnect != nil {
		h.onConnect(client)
	}

	conn.SetReadLimit(maxInboundSize)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection error", "id", client.Id, "error", err)
			}
			return
		}
		slog.Debug("Ignoring inbound dashboard frame", "id", client.Id, "frame_type", msgType, "size", len(data))
	}
}

// Shutdown closes every dashboard connection and waits for their handlers
// to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, client := range h.registry.List() {
		_ = client.Close()
	}

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
