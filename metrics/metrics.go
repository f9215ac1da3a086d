// Package metrics defines the Prometheus collectors used by accesswatch.
// Every constructor registers its collectors on the given registerer, so
// tests can pass a fresh prometheus.NewRegistry().
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "accesswatch"

// ClientMetrics tracks the realtime update client.
type ClientMetrics struct {
	Connected        prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	Disconnects      prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	Invalidations    *prometheus.CounterVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while the realtime channel is open, 0 otherwise.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connect_attempts_total",
			Help:      "Total number of channel dial attempts.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "disconnects_total",
			Help:      "Total number of failed dials and closed channels.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "messages_received_total",
			Help:      "Inbound frames by outcome (handled, unknown, malformed).",
		}, []string{"outcome"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "invalidations_total",
			Help:      "Cache invalidations issued, by key pattern.",
		}, []string{"pattern"}),
	}

	reg.MustRegister(m.Connected, m.ConnectAttempts, m.Disconnects, m.MessagesReceived, m.Invalidations)
	return m
}

// CacheMetrics tracks the dashboard query cache.
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        prometheus.Counter
	Fetches       *prometheus.CounterVec
	Invalidations prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "hits_total",
			Help:      "Total number of query cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "misses_total",
			Help:      "Total number of lookups that had to fetch from the origin.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "fetches_total",
			Help:      "Origin fetches by result (ok, error).",
		}, []string{"result"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "invalidations_total",
			Help:      "Total number of entries marked stale by invalidation.",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Fetches, m.Invalidations)
	return m
}

// HubMetrics tracks the server side of /ws.
type HubMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesPublished *prometheus.CounterVec
	Rejected          prometheus.Counter
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of WebSocket messages published, by type.",
		}, []string{"type"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "Connections refused because the client limit was reached.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished, m.Rejected)
	return m
}
