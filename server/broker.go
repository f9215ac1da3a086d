package server

import (
	"log/slog"

	"github.com/mbocsi/accesswatch/metrics"
	"github.com/mbocsi/accesswatch/proto"
)

// Broker fans change notifications out to every connected dashboard.
// Every client receives every message; the message type says which cached
// queries went stale.
type Broker struct {
	registry *ClientRegistry
	metrics  *metrics.HubMetrics
}

func NewBroker(registry *ClientRegistry) *Broker {
	if registry == nil {
		registry = NewClientRegistry()
	}
	return &Broker{registry: registry}
}

func (b *Broker) SetMetrics(m *metrics.HubMetrics) {
	b.metrics = m
}

func (b *Broker) Registry() *ClientRegistry {
	return b.registry
}

func (b *Broker) Publish(msg proto.Message) {
	sentCount := 0
	for _, client := range b.registry.List() {
		err := client.Send(msg)
		if err != nil {
			slog.Warn("There was an error publishing a message to a client", "type", msg.Type, "client", client.Meta().Id, "error", err.Error())
			continue
		}
		sentCount++
	}

	if b.metrics != nil {
		b.metrics.MessagesPublished.WithLabelValues(msg.Type).Inc()
	}
	slog.Debug("Message published",
		"type", msg.Type,
		"clients", sentCount,
		"size", len(msg.Payload),
	)
}
