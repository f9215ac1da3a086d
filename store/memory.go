package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mbocsi/accesswatch/proto"
)

type Memory struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	events  []proto.AccessEvent // append order
	devices map[string]proto.Device
	alerts  []proto.Alert // append order
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:   clock,
		devices: make(map[string]proto.Device),
	}
}

func (m *Memory) RecordAccess(ctx context.Context, e proto.AccessEvent) (proto.AccessEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = m.clock.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return e, nil
}

func (m *Memory) ListAccess(ctx context.Context, f AccessFilter) ([]proto.AccessEvent, error) {
	limit := limitOrDefault(f.Limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]proto.AccessEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if f.DeviceID != "" && e.DeviceID != f.DeviceID {
			continue
		}
		out = append(out, e)
	}
	// Callers may supply OccurredAt, so arrival order is not time order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertDevice(ctx context.Context, d proto.Device) (proto.Device, error) {
	if d.LastSeen.IsZero() {
		d.LastSeen = m.clock.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
	return d, nil
}

func (m *Memory) GetDevice(ctx context.Context, id string) (proto.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return proto.Device{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDevices(ctx context.Context, status proto.DeviceStatus) ([]proto.Device, error) {
	m.mu.RLock()
	out := make([]proto.Device, 0, len(m.devices))
	for _, d := range m.devices {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateDeviceStatus(ctx context.Context, id string, status proto.DeviceStatus) (proto.Device, proto.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return proto.Device{}, "", ErrNotFound
	}
	prev := d.Status
	d.Status = status
	d.LastSeen = m.clock.Now().UTC()
	m.devices[id] = d
	return d, prev, nil
}

func (m *Memory) CreateAlert(ctx context.Context, a proto.Alert) (proto.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.clock.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *Memory) ListAlerts(ctx context.Context, all bool) ([]proto.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]proto.Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !all && m.alerts[i].Acknowledged {
			continue
		}
		out = append(out, m.alerts[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AcknowledgeAlert(ctx context.Context, id string) (proto.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return m.alerts[i], nil
		}
	}
	return proto.Alert{}, ErrNotFound
}

func (m *Memory) Stats(ctx context.Context) (proto.DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := proto.DashboardStats{
		TotalEvents: len(m.events),
		GeneratedAt: m.clock.Now().UTC(),
	}
	for _, e := range m.events {
		if e.Granted {
			s.GrantedEvents++
		} else {
			s.DeniedEvents++
		}
	}
	for _, d := range m.devices {
		if d.Status == proto.DeviceOnline {
			s.DevicesOnline++
		} else {
			s.DevicesOffline++
		}
	}
	for _, a := range m.alerts {
		if !a.Acknowledged {
			s.OpenAlerts++
		}
	}
	return s, nil
}

func (m *Memory) Close() error { return nil }
