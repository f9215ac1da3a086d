package services

import (
	"context"

	"github.com/mbocsi/accesswatch/proto"
)

// AccessService records badge presentations and lists recent ones
type AccessService interface {
	Record(ctx context.Context, e proto.AccessEvent) (proto.AccessEvent, error)
	List(ctx context.Context, deviceID string, limit int) ([]proto.AccessEvent, error)
}

// DeviceService handles device-related operations
type DeviceService interface {
	List(ctx context.Context, status proto.DeviceStatus) ([]proto.Device, error)
	Get(ctx context.Context, id string) (*proto.Device, error)
	Upsert(ctx context.Context, d proto.Device) (proto.Device, error)

	// SetStatus records a status report. Going offline or into fault raises an alert.
	SetStatus(ctx context.Context, id string, status proto.DeviceStatus) (proto.Device, error)
}

type AlertService interface {
	List(ctx context.Context, all bool) ([]proto.Alert, error)
	Acknowledge(ctx context.Context, id string) (proto.Alert, error)
}

type StatsService interface {
	Get(ctx context.Context) (proto.DashboardStats, error)
}

// Publisher fans a change notification out to realtime subscribers
type Publisher interface {
	Publish(msg proto.Message)
}

type PublisherFunc func(msg proto.Message)

func (f PublisherFunc) Publish(msg proto.Message) { f(msg) }

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Access AccessService
	Device DeviceService
	Alert  AlertService
	Stats  StatsService
}
