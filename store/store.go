// Package store persists access events, devices and alerts for the
// dashboard API. Memory is used for development and tests; Postgres when a
// DATABASE_URL is configured.
package store

import (
	"context"
	"errors"

	"github.com/mbocsi/accesswatch/proto"
)

var ErrNotFound = errors.New("not found")

const DefaultListLimit = 50

type AccessFilter struct {
	DeviceID string
	Limit    int // <= 0 means DefaultListLimit
}

type Repository interface {
	// RecordAccess stores e, assigning ID and OccurredAt when they are empty.
	RecordAccess(ctx context.Context, e proto.AccessEvent) (proto.AccessEvent, error)
	// ListAccess returns events newest first.
	ListAccess(ctx context.Context, f AccessFilter) ([]proto.AccessEvent, error)

	UpsertDevice(ctx context.Context, d proto.Device) (proto.Device, error)
	GetDevice(ctx context.Context, id string) (proto.Device, error)
	// ListDevices returns devices ordered by id. An empty status lists all.
	ListDevices(ctx context.Context, status proto.DeviceStatus) ([]proto.Device, error)
	// UpdateDeviceStatus sets status and LastSeen and returns the previous status.
	UpdateDeviceStatus(ctx context.Context, id string, status proto.DeviceStatus) (proto.Device, proto.DeviceStatus, error)

	CreateAlert(ctx context.Context, a proto.Alert) (proto.Alert, error)
	// ListAlerts returns alerts newest first; acknowledged ones only if all is set.
	ListAlerts(ctx context.Context, all bool) ([]proto.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) (proto.Alert, error)

	Stats(ctx context.Context) (proto.DashboardStats, error)

	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
