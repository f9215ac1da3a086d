package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/store"
)

// DeviceServiceImpl implements DeviceService
type DeviceServiceImpl struct {
	repo store.Repository
	pub  Publisher
}

// NewDeviceService creates a new device service
func NewDeviceService(repo store.Repository, pub Publisher) DeviceService {
	return &DeviceServiceImpl{
		repo: repo,
		pub:  pub,
	}
}

// List returns all devices, optionally only those with the given status
func (ds *DeviceServiceImpl) List(ctx context.Context, status proto.DeviceStatus) ([]proto.Device, error) {
	if status != "" && !status.Valid() {
		return nil, invalidInput(fmt.Sprintf("Invalid device status: %q", status), nil)
	}

	devices, err := ds.repo.ListDevices(ctx, status)
	if err != nil {
		return nil, storeError(err, "Devices", "")
	}
	return devices, nil
}

// Get returns a specific device by ID
func (ds *DeviceServiceImpl) Get(ctx context.Context, id string) (*proto.Device, error) {
	d, err := ds.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, storeError(err, "Device", id)
	}
	return &d, nil
}

func (ds *DeviceServiceImpl) Upsert(ctx context.Context, d proto.Device) (proto.Device, error) {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	if d.Status == "" {
		d.Status = proto.DeviceOnline
	}
	if err := d.Validate(); err != nil {
		return proto.Device{}, invalidInput("Invalid device", err)
	}

	saved, err := ds.repo.UpsertDevice(ctx, d)
	if err != nil {
		return proto.Device{}, storeError(err, "Device", d.ID)
	}

	slog.Info("Device saved", "device_id", saved.ID, "status", saved.Status)
	publish(ds.pub, proto.TypeDeviceUpdate, saved)
	return saved, nil
}

func (ds *DeviceServiceImpl) SetStatus(ctx context.Context, id string, status proto.DeviceStatus) (proto.Device, error) {
	if !status.Valid() {
		return proto.Device{}, invalidInput(fmt.Sprintf("Invalid device status: %q", status), nil)
	}

	d, prev, err := ds.repo.UpdateDeviceStatus(ctx, id, status)
	if err != nil {
		return proto.Device{}, storeError(err, "Device", id)
	}

	if prev != status {
		slog.Info("Device status changed", "device_id", id, "from", prev, "to", status)
		if severity, ok := alertSeverity(status); ok {
			alert := proto.Alert{
				DeviceID: id,
				Severity: severity,
				Message:  fmt.Sprintf("%s is %s", displayName(d), status),
			}
			if _, err := ds.repo.CreateAlert(ctx, alert); err != nil {
				slog.Warn("Failed to raise device alert", "device_id", id, "error", err)
			}
		}
	}

	publish(ds.pub, proto.TypeDeviceUpdate, d)
	return d, nil
}

func alertSeverity(status proto.DeviceStatus) (proto.Severity, bool) {
	switch status {
	case proto.DeviceOffline:
		return proto.SeverityWarning, true
	case proto.DeviceFault:
		return proto.SeverityCritical, true
	}
	return "", false
}

func displayName(d proto.Device) string {
	if d.Location != "" {
		return d.Name + " (" + d.Location + ")"
	}
	return d.Name
}
