package services

import (
	"context"
	"log/slog"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/store"
)

type AlertServiceImpl struct {
	repo store.Repository
	pub  Publisher
}

func NewAlertService(repo store.Repository, pub Publisher) AlertService {
	return &AlertServiceImpl{repo: repo, pub: pub}
}

func (as *AlertServiceImpl) List(ctx context.Context, all bool) ([]proto.Alert, error) {
	alerts, err := as.repo.ListAlerts(ctx, all)
	if err != nil {
		return nil, storeError(err, "Alerts", "")
	}
	return alerts, nil
}

// Acknowledge is announced as a device-update, the message that covers alerts.
func (as *AlertServiceImpl) Acknowledge(ctx context.Context, id string) (proto.Alert, error) {
	a, err := as.repo.AcknowledgeAlert(ctx, id)
	if err != nil {
		return proto.Alert{}, storeError(err, "Alert", id)
	}

	slog.Info("Alert acknowledged", "alert_id", id, "device_id", a.DeviceID)
	publish(as.pub, proto.TypeDeviceUpdate, a)
	return a, nil
}
