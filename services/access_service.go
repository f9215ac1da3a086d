package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/store"
)

const MaxAccessListLimit = 500

type AccessServiceImpl struct {
	repo store.Repository
	pub  Publisher
}

func NewAccessService(repo store.Repository, pub Publisher) AccessService {
	return &AccessServiceImpl{repo: repo, pub: pub}
}

// Record stores the event and announces it with an access-update message.
func (as *AccessServiceImpl) Record(ctx context.Context, e proto.AccessEvent) (proto.AccessEvent, error) {
	e.DeviceID = strings.TrimSpace(e.DeviceID)
	e.CardID = strings.TrimSpace(e.CardID)
	if err := e.Validate(); err != nil {
		return proto.AccessEvent{}, invalidInput("Invalid access event", err)
	}
	if e.Granted {
		e.Reason = ""
	}

	saved, err := as.repo.RecordAccess(ctx, e)
	if err != nil {
		return proto.AccessEvent{}, storeError(err, "Access events", "")
	}

	slog.Debug("Access event recorded", "event_id", saved.ID, "device_id", saved.DeviceID, "granted", saved.Granted)
	publish(as.pub, proto.TypeAccessUpdate, saved)
	return saved, nil
}

func (as *AccessServiceImpl) List(ctx context.Context, deviceID string, limit int) ([]proto.AccessEvent, error) {
	if limit < 0 || limit > MaxAccessListLimit {
		return nil, invalidInput("Limit must be between 0 and 500", nil)
	}

	events, err := as.repo.ListAccess(ctx, store.AccessFilter{DeviceID: deviceID, Limit: limit})
	if err != nil {
		return nil, storeError(err, "Access events", "")
	}
	return events, nil
}
