package proto

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceFault   DeviceStatus = "fault"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceFault:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AccessEvent is a single badge/card presentation at a door reader.
type AccessEvent struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DoorName   string    `json:"door_name"`
	CardID     string    `json:"card_id"`
	Subject    string    `json:"subject,omitempty"` // cardholder name when known
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason,omitempty"` // why access was denied
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *AccessEvent) Validate() error {
	if strings.TrimSpace(e.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if strings.TrimSpace(e.CardID) == "" {
		return errors.New("card_id is required")
	}
	return nil
}

// Device is a reader, controller or lock known to the dashboard.
type Device struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Location string       `json:"location,omitempty"`
	Kind     string       `json:"kind,omitempty"` // "reader", "controller", "lock"
	Status   DeviceStatus `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
}

func (d *Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("device id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("device name is required")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid device status %q", d.Status)
	}
	return nil
}

type Alert struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

type DashboardStats struct {
	TotalEvents    int       `json:"total_events"`
	GrantedEvents  int       `json:"granted_events"`
	DeniedEvents   int       `json:"denied_events"`
	DevicesOnline  int       `json:"devices_online"`
	DevicesOffline int       `json:"devices_offline"` // offline and fault
	OpenAlerts     int       `json:"open_alerts"`
	GeneratedAt    time.Time `json:"generated_at"`
}
