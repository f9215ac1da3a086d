package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/services"
)

// Tools answers MCP tool calls from the service layer. Mutations go through
// the same services as the HTTP API, so connected dashboards are notified.
type Tools struct {
	services *services.ServiceContainer
}

func NewTools(svc *services.ServiceContainer) *Tools {
	return &Tools{services: svc}
}

func (t *Tools) Register(s *server.MCPServer) {
	t.registerReadTools(s)
	t.registerDeviceTools(s)
}

func (t *Tools) registerReadTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("recent_access_events",
		mcp.WithDescription("List the most recent badge presentations, newest first"),
		mcp.WithString("device_id",
			mcp.Description("Only events from this device"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events (default 50, max 500)"),
		),
	), t.handleRecentAccess)

	s.AddTool(mcp.NewTool("dashboard_stats",
		mcp.WithDescription("Get the dashboard summary counters"),
	), t.handleStats)

	s.AddTool(mcp.NewTool("list_alerts",
		mcp.WithDescription("List device alerts"),
		mcp.WithBoolean("include_acknowledged",
			mcp.Description("Include alerts that were already acknowledged"),
		),
	), t.handleListAlerts)
}

func (t *Tools) registerDeviceTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List access-control devices"),
		mcp.WithString("status",
			mcp.Description("Only devices in this status"),
			mcp.Enum(string(proto.DeviceOnline), string(proto.DeviceOffline), string(proto.DeviceFault)),
		),
	), t.handleListDevices)

	s.AddTool(mcp.NewTool("set_device_status",
		mcp.WithDescription("Report a device status; going offline or into fault raises an alert"),
		mcp.WithString("device_id",
			mcp.Required(),
			mcp.Description("Device to update"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Enum(string(proto.DeviceOnline), string(proto.DeviceOffline), string(proto.DeviceFault)),
		),
	), t.handleSetDeviceStatus)

	s.AddTool(mcp.NewTool("acknowledge_alert",
		mcp.WithDescription("Acknowledge an open alert"),
		mcp.WithString("alert_id",
			mcp.Required(),
		),
	), t.handleAcknowledgeAlert)
}

func (t *Tools) handleRecentAccess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID := request.GetString("device_id", "")
	limit := int(request.GetFloat("limit", 0))

	events, err := t.services.Access.List(ctx, deviceID, limit)
	if err != nil {
		return toolError("Error listing access events", err), nil
	}
	return jsonResult(map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (t *Tools) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.services.Stats.Get(ctx)
	if err != nil {
		return toolError("Error computing stats", err), nil
	}
	return jsonResult(stats)
}

func (t *Tools) handleListAlerts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alerts, err := t.services.Alert.List(ctx, request.GetBool("include_acknowledged", false))
	if err != nil {
		return toolError("Error listing alerts", err), nil
	}
	return jsonResult(map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (t *Tools) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := proto.DeviceStatus(request.GetString("status", ""))

	devices, err := t.services.Device.List(ctx, status)
	if err != nil {
		return toolError("Error listing devices", err), nil
	}
	return jsonResult(map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (t *Tools) handleSetDeviceStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("device_id")
	if err != nil {
		return mcp.NewToolResultError("device_id is required and must be a string"), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required and must be a string"), nil
	}

	d, err := t.services.Device.SetStatus(ctx, id, proto.DeviceStatus(status))
	if err != nil {
		return toolError("Error setting device status", err), nil
	}
	return jsonResult(d)
}

func (t *Tools) handleAcknowledgeAlert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("alert_id")
	if err != nil {
		return mcp.NewToolResultError("alert_id is required and must be a string"), nil
	}

	a, err := t.services.Alert.Acknowledge(ctx, id)
	if err != nil {
		return toolError("Error acknowledging alert", err), nil
	}
	return jsonResult(a)
}

// toolError reports err to the model without failing the call. Internal
// details stay out of the result.
func toolError(prefix string, err error) *mcp.CallToolResult {
	se := services.AsServiceError(err)
	if se.Code == services.ErrCodeInternal {
		return mcp.NewToolResultError(prefix + ": internal error")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, se.Error()))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
