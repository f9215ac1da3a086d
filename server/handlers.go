package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/services"
)

const maxBodyBytes = 1 << 20

type statusRequest struct {
	Status proto.DeviceStatus `json:"status"`
}

func (s *Server) HandleListAccess(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.handleError(w, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "limit must be an integer"})
			return
		}
		limit = n
	}

	events, err := s.services.Access.List(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) HandleRecordAccess(w http.ResponseWriter, r *http.Request) {
	var e proto.AccessEvent
	if err := decodeJSON(w, r, &e); err != nil {
		s.handleError(w, err)
		return
	}

	saved, err := s.services.Access.Record(r.Context(), e)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Stats.Get(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleDevices(w http.ResponseWriter, r *http.Request) {
	status := proto.DeviceStatus(r.URL.Query().Get("status"))
	devices, err := s.services.Device.List(r.Context(), status)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) HandleDeviceDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	device, err := s.services.Device.Get(r.Context(), id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) HandleDeviceUpsert(w http.ResponseWriter, r *http.Request) {
	var d proto.Device
	if err := decodeJSON(w, r, &d); err != nil {
		s.handleError(w, err)
		return
	}
	d.ID = chi.URLParam(r, "id")

	saved, err := s.services.Device.Upsert(r.Context(), d)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) HandleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	d, err := s.services.Device.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.handleError(w, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "all must be a boolean"})
			return
		}
		all = b
	}
	alerts, err := s.services.Alert.List(r.Context(), all)
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) HandleAlertAck(w http.ResponseWriter, r *http.Request) {
	a, err := s.services.Alert.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Registry().Count(),
	})
}

// handleError handles service errors with proper HTTP status codes
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	se := services.AsServiceError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Service error", "error", err)
		se.Message = "Internal server error"
	} else {
		slog.Debug("Request rejected", "code", se.Code, "error", err)
	}
	writeJSON(w, status, se)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Request body is empty"}
		}
		return services.ServiceError{Code: services.ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid JSON body: %v", err)}
	}
	return nil
}
