// Package server serves the dashboard API and the /ws realtime channel.
//
// Every mutation made through the API is announced to connected dashboards
// as an access-update or device-update message, which their realtime client
// turns into cache invalidations.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbocsi/accesswatch/services"
)

type Server struct {
	addr     string
	services *services.ServiceContainer
	hub      *Hub
	metrics  http.Handler

	mu   sync.Mutex
	http *http.Server
}

func NewServer(addr string, svc *services.ServiceContainer, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(nil)
	}
	return &Server{
		addr:     addr,
		services: svc,
		hub:      hub,
	}
}

// SetMetricsHandler mounts h on /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HandleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Handle("/ws", s.hub)

	r.Route("/api", func(r chi.Router) {
		r.Get("/access-logs", s.HandleListAccess)
		r.Post("/access-logs", s.HandleRecordAccess)
		r.Get("/dashboard/stats", s.HandleStats)
		r.Get("/devices", s.HandleDevices)
		r.Get("/devices/{id}", s.HandleDeviceDetail)
		r.Put("/devices/{id}", s.HandleDeviceUpsert)
		r.Post("/devices/{id}/status", s.HandleDeviceStatus)
		r.Get("/alerts", s.HandleAlerts)
		r.Post("/alerts/{id}/ack", s.HandleAlertAck)
	})
	return r
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	slog.Info("Starting dashboard server", "addr", l.Addr().String())
	err := srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes realtime connections first; http.Server does not track
// hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down dashboard server", "addr", s.addr)
	hubErr := s.hub.Shutdown(ctx)

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return hubErr
	}
	return errors.Join(hubErr, srv.Shutdown(ctx))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
