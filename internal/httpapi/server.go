// Package httpapi serves the operational HTTP surface: a status
// endpoint for triage and the Prometheus metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// TrackedEmails summarizes the exfiltration registry: how many
// addresses are tracked, where they came from, and the addresses in
// tracking order.
type TrackedEmails struct {
	TotalTracked int            `json:"total_tracked"`
	BySource     map[string]int `json:"by_source"`
	Emails       []string       `json:"emails"`
}

// Status is the payload of GET /api/v1/status.
type Status struct {
	Status         string         `json:"status"`
	InstanceID     string         `json:"instance_id,omitempty"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Engines        []string       `json:"engines"`
	EventsAccepted uint64         `json:"events_accepted"`
	EventsDropped  uint64         `json:"events_dropped"`
	Detections     uint64         `json:"detections"`
	CatalogedTools uint64         `json:"cataloged_tools"`
	TrackedEmails  *TrackedEmails `json:"tracked_emails,omitempty"`
}

// StatusProvider supplies the current pipeline status.
type StatusProvider interface {
	Status() Status
}

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// NewServer builds the router and listener. metricsHandler may be nil
// to disable the metrics endpoint.
func NewServer(listen string, provider StatusProvider, metricsHandler http.Handler, logger *zap.SugaredLogger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			logger.Warnw("failed to encode status response", "error", err)
		}
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. Blocks; run in a goroutine.
func (s *Server) Start() error {
	s.logger.Infow("HTTP API listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the listener within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
