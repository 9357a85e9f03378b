// Package status serves the read-only observability surface: health,
// a JSON status snapshot, and prometheus metrics. It shares only
// snapshot accessors with the ingestion loop and can never block it.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eventflow/internal/cursor"
	"eventflow/internal/endpoint"
	"eventflow/internal/model"
	"eventflow/internal/pipeline"
)

// Report is the full status document served at /status.
type Report struct {
	Pipeline  string             `json:"pipeline"`
	Cursor    model.Cursor       `json:"cursor"`
	Stats     pipeline.Snapshot  `json:"stats"`
	Endpoints []model.Endpoint   `json:"endpoints"`
	Now       time.Time          `json:"now"`
}

// Server exposes the reporter over HTTP.
type Server struct {
	name    string
	stats   *pipeline.Stats
	tracker *cursor.Tracker
	pool    *endpoint.Pool
	logger  *zap.Logger
	srv     *http.Server
}

// NewServer wires the reporter against the shared state containers.
func NewServer(addr, pipelineName string, stats *pipeline.Stats, tracker *cursor.Tracker, pool *endpoint.Pool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		name:    pipelineName,
		stats:   stats,
		tracker: tracker,
		pool:    pool,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server with a bounded grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := Report{
		Pipeline:  s.name,
		Cursor:    s.tracker.Snapshot(),
		Stats:     s.stats.Snapshot(),
		Endpoints: s.pool.Describe(),
		Now:       time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Warn("encode status report", zap.Error(err))
	}
}
