// Package server exposes health, status and Prometheus metrics over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"trend_follower/internal/core"
	"trend_follower/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status       string            `json:"status"`
	Time         time.Time         `json:"time"`
	Components   map[string]string `json:"components,omitempty"`
	Positions    map[string]string `json:"positions"`
	WorkingStops map[string]int64  `json:"working_stops"`
}

// Server serves /health, /status and /metrics
type Server struct {
	addr   string
	logger core.ILogger
	hm     core.IHealthMonitor

	srv      *http.Server
	listener net.Listener

	mu    sync.RWMutex
	notes map[string]string
}

// New creates a server on port; 0 picks a free port at Start. hm may be nil.
func New(port int, hm core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		logger: logger.WithField("component", "http_server"),
		hm:     hm,
		notes:  make(map[string]string),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the port and serves in the background. Bind errors are
// returned rather than logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Serving health and metrics", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err.Error())
		}
	}()
	return nil
}

// Addr is the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// SetNote adds a static entry to /status, such as the run mode
func (s *Server) SetNote(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[key] = value
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()
	resp := healthResponse{
		Status:       "ok",
		Time:         time.Now().UTC(),
		Positions:    make(map[string]string),
		WorkingStops: metrics.GetWorkingStops(),
	}
	for symbol, state := range metrics.GetPositionState() {
		resp.Positions[symbol] = core.PositionState(state).String()
	}

	code := http.StatusOK
	if s.hm != nil {
		resp.Components = s.hm.GetStatus()
		for _, st := range resp.Components {
			if st != "Healthy" {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				break
			}
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make(map[string]string, len(s.notes))
	for k, v := range s.notes {
		out[k] = v
	}
	s.mu.RUnlock()

	if s.hm != nil {
		for k, v := range s.hm.GetStatus() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
