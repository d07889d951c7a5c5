package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WouterBesse/social-interaction-cloud/health"
)

// Server provides an HTTP endpoint for Prometheus metrics scraping and,
// when a monitor is attached, a liveness report.
type Server struct {
	port     int
	path     string
	server   *http.Server
	registry *Registry
	monitor  *health.Monitor
	mu       sync.Mutex
}

// ServerOption configures a metric server.
type ServerOption func(*Server)

// WithPort sets the HTTP port for the metrics endpoint
func WithPort(port int) ServerOption {
	return func(s *Server) {
		s.port = port
	}
}

// WithPath sets the URL path for the metrics endpoint
func WithPath(path string) ServerOption {
	return func(s *Server) {
		s.path = path
	}
}

// WithHealth attaches a monitor whose report backs the /health endpoint
func WithHealth(monitor *health.Monitor) ServerOption {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// NewServer creates a new metrics HTTP server
func NewServer(registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		port:     9090,
		path:     "/metrics",
		registry: registry,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins serving metrics on the configured port. It returns once the
// listener goroutine is running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("metric.Server.Start: server already running")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// handleHealth answers liveness probes. Without a monitor the endpoint is a
// plain liveness check; with one it reports the aggregate, 503 when any part
// is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
		return
	}

	report := s.monitor.Report()
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

// Address returns the address the server listens on
func (s *Server) Address() string {
	return fmt.Sprintf(":%d", s.port)
}
