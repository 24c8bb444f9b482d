// ============================================================================
// hello-pool Admin - Metrics and Health Endpoints
// ============================================================================
//
// Package: internal/admin
// File: admin.go
// Function: Serve /metrics over HTTP and grpc.health.v1.Health over gRPC
//
// Health:
//   Reports SERVING from Start until the shutdown Notifier fires, then
//   NOT_SERVING for the rest of the drain so load balancers stop routing.
//   Both the overall ("") and the named service status are updated.
//
// ============================================================================

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported by the health service
const ServiceName = "hello"

// Config Admin server configuration; an empty address disables that endpoint
type Config struct {
	MetricsAddr string
	HealthAddr  string
}

// Server hosts the admin endpoints
type Server struct {
	cfg Config
	log *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
	health  *health.Server

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates an admin Server exposing the metrics gathered by g
func New(cfg Config, g prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	s := &Server{
		cfg: cfg,
		log: log,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcSrv: grpc.NewServer(),
		health:  health.NewServer(),
		stopped: make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	s.SetServing(true)
	return s
}

// MetricsHandler returns the /metrics HTTP handler
func (s *Server) MetricsHandler() http.Handler {
	return s.httpSrv.Handler
}

// Start binds the configured endpoints and serves them in the background
func (s *Server) Start() error {
	if s.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen metrics on %s: %w", s.cfg.MetricsAddr, err)
		}
		s.ServeMetrics(ln)
	}

	if s.cfg.HealthAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HealthAddr)
		if err != nil {
			s.Stop(context.Background())
			return fmt.Errorf("listen health on %s: %w", s.cfg.HealthAddr, err)
		}
		s.ServeHealth(ln)
	}
	return nil
}

// ServeMetrics serves /metrics on ln in the background
func (s *Server) ServeMetrics(ln net.Listener) {
	s.log.Info("Starting metrics server", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server error", "error", err)
		}
	}()
}

// ServeHealth serves the gRPC health service on ln in the background
func (s *Server) ServeHealth(ln net.Listener) {
	s.log.Info("Starting health server", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcSrv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("Health server error", "error", err)
		}
	}()
}

// SetServing updates the reported health status
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// DrainOn flips health to NOT_SERVING once done is closed. The watch ends
// with Stop if done never closes.
func (s *Server) DrainOn(done <-chan struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-done:
			s.log.Info("Reporting NOT_SERVING")
			s.SetServing(false)
		case <-s.stopped:
		}
	}()
}

// Stop shuts both endpoints down and waits for their goroutines
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.health.Shutdown()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("Metrics server shutdown error", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}

	s.wg.Wait()
}
