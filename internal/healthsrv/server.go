// Package healthsrv serves the standard gRPC health protocol.  The overall
// status follows periodic pings of the backing stores.
package healthsrv

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall "".
const ServiceName = "occupant.v1.Attendance"

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

type Config struct {
	Addr          string
	CheckInterval time.Duration // default 10s
	CheckTimeout  time.Duration // default 2s
}

type Server struct {
	cfg      Config
	grpc     *grpc.Server
	health   *health.Server
	checks   map[string]Checker
	logger   zerolog.Logger
	stopOnce sync.Once
	quit     chan struct{}
}

func New(cfg Config, checks map[string]Checker, logger zerolog.Logger) *Server {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}

	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)

	// NOT_SERVING until the first round of checks passes.
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		cfg:    cfg,
		grpc:   gs,
		health: hs,
		checks: checks,
		logger: logger.With().Str("component", "healthsrv").Logger(),
		quit:   make(chan struct{}),
	}
}

// Check runs every checker once and updates the serving status.  It returns
// the first failure.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	var failed error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			if failed == nil {
				failed = err
			}
		}
	}

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if failed != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return failed
}

// Serve runs checks on an interval and serves gRPC on lis until ctx is done
// or Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	_ = s.Check(ctx)

	go func() {
		t := time.NewTicker(s.cfg.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.Stop()
				return
			case <-s.quit:
				return
			case <-t.C:
				_ = s.Check(ctx)
			}
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Stop marks the service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}
