// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the ledger without going through HTTP auth.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ledger/internal/log"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "ledger.v1.Ledger"

// Probe is one dependency whose failure marks the service NOT_SERVING.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	addr   string
	lis    net.Listener
	health *health.Server
	logger *log.Logger
	Server *grpc.Server
}

func New(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default(log.ComponentGRPC)
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &Server{
		addr:   addr,
		health: hs,
		logger: logger,
		Server: s,
	}
}

// Listen binds the address; Addr is valid afterwards.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.lis = lis
	return nil
}

func (s *Server) Addr() string {
	if s.lis == nil {
		return s.addr
	}
	return s.lis.Addr().String()
}

// Start serves until Stop. It listens first if Listen was not called.
func (s *Server) Start() error {
	if s.lis == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.InfoContext(context.Background(), "gRPC health server listening", "addr", s.Addr())
	err := s.Server.Serve(s.lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}

// SetServing flips both the overall and the ledger service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Monitor runs the probes every interval until ctx ends and publishes the
// result as the serving status.
func (s *Server) Monitor(ctx context.Context, interval time.Duration, probes []Probe) {
	if len(probes) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		ok := s.probe(ctx, probes)
		if ok != serving {
			s.logger.InfoContext(ctx, "Serving status changed", "serving", ok)
			serving = ok
		}
		s.SetServing(ok)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) probe(ctx context.Context, probes []Probe) bool {
	ok := true
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			ok = false
			s.logger.WarnContext(ctx, "Health probe failed", "probe", p.Name, log.FieldError, err)
		}
	}
	return ok
}
