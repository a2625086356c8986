// Package grpchealth exposes node health over the standard gRPC health protocol.
//
// The reaper service reports NOT_SERVING while its work queue is suspended,
// and the overall status follows the route service.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
)

const (
	// RouteService is the health service name of the route service
	RouteService = "routemesh.RouteService"
	// ReaperService is the health service name of the route reaper
	ReaperService = "routemesh.RouteReaper"
)

// ErrAlreadyStarted is returned when serving twice
var ErrAlreadyStarted = errors.New("grpc health server already started")

// Server is a gRPC server carrying the health service
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a server with every service NOT_SERVING.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	for _, svc := range []string{"", RouteService, ReaperService} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger.Named("grpc"),
	}
}

// SetServing sets the status of service. The route service also drives the
// overall ("") status.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
	if service == RouteService {
		s.health.SetServingStatus("", status)
	}
	s.logger.Info("health status changed",
		zap.String("service", service),
		zap.Stringer("status", status))
}

// TrackQueue mirrors the status of the reaper work queue and returns a
// function that stops tracking.
func (s *Server) TrackQueue(queue coordination.WorkQueue) (remove func()) {
	remove = queue.AddStatusListener(func(status coordination.QueueStatus) {
		s.SetServing(ReaperService, status == coordination.QueueActive)
	})
	s.SetServing(ReaperService, queue.Status() == coordination.QueueActive)
	return remove
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := s.serve(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Serve serves on ln in the background.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}
	s.listener = ln
	s.done = make(chan struct{})

	s.logger.Info("grpc health listening", zap.Stringer("addr", ln.Addr()))
	go func(done chan struct{}) {
		defer close(done)
		if err := s.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server failed", zap.Error(err))
		}
	}(s.done)
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops gracefully, forcing the
// stop when ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}
