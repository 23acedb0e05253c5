package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	grpctls "github.com/rty23111-ctrl/agent-identity/internal/grpc/tls"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry reported next to the overall "" entry.
const ServiceName = "agentidentity.v1.Registry"

const (
	defaultCheckInterval = 10 * time.Second
	pingTimeout          = 2 * time.Second
)

// Pinger is the storage dependency the health status follows.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth string
}

type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	store         Pinger
	port          int
	checkInterval time.Duration

	serving  atomic.Bool
	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	watchWg  sync.WaitGroup
}

// NewServer builds the health server. TLS material is loaded eagerly so a
// bad certificate fails startup rather than the first handshake.
func NewServer(port int, tlsConfig *TLSConfig, store Pinger) (*Server, error) {
	var opts []grpc.ServerOption
	if tlsConfig != nil && tlsConfig.Enabled {
		clientAuth, err := grpctls.ParseClientAuthType(tlsConfig.ClientAuth)
		if err != nil {
			return nil, err
		}
		creds, err := grpctls.LoadServerCredentials(tlsConfig.CertFile, tlsConfig.KeyFile, tlsConfig.CAFile, clientAuth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", tlsConfig.ClientAuth)
	}

	s := &Server{
		grpcServer:    grpc.NewServer(opts...),
		health:        health.NewServer(),
		store:         store,
		port:          port,
		checkInterval: defaultCheckInterval,
		stopCh:        make(chan struct{}),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	return s, nil
}

// SetCheckInterval changes how often the store is pinged. It must be called
// before Serve.
func (s *Server) SetCheckInterval(d time.Duration) {
	if d > 0 {
		s.checkInterval = d
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	slog.Info("Starting gRPC server", "port", s.port)
	return s.Serve(lis)
}

// Serve runs the server on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.refresh()

	s.watchWg.Add(1)
	go s.watch()

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

// Serving reports the last status derived from the store.
func (s *Server) Serving() bool {
	return s.serving.Load()
}

func (s *Server) watch() {
	defer s.watchWg.Done()
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	if s.stopped.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	err := s.store.Ping(ctx)

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if was := s.serving.Swap(err == nil); was != (err == nil) {
		if err != nil {
			slog.Warn("Storage ping failed, reporting NOT_SERVING", "error", err)
		} else {
			slog.Info("Storage reachable, reporting SERVING")
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
	s.watchWg.Wait()
	s.serving.Store(false)
	// Shutdown flips every entry to NOT_SERVING and ignores later updates.
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}

// ServiceNames lists the registered gRPC services.
func (s *Server) ServiceNames() []string {
	info := s.grpcServer.GetServiceInfo()
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	return names
}
