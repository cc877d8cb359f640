// Package server provides the control endpoint of a mount: a gRPC health
// service and an HTTP server for metrics and health checks, both on Unix
// sockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ajaxzhan/slowpokefs/internal/logging"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "slowpokefs"

// Config holds server configuration.
type Config struct {
	GRPCSocket string
	HTTPSocket string
}

// Server represents the control server.
type Server struct {
	config     *Config
	grpcServer *grpc.Server
	health     *health.Server
	metrics    http.Handler
	httpServer *http.Server
	conn       *grpc.ClientConn
	grpcLis    net.Listener
	httpLis    net.Listener
	mu         sync.Mutex
}

// New creates a control server. metrics may be nil, in which case /metrics
// is not served. The health status starts as NOT_SERVING.
func New(cfg *Config, metrics http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.GRPCSocket == "" || cfg.HTTPSocket == "" {
		return nil, errors.New("grpc and http sockets are required")
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	s := &Server{
		config:     cfg,
		grpcServer: grpcServer,
		health:     hs,
		metrics:    metrics,
	}
	s.SetServing(false)
	return s, nil
}

// SetServing updates the reported health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Listen creates both sockets, replacing stale socket files.
func (s *Server) Listen() error {
	grpcLis, err := listenUnix(s.config.GRPCSocket)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC socket: %w", err)
	}
	httpLis, err := listenUnix(s.config.HTTPSocket)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen on HTTP socket: %w", err)
	}

	s.mu.Lock()
	s.grpcLis, s.httpLis = grpcLis, httpLis
	s.mu.Unlock()
	return nil
}

// Serve runs both servers until ctx is cancelled or one of them fails.
// Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	grpcLis, httpLis := s.grpcLis, s.httpLis
	s.mu.Unlock()
	if grpcLis == nil || httpLis == nil {
		return errors.New("server is not listening")
	}

	errCh := make(chan error, 2)

	go func() {
		if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	conn, err := grpc.NewClient("unix://"+s.config.GRPCSocket,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		s.Stop()
		return fmt.Errorf("failed to connect health client: %w", err)
	}

	mux := runtime.NewServeMux(runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)))
	if s.metrics != nil {
		if err := mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			s.metrics.ServeHTTP(w, r)
		}); err != nil {
			conn.Close()
			s.Stop()
			return fmt.Errorf("failed to register metrics handler: %w", err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logging.Info("Control server started",
		logging.String("grpc_socket", s.config.GRPCSocket),
		logging.String("http_socket", s.config.HTTPSocket),
	)

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()
	if s.httpServer != nil {
		s.httpServer.Close()
		s.httpServer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.grpcServer.GracefulStop()

	// Listeners that never reached Serve are still open.
	for _, lis := range []net.Listener{s.grpcLis, s.httpLis} {
		if lis != nil {
			lis.Close()
		}
	}
	s.grpcLis, s.httpLis = nil, nil
	logging.Debug("Control server stopped")
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", path)
}
