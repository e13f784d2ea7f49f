// Package server provides gRPC server lifecycle management.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/neo4j/graphql-sub030/internal/core/api"
	"github.com/neo4j/graphql-sub030/internal/core/auth"
	"github.com/neo4j/graphql-sub030/internal/core/config"
	"github.com/neo4j/graphql-sub030/internal/core/logging"
)

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   config.ServerConfig
	logger   *logrus.Entry
}

// NewGRPCServer creates gRPC server with auth interceptors and service registration.
func NewGRPCServer(cfg config.ServerConfig, service *api.Service, verifier *auth.Verifier, logger logrus.FieldLogger) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}

	entry := logging.Component(logger, "grpc")
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			verifier.UnaryInterceptor(),
			timeoutInterceptor(cfg.RequestTimeout),
		),
		grpc.ChainStreamInterceptor(
			verifier.StreamInterceptor(),
			logStreams(entry),
		),
		grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)),
		// Subscriptions are long-lived; keepalive detects dead clients.
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 20 * time.Second,
		}),
	}

	server := grpc.NewServer(opts...)
	api.RegisterSubscriptionAPIServer(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: entry,
	}, nil
}

// timeoutInterceptor bounds unary calls; streams are unbounded.
func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}

func logStreams(logger *logrus.Entry) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		entry := logger.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Info("stream closed")
		} else {
			entry.Debug("stream closed")
		}
		return err
	}
}

// Start binds listener and serves gRPC requests.
func (s *GRPCServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves gRPC requests on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.logger.Infof("gRPC server listening on %s", listener.Addr())
	return s.server.Serve(listener)
}

// Shutdown marks the server not serving and stops it gracefully, forcing
// the stop after the configured shutdown timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(timeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
