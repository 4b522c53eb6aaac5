// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package grpcauth is the gRPC boundary of credkeep: a server carrying the
// standard health service and the identity service behind bearer-token
// interceptors, and a client that presents access tokens as per-RPC
// credentials.
package grpcauth

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTLS serves with the given TLS config instead of plaintext.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// Server wraps a *grpc.Server with the health service and auth interceptors.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	logger    *slog.Logger
	tlsConfig *tls.Config
	listener  net.Listener
	running   atomic.Bool
}

// NewServer creates a gRPC server carrying the health and identity services.
// Calls other than health checks require a valid access token. Health
// reports NOT_SERVING until Start.
func NewServer(guard Authenticator, opts ...Option) (*Server, error) {
	if guard == nil {
		return nil, oops.Errorf("guard is required")
	}
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryInterceptor(guard, s.logger)),
		grpc.ChainStreamInterceptor(StreamInterceptor(guard, s.logger)),
	}
	if s.tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(s.tlsConfig)))
	}

	s.grpc = grpc.NewServer(serverOpts...)
	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&identityServiceDesc, identityService{})
	return s, nil
}

// GRPC returns the underlying server so further services can be registered
// before Start.
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// Start listens on addr, marks the server SERVING, and serves in a goroutine.
// The returned channel receives a serve error, if any, and is closed when
// the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("grpc server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("GRPC_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}
	return s.Serve(lis), nil
}

// Serve serves on an existing listener. Tests use it with bufconn.
func (s *Server) Serve(lis net.Listener) <-chan error {
	s.running.Store(true)
	s.listener = lis

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.grpc.Serve(lis); err != nil {
			s.logger.Error("grpc server error", "error", err)
			errCh <- err
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("grpc server started", "addr", lis.Addr().String(), "tls", s.tlsConfig != nil)
	return errCh
}

// Stop marks the server NOT_SERVING and drains in-flight calls until ctx
// expires, after which remaining calls are cut off.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("grpc server stopped")
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return oops.With("operation", "shutdown_grpc_server").Wrap(ctx.Err())
	}
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
