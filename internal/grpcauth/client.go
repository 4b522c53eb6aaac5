// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package grpcauth

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ClientConfig holds configuration for a credkeep gRPC client.
type ClientConfig struct {
	// Address is the target, e.g. "localhost:9090".
	Address string

	// TLSConfig enables TLS. Nil means plaintext.
	TLSConfig *tls.Config

	// AccessToken, when set, is sent as "authorization: Bearer <token>" on
	// every call. It requires TLS unless AllowInsecureToken is set.
	AccessToken        string
	AllowInsecureToken bool

	// KeepaliveTime is how often to ping the server (default: 10s).
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for a ping response (default: 5s).
	KeepaliveTimeout time.Duration

	// DialOptions are appended last, e.g. a bufconn dialer in tests.
	DialOptions []grpc.DialOption
}

// Client wraps a connection to a credkeep gRPC server.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewClient creates a client. The connection is established lazily on the
// first call.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, oops.Code("GRPC_CLIENT_INVALID").Errorf("address is required")
	}
	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 10 * time.Second
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg.TLSConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.AccessToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCredentials{
			token:      cfg.AccessToken,
			requireTLS: !cfg.AllowInsecureToken,
		}))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, oops.Code("GRPC_CLIENT_INVALID").With("address", cfg.Address).Wrap(err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Conn returns the underlying connection for generated service clients.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Check asks the server for its overall health status.
func (c *Client) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code("GRPC_HEALTH_FAILED").Wrap(err)
	}
	return resp.GetStatus(), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return oops.With("operation", "close grpc connection").Wrap(err)
	}
	return nil
}

// bearerCredentials implements credentials.PerRPCCredentials.
type bearerCredentials struct {
	token      string
	requireTLS bool
}

func (b bearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authorizationKey: "Bearer " + b.token}, nil
}

func (b bearerCredentials) RequireTransportSecurity() bool {
	return b.requireTLS
}
