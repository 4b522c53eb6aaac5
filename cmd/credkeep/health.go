// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/credkeep/internal/grpcauth"
	"github.com/holomush/credkeep/internal/tls"
)

type healthConfig struct {
	addr       string
	tlsDir     string
	serverName string
	timeout    time.Duration
}

// NewHealthCmd creates the health subcommand.
func NewHealthCmd() *cobra.Command {
	cfg := &healthConfig{}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server over gRPC health",
		Long:  `Query the standard gRPC health service of a running credkeep. Exits non-zero unless it reports SERVING.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "localhost:9090", "gRPC address")
	cmd.Flags().StringVar(&cfg.tlsDir, "tls-dir", "", "directory holding root-ca.crt (empty = plaintext)")
	cmd.Flags().StringVar(&cfg.serverName, "server-name", "localhost", "expected server certificate name")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}

func runHealth(cmd *cobra.Command, cfg *healthConfig) error {
	var tlsConfig *cryptotls.Config
	if cfg.tlsDir != "" {
		var err error
		tlsConfig, err = tls.ClientConfig(cfg.tlsDir, cfg.serverName)
		if err != nil {
			return err
		}
	}

	client, err := grpcauth.NewClient(grpcauth.ClientConfig{
		Address:   cfg.addr,
		TLSConfig: tlsConfig,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close() //nolint:errcheck // the check result takes precedence
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	status, err := client.Check(ctx)
	if err != nil {
		return err
	}
	cmd.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		return oops.Code("HEALTH_NOT_SERVING").With("addr", cfg.addr).Errorf("server reports %s", status)
	}
	return nil
}
