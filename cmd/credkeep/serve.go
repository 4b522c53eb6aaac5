// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/grpcauth"
	"github.com/holomush/credkeep/internal/httpapi"
	"github.com/holomush/credkeep/internal/logging"
)

// grpcCertName is the certificate pair loaded from grpc-tls-dir.
const grpcCertName = "grpc"

// shutdownTimeout bounds graceful shutdown of all servers.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the credkeep HTTP API, plus the authenticated gRPC listener and the
metrics endpoint when their addresses are configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cmd, cfg, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// services holds the wired domain services.
type services struct {
	auth     *auth.Service
	reset    *auth.ResetService
	guard    *auth.Guard
	accounts *account.Service
}

func buildServices(cfg *config.Config, users auth.UserRepository, logger *slog.Logger) (*services, error) {
	hasher := auth.NewArgon2idHasher()
	issuer, err := auth.NewTokenIssuer(cfg.TokenConfig())
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithPasswordPolicy(cfg.PasswordPolicy()),
		auth.WithResetTokenTTL(cfg.ResetTokenTTL),
	}
	authSvc, err := auth.NewService(users, issuer, hasher, opts...)
	if err != nil {
		return nil, err
	}
	resetSvc, err := auth.NewResetService(users, hasher, opts...)
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewGuard(users, issuer, logger)
	if err != nil {
		return nil, err
	}
	accounts, err := account.NewService(users, hasher, logger)
	if err != nil {
		return nil, err
	}
	return &services{auth: authSvc, reset: resetSvc, guard: guard, accounts: accounts}, nil
}

// runServeWithDeps runs until ctx is cancelled or a server fails.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, cfg *config.Config, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate config").Wrap(err)
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "credkeep",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	logger.Info("starting credkeep", "config", cfg)

	if cfg.Store == config.StorePostgres && cfg.AutoMigrate {
		if err := runAutoMigration(deps.MigratorFactory, cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	userStore, err := deps.UserStoreFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("store", cfg.Store).Wrap(err)
	}
	defer userStore.Close()

	svcs, err := buildServices(cfg, userStore.Users(), logger)
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	gin.SetMode(gin.ReleaseMode)
	api, err := httpapi.NewAPI(svcs.auth, svcs.reset, svcs.guard, svcs.accounts, logger)
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}
	handler, err := api.Handler(httpapi.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	failed := make(chan error, 3)

	httpServer := httpapi.NewServer(cfg.HTTPAddr, handler, logger)
	httpErrCh, err := httpServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, httpErrCh, "http", failed)

	var grpcServer *grpcauth.Server
	if cfg.GRPCAddr != "" {
		grpcServer, err = startGRPC(ctx, cfg, deps, svcs.guard, logger, failed)
		if err != nil {
			stopAll(logger, httpServer, nil, nil)
			return err
		}
	}

	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool {
			return userStore.Ready() && httpServer.Ready()
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopAll(logger, httpServer, grpcServer, nil)
			return oops.Code("METRICS_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, obsErrCh, "observability", failed)
	}

	cmd.Println("credkeep started")
	logger.Info("credkeep ready", "http_addr", httpServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-failed:
	}

	stopAll(logger, httpServer, grpcServer, obsServer)
	logger.Info("shutdown complete")
	return runErr
}

func startGRPC(ctx context.Context, cfg *config.Config, deps *ServeDeps, guard *auth.Guard, logger *slog.Logger, failed chan<- error) (*grpcauth.Server, error) {
	opts := []grpcauth.Option{grpcauth.WithLogger(logger)}
	if cfg.GRPCTLSDir != "" {
		tlsConfig, err := deps.GRPCTLSLoader(cfg.GRPCTLSDir, grpcCertName)
		if err != nil {
			return nil, oops.With("operation", "load gRPC TLS config").Wrap(err)
		}
		opts = append(opts, grpcauth.WithTLS(tlsConfig))
	} else {
		logger.Warn("gRPC listener is plaintext; set grpc-tls-dir to enable TLS")
	}

	srv, err := grpcauth.NewServer(guard, opts...)
	if err != nil {
		return nil, err
	}
	errCh, err := srv.Start(cfg.GRPCAddr)
	if err != nil {
		return nil, err
	}
	go monitorServerErrors(ctx, errCh, "grpc", failed)
	return srv, nil
}

// stopAll stops whichever servers were started, in reverse start order.
func stopAll(logger *slog.Logger, httpServer *httpapi.Server, grpcServer *grpcauth.Server, obsServer ObservabilityServer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if obsServer != nil {
		if err := obsServer.Stop(ctx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	if grpcServer != nil {
		if err := grpcServer.Stop(ctx); err != nil {
			logger.Warn("error stopping gRPC server", "error", err)
		}
	}
	if httpServer != nil {
		if err := httpServer.Stop(ctx); err != nil {
			logger.Warn("error stopping HTTP server", "error", err)
		}
	}
}

// monitorServerErrors forwards the first error a server reports to failed.
// It exits when the channel closes or ctx is cancelled.
func monitorServerErrors(ctx context.Context, errCh <-chan error, serverName string, failed chan<- error) {
	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return
		}
		slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
		select {
		case failed <- oops.Code("SERVER_FAILED").With("server", serverName).Wrap(err):
		default:
		}
	case <-ctx.Done():
	}
}

// runAutoMigration applies pending migrations before the store is opened.
func runAutoMigration(factory MigratorFactory, databaseURL string, logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}
