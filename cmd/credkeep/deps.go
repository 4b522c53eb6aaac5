// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/auth/memory"
	"github.com/holomush/credkeep/internal/auth/postgres"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/observability"
	"github.com/holomush/credkeep/internal/store"
	"github.com/holomush/credkeep/internal/tls"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// UserStoreFactory opens the user store selected by cfg.Store.
	// Default: openUserStore
	UserStoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (UserStore, error)

	// MigratorFactory creates a migrator for auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory MigratorFactory

	// GRPCTLSLoader loads the gRPC server certificate from a directory.
	// Default: tls.ServerConfig
	GRPCTLSLoader func(certsDir, name string) (*cryptotls.Config, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) applyDefaults() {
	if d.UserStoreFactory == nil {
		d.UserStoreFactory = openUserStore
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = defaultMigratorFactory
	}
	if d.GRPCTLSLoader == nil {
		d.GRPCTLSLoader = tls.ServerConfig
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, rc observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, rc)
		}
	}
}

// UserStore is an opened user repository with its readiness probe.
type UserStore interface {
	Users() auth.UserRepository
	Ready() bool
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down(steps int) error
	Status() (store.Status, error)
	Force(version int) error
	Close() error
}

// MigratorFactory opens a Migrator against a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

type memoryStore struct {
	repo *memory.UserRepository
}

func (s *memoryStore) Users() auth.UserRepository { return s.repo }
func (s *memoryStore) Ready() bool                { return true }
func (s *memoryStore) Close()                     {}

type postgresStore struct {
	pool  *pgxpool.Pool
	repo  *postgres.UserRepository
	ready func() bool
}

func (s *postgresStore) Users() auth.UserRepository { return s.repo }
func (s *postgresStore) Ready() bool                { return s.ready() }
func (s *postgresStore) Close()                     { s.pool.Close() }

// openUserStore opens the in-memory store or connects to PostgreSQL.
func openUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (UserStore, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory user store; data is lost on exit")
		return &memoryStore{repo: memory.NewUserRepository()}, nil
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &postgresStore{
		pool:  pool,
		repo:  postgres.NewUserRepository(pool),
		ready: store.ReadinessCheck(pool),
	}, nil
}
