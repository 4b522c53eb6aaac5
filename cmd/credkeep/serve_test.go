// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth/memory"
	"github.com/holomush/credkeep/internal/config"
	"github.com/holomush/credkeep/internal/observability"
	"github.com/holomush/credkeep/pkg/errutil"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running
// server and the reads of the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeObservabilityServer captures the readiness checker it is built with.
type fakeObservabilityServer struct {
	mu       sync.Mutex
	ready    observability.ReadinessChecker
	errCh    chan error
	startErr error
	stopped  bool
}

func (s *fakeObservabilityServer) Start() (<-chan error, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.errCh, nil
}

func (s *fakeObservabilityServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeObservabilityServer) Addr() string { return "fake:0" }

func (s *fakeObservabilityServer) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready != nil && s.ready()
}

func (s *fakeObservabilityServer) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func testServeConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store = config.StoreMemory
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "fake"
	cfg.JWTSecret = strings.Repeat("a", 32)
	cfg.JWTRefreshSecret = strings.Repeat("b", 32)
	return &cfg
}

// newTestCmd returns a command writing to a shared buffer and restores the
// default logger that runServeWithDeps replaces.
func newTestCmd(t *testing.T) (*cobra.Command, *syncBuffer) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &syncBuffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func testDeps(obs *fakeObservabilityServer) *ServeDeps {
	return &ServeDeps{
		ObservabilityServerFactory: func(_ string, rc observability.ReadinessChecker) ObservabilityServer {
			obs.mu.Lock()
			defer obs.mu.Unlock()
			obs.ready = rc
			return obs
		},
	}
}

func TestRunServeWithDeps_HappyPath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testServeConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	obs := &fakeObservabilityServer{errCh: make(chan error)}
	cmd, out := newTestCmd(t)

	errCh := make(chan error, 1)
	go func() { errCh <- runServeWithDeps(ctx, cmd, cfg, testDeps(obs)) }()

	assert.Eventually(t, obs.isReady, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "credkeep started")
	assert.NotContains(t, out.String(), cfg.JWTSecret)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServeWithDeps did not return after cancel")
	}
	assert.True(t, obs.wasStopped())
	assert.Contains(t, out.String(), "shutdown complete")
}

func TestRunServeWithDeps_InvalidConfig(t *testing.T) {
	cfg := testServeConfig()
	cfg.JWTSecret = ""
	cmd, _ := newTestCmd(t)

	err := runServeWithDeps(context.Background(), cmd, cfg, nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
}

func TestRunServeWithDeps_StoreFailure(t *testing.T) {
	cfg := testServeConfig()
	cmd, _ := newTestCmd(t)
	deps := &ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return nil, errors.New("connection refused")
		},
	}

	err := runServeWithDeps(context.Background(), cmd, cfg, deps)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "STORE_OPEN_FAILED")
}

func TestRunServeWithDeps_GRPCTLSFailure(t *testing.T) {
	cfg := testServeConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.GRPCTLSDir = "/nonexistent"
	cmd, _ := newTestCmd(t)
	obs := &fakeObservabilityServer{errCh: make(chan error)}
	deps := testDeps(obs)

	var gotDir, gotName string
	deps.GRPCTLSLoader = func(dir, name string) (*cryptotls.Config, error) {
		gotDir, gotName = dir, name
		return nil, oops.Code("CERT_LOAD_FAILED").Errorf("missing")
	}

	err := runServeWithDeps(context.Background(), cmd, cfg, deps)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CERT_LOAD_FAILED")
	assert.Equal(t, "/nonexistent", gotDir)
	assert.Equal(t, grpcCertName, gotName)
}

func TestRunServeWithDeps_ServerFailureStopsEverything(t *testing.T) {
	cfg := testServeConfig()
	cmd, _ := newTestCmd(t)
	obs := &fakeObservabilityServer{errCh: make(chan error, 1)}
	obs.errCh <- errors.New("metrics listener died")

	err := runServeWithDeps(context.Background(), cmd, cfg, testDeps(obs))

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVER_FAILED")
	errutil.AssertErrorContext(t, err, "server", "observability")
	assert.True(t, obs.wasStopped())
}

func TestRunServeWithDeps_MetricsStartFailure(t *testing.T) {
	cfg := testServeConfig()
	cmd, _ := newTestCmd(t)
	obs := &fakeObservabilityServer{startErr: errors.New("address in use")}

	err := runServeWithDeps(context.Background(), cmd, cfg, testDeps(obs))

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "METRICS_START_FAILED")
}

func TestRunServeWithDeps_AutoMigrate(t *testing.T) {
	memStore := func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
		return &memoryStore{repo: memory.NewUserRepository()}, nil
	}

	tests := []struct {
		name        string
		autoMigrate bool
		upErr       error
		wantUp      bool
		wantCode    string
	}{
		{name: "runs when enabled", autoMigrate: true, wantUp: true},
		{name: "skipped when disabled", autoMigrate: false, wantUp: false},
		{name: "error aborts startup", autoMigrate: true, upErr: errors.New("dirty"), wantUp: true, wantCode: "AUTO_MIGRATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cfg := testServeConfig()
			cfg.Store = config.StorePostgres
			cfg.DatabaseURL = "postgres://localhost/credkeep"
			cfg.AutoMigrate = tt.autoMigrate
			cmd, _ := newTestCmd(t)

			migrator := &fakeMigrator{upErr: tt.upErr}
			storeOpened := false
			obs := &fakeObservabilityServer{errCh: make(chan error)}
			deps := testDeps(obs)
			deps.MigratorFactory = func(url string) (Migrator, error) {
				assert.Equal(t, cfg.DatabaseURL, url)
				return migrator, nil
			}
			deps.UserStoreFactory = func(ctx context.Context, c *config.Config, l *slog.Logger) (UserStore, error) {
				storeOpened = true
				return memStore(ctx, c, l)
			}

			// Cancelled up front so a successful start returns immediately.
			cancel()
			err := runServeWithDeps(ctx, cmd, cfg, deps)

			assert.Equal(t, tt.wantUp, migrator.upCalled)
			assert.Equal(t, tt.wantUp, migrator.closeCalled)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				assert.False(t, storeOpened, "store must not open after a failed migration")
				return
			}
			require.NoError(t, err)
			assert.True(t, storeOpened)
		})
	}
}

func TestBuildServices_SharesRepository(t *testing.T) {
	cfg := testServeConfig()
	repo := memory.NewUserRepository()

	svcs, err := buildServices(cfg, repo, slog.Default())
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svcs.accounts.Register(ctx, account.RegisterInput{
		Email:    "ada@example.com",
		Password: "pw123456",
		Name:     "Ada",
		Surname:  "Lovelace",
	})
	require.NoError(t, err)

	result, err := svcs.auth.Login(ctx, "ada@example.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	identity, err := svcs.guard.Authenticate(ctx, "Bearer "+result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID.String())
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("forwards error", func(t *testing.T) {
		errCh := make(chan error, 1)
		failed := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(context.Background(), errCh, "http", failed)

		select {
		case err := <-failed:
			errutil.AssertErrorCode(t, err, "SERVER_FAILED")
		default:
			t.Fatal("error was not forwarded")
		}
	})

	t.Run("closed channel is a clean stop", func(t *testing.T) {
		errCh := make(chan error)
		close(errCh)
		failed := make(chan error, 1)

		monitorServerErrors(context.Background(), errCh, "http", failed)
		assert.Empty(t, failed)
	})

	t.Run("returns on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		failed := make(chan error, 1)

		monitorServerErrors(ctx, make(chan error), "http", failed)
		assert.Empty(t, failed)
	})
}
