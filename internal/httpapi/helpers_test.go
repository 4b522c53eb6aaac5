// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/auth/memory"
	"github.com/holomush/credkeep/internal/httpapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testAccessSecret  = []byte("access-secret-for-tests-0123456789abcdef")
	testRefreshSecret = []byte("refresh-secret-for-tests-0123456789abcdef")
)

// capturingNotifier keeps the last issued reset token so tests can confirm it.
type capturingNotifier struct {
	mu    sync.Mutex
	token string
}

func (n *capturingNotifier) NotifyReset(_ context.Context, _ auth.PublicUser, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
	return nil
}

func (n *capturingNotifier) Token() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

// harness wires the real services over the memory repository.
type harness struct {
	users    *memory.UserRepository
	notifier *capturingNotifier
	engine   *gin.Engine
}

func newHarness(t interface {
	require.TestingT
	Helper()
}, origins ...string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := memory.NewUserRepository()
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     auth.DefaultAccessTokenTTL,
		RefreshTTL:    auth.DefaultRefreshTokenTTL,
		Issuer:        "credkeep-test",
	})
	require.NoError(t, err)

	notifier := &capturingNotifier{}
	authSvc, err := auth.NewService(users, issuer, hasher, auth.WithLogger(logger))
	require.NoError(t, err)
	resetSvc, err := auth.NewResetService(users, hasher,
		auth.WithLogger(logger), auth.WithResetNotifier(notifier))
	require.NoError(t, err)
	guard, err := auth.NewGuard(users, issuer, logger)
	require.NoError(t, err)
	accounts, err := account.NewService(users, hasher, logger)
	require.NoError(t, err)

	api, err := httpapi.NewAPI(authSvc, resetSvc, guard, accounts, logger)
	require.NoError(t, err)
	engine, err := api.Handler(httpapi.Config{AllowedOrigins: origins})
	require.NoError(t, err)

	return &harness{users: users, notifier: notifier, engine: engine}
}

// do sends a JSON request and returns the recorder.
func (h *harness) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t interface {
	require.TestingT
	Helper()
}, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

type message struct {
	Message string `json:"message"`
}

type loginResponse struct {
	User         auth.PublicUser `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

func registerBody(email string) map[string]any {
	return map[string]any{
		"email":    email,
		"password": "pw123456",
		"name":     "Ada",
		"surname":  "Lovelace",
	}
}

// registerAndLogin creates a user and returns the login response.
func (h *harness) registerAndLogin(t interface {
	require.TestingT
	Helper()
}, email string) loginResponse {
	t.Helper()
	rec := h.do(http.MethodPost, "/user", registerBody(email), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/user/login", map[string]any{"email": email, "password": "pw123456"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeJSON[loginResponse](t, rec)
}

// doRaw sends body as-is with a JSON content type.
func (h *harness) doRaw(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}
