// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/grpcauth"
	"github.com/holomush/credkeep/internal/store"
	tlscerts "github.com/holomush/credkeep/internal/tls"
)

var _ = Describe("Credential lifecycle on PostgreSQL", func() {
	var email string

	BeforeEach(func() {
		email = "user-" + time.Now().Format("150405.000000000") + "@example.com"
	})

	AfterEach(func() {
		_, err := env.pool.Exec(env.ctx, `DELETE FROM users WHERE email = $1`, email)
		Expect(err).NotTo(HaveOccurred())
	})

	tokenGeneration := func() int64 {
		var gen int64
		err := env.pool.QueryRow(env.ctx, `SELECT token_generation FROM users WHERE email = $1`, email).Scan(&gen)
		Expect(err).NotTo(HaveOccurred())
		return gen
	}

	It("registers, refreshes, changes the password and logs out", func() {
		register(email)

		By("rejecting a second registration with the same email")
		code, body := call(http.MethodPost, "/user", map[string]any{
			"email": email, "password": "pw123456", "name": "Eve", "surname": "Dup",
		}, "")
		Expect(code).To(Equal(http.StatusConflict))
		Expect(decode[message](body).Message).To(Equal("Email already registered"))

		By("logging in and recording last access")
		code, first := login(email, "pw123456")
		Expect(code).To(Equal(http.StatusOK))
		Expect(first.User.LastAccess).NotTo(BeNil())

		var hash string
		Expect(env.pool.QueryRow(env.ctx, `SELECT password_hash FROM users WHERE email = $1`, email).Scan(&hash)).To(Succeed())
		Expect(hash).To(HavePrefix("$argon2id$"))

		By("refreshing the token pair")
		code, body = call(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": first.RefreshToken}, "")
		Expect(code).To(Equal(http.StatusOK))
		pair := decode[auth.TokenPair](body)

		By("changing the password")
		code, _ = call(http.MethodPatch, "/user/change-password", map[string]any{
			"currentPassword":    "pw123456",
			"newPassword":        "N3w-Passw0rd!",
			"confirmNewPassword": "N3w-Passw0rd!",
		}, pair.AccessToken)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = login(email, "pw123456")
		Expect(code).To(Equal(http.StatusUnauthorized))

		By("logging out, which bumps the stored token generation")
		before := tokenGeneration()
		code, _ = call(http.MethodPost, "/user/logout", nil, pair.AccessToken)
		Expect(code).To(Equal(http.StatusOK))
		Expect(tokenGeneration()).To(Equal(before + 1))

		code, _ = call(http.MethodGet, "/user/profile", nil, pair.AccessToken)
		Expect(code).To(Equal(http.StatusUnauthorized))
		code, _ = call(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": pair.RefreshToken}, "")
		Expect(code).To(Equal(http.StatusForbidden))
	})

	It("stores only the reset token hash and clears it after use", func() {
		register(email)

		code, _ := call(http.MethodPost, "/user/reset-password", map[string]any{"email": email}, "")
		Expect(code).To(Equal(http.StatusAccepted))
		token := env.notifier.token(email)
		Expect(token).To(HaveLen(64))

		var stored *string
		Expect(env.pool.QueryRow(env.ctx, `SELECT reset_token_hash FROM users WHERE email = $1`, email).Scan(&stored)).To(Succeed())
		Expect(stored).NotTo(BeNil())
		Expect(*stored).NotTo(Equal(token))

		body := map[string]any{"token": token, "newPassword": "R3set-Passw0rd!", "confirmNewPassword": "R3set-Passw0rd!"}
		code, _ = call(http.MethodPost, "/user/reset-password/confirm", body, "")
		Expect(code).To(Equal(http.StatusOK))

		Expect(env.pool.QueryRow(env.ctx, `SELECT reset_token_hash FROM users WHERE email = $1`, email).Scan(&stored)).To(Succeed())
		Expect(stored).To(BeNil())

		code, _ = call(http.MethodPost, "/user/reset-password/confirm", body, "")
		Expect(code).To(Equal(http.StatusBadRequest))
		code, _ = login(email, "R3set-Passw0rd!")
		Expect(code).To(Equal(http.StatusOK))
	})

	It("answers an unknown email exactly like a known one", func() {
		code, body := call(http.MethodPost, "/user/reset-password", map[string]any{"email": "nobody@example.com"}, "")
		Expect(code).To(Equal(http.StatusAccepted))
		unknown := decode[message](body)

		register(email)
		code, body = call(http.MethodPost, "/user/reset-password", map[string]any{"email": email}, "")
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(decode[message](body)).To(Equal(unknown))
	})

	It("deletes the row and revokes the caller's tokens", func() {
		register(email)
		_, session := login(email, "pw123456")

		code, _ := call(http.MethodDelete, "/user/"+session.User.ID, nil, session.AccessToken)
		Expect(code).To(Equal(http.StatusNoContent))

		var count int
		Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM users WHERE email = $1`, email).Scan(&count)).To(Succeed())
		Expect(count).To(BeZero())

		code, _ = call(http.MethodGet, "/user/me", nil, session.AccessToken)
		Expect(code).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("Schema migrations", func() {
	It("reports every embedded migration as applied", func() {
		migrator, err := store.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(migrator.Close()).To(Succeed()) }()

		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Dirty).To(BeFalse())
		Expect(st.Pending).To(BeEmpty())

		all, err := store.Migrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Applied).To(Equal(all))
	})
})

var _ = Describe("gRPC listener", func() {
	It("serves health over TLS without a token", func() {
		tlsConfig, err := tlscerts.ClientConfig(env.certsDir, "localhost")
		Expect(err).NotTo(HaveOccurred())

		client, err := grpcauth.NewClient(grpcauth.ClientConfig{
			Address:   env.grpcServer.Addr(),
			TLSConfig: tlsConfig,
		})
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(env.ctx, 5*time.Second)
		defer cancel()
		status, err := client.Check(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(healthpb.HealthCheckResponse_SERVING))
	})

	It("resolves an HTTP-issued access token until logout", func() {
		email := "grpc-" + time.Now().Format("150405.000000000") + "@example.com"
		register(email)
		DeferCleanup(func() {
			_, err := env.pool.Exec(env.ctx, `DELETE FROM users WHERE email = $1`, email)
			Expect(err).NotTo(HaveOccurred())
		})
		code, tokens := login(email, "pw123456")
		Expect(code).To(Equal(http.StatusOK))

		tlsConfig, err := tlscerts.ClientConfig(env.certsDir, "localhost")
		Expect(err).NotTo(HaveOccurred())
		client, err := grpcauth.NewClient(grpcauth.ClientConfig{
			Address:     env.grpcServer.Addr(),
			TLSConfig:   tlsConfig,
			AccessToken: tokens.AccessToken,
		})
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = client.Close() }()

		ctx, cancel := context.WithTimeout(env.ctx, 5*time.Second)
		defer cancel()
		me, err := client.WhoAmI(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(me.UserID).To(Equal(tokens.User.ID))
		Expect(me.Email).To(Equal(email))

		code, _ = call(http.MethodPost, "/user/logout", nil, tokens.AccessToken)
		Expect(code).To(Equal(http.StatusOK))

		_, err = client.WhoAmI(ctx)
		Expect(grpcstatus.Code(err)).To(Equal(codes.Unauthenticated))
	})
})
