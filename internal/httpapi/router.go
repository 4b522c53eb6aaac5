// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the credential and account operations over HTTP
// with gin. Routes live under /user.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth"
)

// Config holds the optional router settings.
type Config struct {
	// AllowedOrigins enables CORS for matching origins. Empty disables CORS.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// API holds the services behind the routes.
type API struct {
	auth     *auth.Service
	reset    *auth.ResetService
	guard    *auth.Guard
	accounts *account.Service
	logger   *slog.Logger
}

// NewAPI creates a new API.
func NewAPI(authSvc *auth.Service, reset *auth.ResetService, guard *auth.Guard, accounts *account.Service, logger *slog.Logger) (*API, error) {
	if authSvc == nil {
		return nil, oops.Errorf("auth service is required")
	}
	if reset == nil {
		return nil, oops.Errorf("reset service is required")
	}
	if guard == nil {
		return nil, oops.Errorf("guard is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("account service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{auth: authSvc, reset: reset, guard: guard, accounts: accounts, logger: logger}, nil
}

// Handler builds the gin engine with middleware and routes.
func (a *API) Handler(cfg Config) (*gin.Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = a.logger
	}

	r := gin.New()
	r.Use(gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		logger.ErrorContext(c.Request.Context(), "panic serving request",
			"request_id", RequestIDFrom(c), "panic", rec)
		c.AbortWithStatusJSON(http.StatusInternalServerError, messageBody{Message: msgInternal})
	}))
	r.Use(RequestID(), Metrics(), AccessLog(logger))

	origins, err := NewOriginMatcher(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	if !origins.Empty() {
		r.Use(CORS(origins))
	}

	a.routes(r)
	return r, nil
}

func (a *API) routes(r gin.IRouter) {
	requireAuth := RequireAuth(a.guard, a.logger)
	user := r.Group("/user")

	user.POST("", a.register)
	user.POST("/login", a.login)
	user.POST("/refresh-token", a.refresh)
	user.POST("/reset-password", a.requestReset)
	user.POST("/reset-password/confirm", a.confirmReset)

	authed := user.Group("", requireAuth)
	authed.GET("", a.list)
	authed.GET("/profile", a.profile)
	authed.GET("/me", a.profile)
	authed.PATCH("/preferences", a.preferences)
	authed.PATCH("/change-password", a.changePassword)
	authed.POST("/logout", a.logout)
	authed.GET("/:id", a.get)
	authed.PATCH("/:id", a.update)
	authed.DELETE("/:id", a.remove)
}
