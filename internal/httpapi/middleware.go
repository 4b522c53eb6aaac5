// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/observability"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

const (
	requestIDKey = "request_id"
	identityKey  = "identity"
)

// RequestID reuses a client-supplied X-Request-ID when it parses as a UUID
// and generates one otherwise. The id is echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one structured line per request. The Authorization header
// and bodies are never logged.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"request_id", RequestIDFrom(c),
			"method", c.Request.Method,
			"route", routeOf(c),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if id, ok := IdentityFrom(c); ok {
			attrs = append(attrs, "user_id", id.UserID.String())
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// Metrics records the request count and latency by matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observability.RecordHTTPRequest(c.Request.Method, routeOf(c),
			strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// routeOf returns the matched route template so ids never become label values.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// RequireAuth resolves the bearer access token with guard and attaches the
// identity to both the gin context and the request context. Rejections abort
// with 401; store failures abort with 500.
func RequireAuth(guard *auth.Guard, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := guard.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// IdentityFrom returns the identity attached by RequireAuth.
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok && id != nil
}

// OriginMatcher reports whether a browser origin may call the API. Patterns
// are exact origins or globs such as "https://*.example.com"; "*" allows any
// origin.
type OriginMatcher struct {
	any      bool
	patterns []glob.Glob
}

// NewOriginMatcher compiles the allowed origin patterns.
func NewOriginMatcher(origins []string) (*OriginMatcher, error) {
	m := &OriginMatcher{}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
			continue
		case "*":
			m.any = true
			continue
		}
		g, err := glob.Compile(strings.ToLower(o), '.', ':')
		if err != nil {
			return nil, oops.Code("CORS_ORIGIN_INVALID").With("origin", o).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Allow reports whether origin matches any pattern.
func (m *OriginMatcher) Allow(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// Empty reports whether no origin is allowed.
func (m *OriginMatcher) Empty() bool {
	return !m.any && len(m.patterns) == 0
}

// CORS builds the gin-contrib/cors middleware for m.
func CORS(m *OriginMatcher) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  m.Allow,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
