// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/holomush/credkeep/internal/observability"
)

const bearerScheme = "bearer"

// Identity is the authenticated caller resolved from an access token.
type Identity struct {
	UserID ulid.ULID
	Email  string
	User   *User
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the guard, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively. Returns "" when absent.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// Guard resolves bearer access tokens into identities. Transport adapters
// call Authenticate and attach the result with WithIdentity.
type Guard struct {
	users  UserRepository
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewGuard creates a new Guard.
func NewGuard(users UserRepository, tokens *TokenIssuer, logger *slog.Logger) (*Guard, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{users: users, tokens: tokens, logger: logger}, nil
}

// Authenticate resolves an Authorization header value into an identity.
// Every rejection is ErrUnauthorized; store failures are returned wrapped.
func (g *Guard) Authenticate(ctx context.Context, authorization string) (_ *Identity, err error) {
	token := BearerToken(authorization)
	if token == "" {
		observability.RecordAuthAttempt("guard", "missing_token")
		return nil, ErrUnauthorized
	}

	ctx, span := tracer.Start(ctx, "auth.guard")
	defer func() { endSpan(span, err) }()

	claims, err := g.tokens.Verify(token, AccessToken)
	if err != nil {
		g.logger.DebugContext(ctx, "access token rejected", "error", err)
		observability.RecordAuthAttempt("guard", "invalid_token")
		return nil, ErrUnauthorized
	}

	userID, err := claims.SubjectID()
	if err != nil {
		observability.RecordAuthAttempt("guard", "invalid_token")
		return nil, ErrUnauthorized
	}
	span.SetAttributes(attribute.String("user.id", userID.String()))

	user, err := g.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthAttempt("guard", "unknown_user")
			return nil, ErrUnauthorized
		}
		return nil, oops.Code("AUTH_GUARD_FAILED").
			With("operation", "get user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !user.IsActive || user.TokenGeneration != claims.Generation {
		observability.RecordAuthAttempt("guard", "revoked")
		return nil, ErrUnauthorized
	}

	observability.RecordAuthAttempt("guard", "success")
	return &Identity{UserID: user.ID, Email: user.Email, User: user}, nil
}
