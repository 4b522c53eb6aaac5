// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/holomush/credkeep/internal/observability"
	"github.com/holomush/credkeep/pkg/errutil"
)

// Service provides login, token refresh, password change, and logout.
type Service struct {
	users  UserRepository
	tokens *TokenIssuer
	hasher PasswordHasher
	policy PasswordPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new Service.
func NewService(users UserRepository, tokens *TokenIssuer, hasher PasswordHasher, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	o := applyOptions(opts)
	return &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		policy: o.policy,
		logger: o.logger,
		now:    o.now,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash PasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is returned by a successful login.
type LoginResult struct {
	User         PublicUser `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}

// Login authenticates a user by email and password and issues a token pair.
// An unknown email, a wrong password, and a deactivated account all return
// ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, email string, password Password) (_ *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { endSpan(span, err) }()

	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))

	var targetHash PasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so that a missing user costs the same as a wrong password.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// An unreadable stored hash must look like a wrong password to the caller.
		if userExists {
			errutil.LogErrorContext(ctx, s.logger, "stored password hash unreadable",
				oops.Code("AUTH_LOGIN_FAILED").
					With("operation", "verify password").
					With("user_id", user.ID.String()).
					Wrap(verifyErr))
		}
		observability.RecordAuthAttempt("login", "failure")
		return nil, ErrInvalidCredentials
	}

	if !userExists || !valid || !user.IsActive {
		observability.RecordAuthAttempt("login", "failure")
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	pair, err := s.tokens.IssuePair(SubjectOf(user))
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue tokens").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastAccess(ctx, user.ID, now); err != nil {
		// Login succeeds even if the bookkeeping write fails.
		s.logger.WarnContext(ctx, "failed to record last access",
			"user_id", user.ID.String(), "error", err)
	} else {
		user.LastAccess = &now
	}

	observability.RecordAuthAttempt("login", "success")
	return &LoginResult{
		User:         user.Public(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// upgradeHash re-hashes a legacy or under-cost password hash. Best effort.
func (s *Service) upgradeHash(ctx context.Context, user *User, password Password) {
	changed, err := user.SetPassword(s.hasher, password)
	if err != nil || !changed {
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, user.PasswordHash); err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash",
			"user_id", user.ID.String(), "error", err)
		return
	}
	s.logger.InfoContext(ctx, "upgraded password hash", "user_id", user.ID.String())
}

// Refresh exchanges a refresh token for a new token pair. Rotation is
// stateless: the presented token stays valid until it expires or the user
// logs out.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (_ TokenPair, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { endSpan(span, err) }()

	claims, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		s.logger.DebugContext(ctx, "refresh token rejected", "error", err)
		observability.RecordAuthAttempt("refresh", "failure")
		return TokenPair{}, ErrInvalidRefreshToken
	}

	userID, err := claims.SubjectID()
	if err != nil {
		observability.RecordAuthAttempt("refresh", "failure")
		return TokenPair{}, ErrInvalidRefreshToken
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthAttempt("refresh", "failure")
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !user.IsActive || user.TokenGeneration != claims.Generation {
		observability.RecordAuthAttempt("refresh", "failure")
		return TokenPair{}, ErrInvalidRefreshToken
	}

	pair, err := s.tokens.IssuePair(SubjectOf(user))
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}

	observability.RecordAuthAttempt("refresh", "success")
	return pair, nil
}

// ChangePassword replaces the password of an authenticated user. The stored
// hash is left untouched on every failure path.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, current, next, confirm Password) (err error) {
	ctx, span := tracer.Start(ctx, "auth.change_password")
	defer func() { endSpan(span, err) }()

	if next != confirm {
		return ErrPasswordMismatch
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return oops.With("operation", "get user").
			With("user_id", userID.String()).
			Wrap(err)
	}

	valid, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !valid {
		observability.RecordAuthAttempt("change_password", "failure")
		return ErrIncorrectPassword
	}

	if err := s.policy.Validate(next); err != nil {
		return err
	}

	changed, err := user.SetPassword(s.hasher, next)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if changed {
		if err := s.users.UpdatePassword(ctx, userID, user.PasswordHash); err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "update password").
				With("user_id", userID.String()).
				Wrap(err)
		}
	}

	observability.RecordAuthAttempt("change_password", "success")
	return nil
}

// Logout invalidates every token issued to the user so far and records the
// access time.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { endSpan(span, err) }()

	if err := s.users.IncrementTokenGeneration(ctx, userID, s.now().UTC()); err != nil {
		return oops.With("operation", "increment token generation").
			With("user_id", userID.String()).
			Wrap(err)
	}
	observability.RecordAuthAttempt("logout", "success")
	return nil
}
