// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/observability"
)

// ResetService runs the two-phase password reset handshake: a token is issued
// against an email and later consumed exactly once to set a new password.
type ResetService struct {
	users    UserRepository
	hasher   PasswordHasher
	policy   PasswordPolicy
	notifier ResetNotifier
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewResetService creates a new ResetService.
func NewResetService(users UserRepository, hasher PasswordHasher, opts ...Option) (*ResetService, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	o := applyOptions(opts)
	return &ResetService{
		users:    users,
		hasher:   hasher,
		policy:   o.policy,
		notifier: o.notifier,
		ttl:      o.resetTTL,
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// RequestReset issues a reset token for the user registered under email and
// hands it to the notifier. An unknown email returns nil without doing
// anything, so callers cannot learn which emails exist.
func (s *ResetService) RequestReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset.request")
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthAttempt("reset_request", "unknown_email")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	expiresAt := s.now().UTC().Add(s.ttl)
	if err := s.users.SetResetToken(ctx, user.ID, hash, expiresAt); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	// A delivery failure must not change the response, or it would reveal
	// that the account exists.
	if err := s.notifier.NotifyReset(ctx, user.Public(), token, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to queue password reset delivery",
			"user_id", user.ID.String(), "error", err)
	}

	observability.RecordAuthAttempt("reset_request", "issued")
	return nil
}

// ConfirmReset consumes token and sets the new password. Unknown, expired,
// and already consumed tokens all fail with ErrInvalidResetToken, including
// the loser of two concurrent confirmations.
func (s *ResetService) ConfirmReset(ctx context.Context, token string, next, confirm Password) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset.confirm")
	defer func() { endSpan(span, err) }()

	if token == "" {
		observability.RecordAuthAttempt("reset_confirm", "failure")
		return ErrInvalidResetToken
	}

	now := s.now().UTC()
	tokenHash := HashResetToken(token)

	user, err := s.users.FindByResetToken(ctx, tokenHash, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthAttempt("reset_confirm", "failure")
			return ErrInvalidResetToken
		}
		return oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}

	if next != confirm {
		return ErrResetPasswordMismatch
	}
	if err := s.policy.Validate(next); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(next)
	if err != nil {
		return oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "hash password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	// The password write and the token clear are one conditional update, so
	// the token cannot be replayed even if this call is retried.
	if err := s.users.ConsumeResetToken(ctx, user.ID, tokenHash, newHash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordAuthAttempt("reset_confirm", "failure")
			return ErrInvalidResetToken
		}
		return oops.Code("RESET_CONFIRM_FAILED").
			With("operation", "consume reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	observability.RecordAuthAttempt("reset_confirm", "success")
	return nil
}
