// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("credkeep/auth")

// Option configures Service and ResetService.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	policy   PasswordPolicy
	now      func() time.Time
	notifier ResetNotifier
	resetTTL time.Duration
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		policy:   DefaultPasswordPolicy(),
		now:      time.Now,
		resetTTL: ResetTokenExpiry,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = NewLogNotifier(o.logger)
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPasswordPolicy sets the policy applied to newly chosen passwords.
func WithPasswordPolicy(policy PasswordPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithResetNotifier sets where issued reset tokens are handed off for delivery.
func WithResetNotifier(n ResetNotifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithResetTokenTTL overrides how long a reset token stays valid.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.resetTTL = ttl
		}
	}
}

// endSpan records err on span unless it is one of the expected, generic
// authentication outcomes.
func endSpan(span trace.Span, err error) {
	if err != nil && !isExpectedFailure(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isExpectedFailure(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials,
		ErrInvalidRefreshToken,
		ErrInvalidResetToken,
		ErrUnauthorized,
		ErrPasswordMismatch,
		ErrIncorrectPassword,
		ErrResetPasswordMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
