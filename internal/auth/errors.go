// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when an email is already registered to another user.
var ErrEmailTaken = errors.New("email already registered")

// Authentication failures. Each is a single value returned from every branch
// that produces it, so callers cannot tell the underlying cause apart.
var (
	// ErrInvalidCredentials covers an unknown email, a wrong password, and a
	// deactivated account.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidRefreshToken covers malformed, badly signed, expired, and
	// orphaned refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidResetToken covers unknown, expired, and already consumed reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")

	// ErrUnauthorized is returned by the guard for any request it cannot resolve
	// to a live identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// Password change and reset validation failures.
var (
	ErrPasswordMismatch      = errors.New("new passwords do not match")
	ErrIncorrectPassword     = errors.New("current password is incorrect")
	ErrResetPasswordMismatch = errors.New("passwords do not match")
)
