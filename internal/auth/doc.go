// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the credential and token lifecycle of credkeep.
//
// # Domain Types
//
// Secrets are typed so that plaintext and stored forms cannot be confused:
//   - Password - caller-supplied plaintext, redacted in every printed form
//   - PasswordHash - the stored form, produced only by a PasswordHasher
//
// User records are created with NewUser and always leave the service through
// User.Public, which strips the hash, reset fields, and token generation.
//
// # Services
//
// Service types coordinate domain operations:
//   - TokenIssuer - mints and verifies HS256 access and refresh tokens
//   - Service - login, refresh, password change, logout
//   - ResetService - password reset request and confirmation
//   - Guard - resolves a bearer access token into an Identity
//
// Services are created with New* constructors that validate dependencies.
//
// # Errors
//
// Authentication failures are single sentinel values (ErrInvalidCredentials,
// ErrInvalidRefreshToken, ErrInvalidResetToken, ErrUnauthorized) returned from
// every branch that produces them. Infrastructure failures are wrapped with
// oops codes and carry ids, never secrets.
package auth
