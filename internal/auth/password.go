// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

const redacted = "[REDACTED]"

// MinPasswordLength is the shortest password accepted at registration and login.
const MinPasswordLength = 6

// Password is a plaintext secret supplied by a caller. It is never stored and
// never printed: fmt verbs and slog both render it as [REDACTED].
type Password string

// String implements fmt.Stringer.
func (Password) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (Password) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (Password) LogValue() slog.Value { return slog.StringValue(redacted) }

// IsEmpty reports whether the password has no characters.
func (p Password) IsEmpty() bool { return p == "" }

// Len returns the length of the password in runes.
func (p Password) Len() int { return utf8.RuneCountInString(string(p)) }

// PasswordHash is the stored, one-way form of a Password. Only a
// PasswordHasher produces values of this type.
type PasswordHash string

// IsZero reports whether no hash is set.
func (h PasswordHash) IsZero() bool { return h == "" }

// PasswordPolicy describes the strength rules for a newly chosen password.
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	MinEntropyBits float64
}

// DefaultPasswordPolicy returns the policy applied to password changes and resets.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      8,
		MaxLength:      20,
		MinEntropyBits: 50,
	}
}

// Validate checks a new password against the policy. The password must mix
// upper and lower case letters and contain a digit or a symbol.
func (p PasswordPolicy) Validate(pw Password) error {
	n := pw.Len()
	if p.MinLength > 0 && n < p.MinLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", p.MinLength).
			Errorf("password must be at least %d characters", p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("max", p.MaxLength).
			Errorf("password must be at most %d characters", p.MaxLength)
	}

	var upper, lower, digitOrSymbol bool
	for _, r := range string(pw) {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			digitOrSymbol = true
		}
	}
	if !upper || !lower || !digitOrSymbol {
		return oops.Code("AUTH_WEAK_PASSWORD").
			Errorf("password too weak: it must contain at least 1 uppercase, 1 lowercase, and 1 number or special character")
	}

	if p.MinEntropyBits > 0 {
		if err := passwordvalidator.Validate(string(pw), p.MinEntropyBits); err != nil {
			return oops.Code("AUTH_WEAK_PASSWORD").
				With("min_entropy_bits", p.MinEntropyBits).
				Errorf("password too weak: %s", err.Error())
		}
	}
	return nil
}
