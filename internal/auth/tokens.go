// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetime defaults.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// MinSecretLength is the minimum length in bytes of a signing secret.
const MinSecretLength = 32

// minRefreshToAccessRatio keeps refresh tokens at least an order of magnitude
// longer-lived than access tokens.
const minRefreshToAccessRatio = 10

// TokenKind distinguishes access tokens from refresh tokens. The kind is never
// written into the token; it selects the signing secret and lifetime.
type TokenKind int

// Token kinds.
const (
	AccessToken TokenKind = iota + 1
	RefreshToken
)

// String returns the kind name.
func (k TokenKind) String() string {
	switch k {
	case AccessToken:
		return "access"
	case RefreshToken:
		return "refresh"
	default:
		return "unknown"
	}
}

// Token verification failures. Verify wraps exactly one of these.
var (
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenSignature = errors.New("token signature is invalid")
	ErrTokenExpired   = errors.New("token has expired")
)

// TokenConfig holds the signing secrets and lifetimes for both token kinds.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Validate checks the configuration. Any failure here must abort startup.
func (c TokenConfig) Validate() error {
	if len(c.AccessSecret) == 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token secret is required")
	}
	if len(c.RefreshSecret) == 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh token secret is required")
	}
	if len(c.AccessSecret) < MinSecretLength || len(c.RefreshSecret) < MinSecretLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("token secrets must be at least %d bytes", MinSecretLength)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh token secrets must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}
	if c.RefreshTTL < minRefreshToAccessRatio*c.AccessTTL {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", c.AccessTTL.String()).
			With("refresh_ttl", c.RefreshTTL.String()).
			Errorf("refresh token lifetime must be at least %dx the access token lifetime", minRefreshToAccessRatio)
	}
	return nil
}

// Claims is the signed payload of both token kinds.
type Claims struct {
	UserID     string `json:"id"`
	Email      string `json:"email"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

// SubjectID parses the subject claim.
func (c *Claims) SubjectID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}
	return id, nil
}

// Subject identifies who a token is issued to.
type Subject struct {
	ID         ulid.ULID
	Email      string
	Generation int64
}

// SubjectOf returns the token subject for a user.
func SubjectOf(u *User) Subject {
	return Subject{ID: u.ID, Email: u.Email, Generation: u.TokenGeneration}
}

// TokenPair is an access token together with the refresh token that can renew it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithClock overrides the time source used to stamp and check tokens.
func WithClock(now func() time.Time) TokenIssuerOption {
	return func(t *TokenIssuer) {
		t.now = now
	}
}

// TokenIssuer mints and verifies HS256 access and refresh tokens.
// It holds only immutable configuration and is safe for concurrent use.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &TokenIssuer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// IssueAccess mints a short-lived access token.
func (t *TokenIssuer) IssueAccess(sub Subject) (string, error) {
	return t.issue(AccessToken, sub)
}

// IssueRefresh mints a long-lived refresh token.
func (t *TokenIssuer) IssueRefresh(sub Subject) (string, error) {
	return t.issue(RefreshToken, sub)
}

// IssuePair mints a fresh access and refresh token for sub.
func (t *TokenIssuer) IssuePair(sub Subject) (TokenPair, error) {
	access, err := t.IssueAccess(sub)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.IssueRefresh(sub)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.cfg.AccessTTL }

// Verify checks the signature and expiry of token against the secret of the
// expected kind. A token of the other kind fails with ErrTokenSignature.
func (t *TokenIssuer) Verify(token string, kind TokenKind) (*Claims, error) {
	secret, _, err := t.params(kind)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}

	claims := &Claims{}
	_, err = jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, oops.Code("TOKEN_BAD_SIGNATURE").With("kind", kind.String()).Wrap(ErrTokenSignature)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, oops.Code("TOKEN_EXPIRED").With("kind", kind.String()).Wrap(ErrTokenExpired)
	default:
		return nil, oops.Code("TOKEN_MALFORMED").With("kind", kind.String()).Wrap(ErrTokenMalformed)
	}

	if claims.Subject == "" || claims.Subject != claims.UserID {
		return nil, oops.Code("TOKEN_MALFORMED").With("kind", kind.String()).Wrap(ErrTokenMalformed)
	}
	return claims, nil
}

func (t *TokenIssuer) issue(kind TokenKind, sub Subject) (string, error) {
	secret, ttl, err := t.params(kind)
	if err != nil {
		return "", err
	}

	now := t.now()
	claims := Claims{
		UserID:     sub.ID.String(),
		Email:      sub.Email,
		Generation: sub.Generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   sub.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ulid.Make().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("kind", kind.String()).
			With("user_id", sub.ID.String()).
			Wrap(err)
	}
	return signed, nil
}

func (t *TokenIssuer) params(kind TokenKind) ([]byte, time.Duration, error) {
	switch kind {
	case AccessToken:
		return t.cfg.AccessSecret, t.cfg.AccessTTL, nil
	case RefreshToken:
		return t.cfg.RefreshSecret, t.cfg.RefreshTTL, nil
	default:
		return nil, 0, oops.Code("TOKEN_UNKNOWN_KIND").Errorf("unknown token kind %d", int(kind))
	}
}
