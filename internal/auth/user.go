// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultRole is assigned to every newly registered user.
const DefaultRole = "user"

// BirthDateLayout is the wire and storage format of a birth date.
const BirthDateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Preferences holds a user's notification and locale settings.
type Preferences struct {
	EmailNotifications bool   `json:"emailNotifications"`
	PushNotifications  bool   `json:"pushNotifications"`
	SMSNotifications   bool   `json:"smsNotifications"`
	Language           string `json:"language,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
}

// DefaultPreferences returns the preferences of a newly registered user.
func DefaultPreferences() Preferences {
	return Preferences{
		EmailNotifications: true,
		PushNotifications:  true,
		SMSNotifications:   false,
	}
}

// User is the stored user record, including its credential fields.
// Use Public before handing a User to anything outside this service.
type User struct {
	ID             ulid.ULID
	Email          string
	Name           string
	Surname        string
	BirthDate      *time.Time
	PasswordHash   PasswordHash
	ProfilePicture string
	PhoneNumber    string
	IsActive       bool
	Role           string
	Address        string
	City           string
	Province       string
	Country        string
	ZipCode        string
	Preferences    Preferences

	// ResetTokenHash and ResetTokenExpiresAt are set and cleared together.
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	// TokenGeneration is embedded in every issued token and bumped on logout.
	TokenGeneration int64

	LastAccess   *time.Time
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// NewUser creates an active User with a fresh ID and default preferences.
// The hash must already have been produced by a PasswordHasher.
func NewUser(email, name, surname string, hash PasswordHash) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, oops.Code("USER_INVALID").Errorf("name is required")
	}
	if strings.TrimSpace(surname) == "" {
		return nil, oops.Code("USER_INVALID").Errorf("surname is required")
	}
	if hash.IsZero() {
		return nil, oops.Code("USER_INVALID").Errorf("password hash is required")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Surname:      strings.TrimSpace(surname),
		PasswordHash: hash,
		IsActive:     true,
		Role:         DefaultRole,
		Preferences:  DefaultPreferences(),
		RegisteredAt: now,
		UpdatedAt:    now,
	}, nil
}

// SetPassword stores a hash of pw on the user. It reports whether the hash
// changed: when pw already verifies against a current-format hash nothing is
// re-hashed.
func (u *User) SetPassword(hasher PasswordHasher, pw Password) (bool, error) {
	if !u.PasswordHash.IsZero() && !hasher.NeedsUpgrade(u.PasswordHash) {
		same, err := hasher.Verify(pw, u.PasswordHash)
		if err == nil && same {
			return false, nil
		}
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return false, oops.Code("USER_SET_PASSWORD_FAILED").
			With("user_id", u.ID.String()).
			Wrap(err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

// HasPendingReset reports whether a reset token is stored and not yet expired at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now)
}

// PublicUser is the outward projection of a User. It carries no secret fields.
type PublicUser struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	Name           string      `json:"name"`
	Surname        string      `json:"surname"`
	BirthDate      string      `json:"birthDate,omitempty"`
	ProfilePicture string      `json:"profilePicture,omitempty"`
	PhoneNumber    string      `json:"phoneNumber,omitempty"`
	IsActive       bool        `json:"isActive"`
	Role           string      `json:"role"`
	Address        string      `json:"address,omitempty"`
	City           string      `json:"city,omitempty"`
	Province       string      `json:"province,omitempty"`
	Country        string      `json:"country,omitempty"`
	ZipCode        string      `json:"zipCode,omitempty"`
	Preferences    Preferences `json:"preferences"`
	RegisterDate   time.Time   `json:"registerDate"`
	LastAccess     *time.Time  `json:"lastAccess,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Public strips every credential field from the user.
func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:             u.ID.String(),
		Email:          u.Email,
		Name:           u.Name,
		Surname:        u.Surname,
		ProfilePicture: u.ProfilePicture,
		PhoneNumber:    u.PhoneNumber,
		IsActive:       u.IsActive,
		Role:           u.Role,
		Address:        u.Address,
		City:           u.City,
		Province:       u.Province,
		Country:        u.Country,
		ZipCode:        u.ZipCode,
		Preferences:    u.Preferences,
		RegisterDate:   u.RegisteredAt,
		LastAccess:     u.LastAccess,
		UpdatedAt:      u.UpdatedAt,
	}
	if u.BirthDate != nil {
		p.BirthDate = u.BirthDate.Format(BirthDateLayout)
	}
	return p
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a syntactically valid address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_INVALID_EMAIL").Errorf("email is required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return oops.Code("USER_INVALID_EMAIL").Errorf("please provide a valid email")
	}
	return nil
}

// ParseBirthDate parses a YYYY-MM-DD date. An empty string yields nil.
func ParseBirthDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(BirthDateLayout, s)
	if err != nil {
		return nil, oops.Code("USER_INVALID_BIRTH_DATE").
			Errorf("please provide a valid date in YYYY-MM-DD format")
	}
	return &t, nil
}

// UserRepository manages user persistence. Implementations return errors
// wrapping ErrNotFound for missing rows and ErrEmailTaken for duplicate emails.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// Get retrieves a user by ID.
	Get(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// FindByResetToken retrieves the user holding tokenHash whose reset expiry
	// is strictly after notExpiredBefore.
	FindByResetToken(ctx context.Context, tokenHash string, notExpiredBefore time.Time) (*User, error)

	// List returns all users ordered by registration.
	List(ctx context.Context) ([]*User, error)

	// Update persists profile and preference fields. It never writes the
	// password hash, last access, reset fields, or token generation.
	Update(ctx context.Context, user *User) error

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, hash PasswordHash) error

	// Delete removes a user.
	Delete(ctx context.Context, id ulid.ULID) error

	// UpdateLastAccess records an authentication event.
	UpdateLastAccess(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetResetToken stores a pending reset, replacing any previous one.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ConsumeResetToken sets newHash and clears the reset fields in one
	// conditional update that only matches while tokenHash is still stored and
	// unexpired at now. Returns an error wrapping ErrNotFound when nothing matched.
	ConsumeResetToken(ctx context.Context, id ulid.ULID, tokenHash string, newHash PasswordHash, now time.Time) error

	// IncrementTokenGeneration invalidates all outstanding tokens for the user
	// and records at as the last access time.
	IncrementTokenGeneration(ctx context.Context, id ulid.ULID, at time.Time) error
}
