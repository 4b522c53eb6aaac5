// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-memory auth.UserRepository for tests and
// single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// UserRepository implements auth.UserRepository with a map guarded by a
// mutex. Users are copied on the way in and out so callers never share state
// with the store.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	if _, taken := r.byEmail[email]; taken {
		return oops.Code("USER_EMAIL_TAKEN").With("email", email).Wrap(auth.ErrEmailTaken)
	}
	if _, exists := r.byID[user.ID]; exists {
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Errorf("user already exists")
	}

	u := clone(user)
	u.Email = email
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, notFound("id", id.String())
	}
	return clone(u), nil
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, notFound("email", email)
	}
	return clone(r.byID[id]), nil
}

// FindByResetToken retrieves the user holding tokenHash with an unexpired reset.
func (r *UserRepository) FindByResetToken(_ context.Context, tokenHash string, notExpiredBefore time.Time) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash && u.HasPendingReset(notExpiredBefore) {
			return clone(u), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// List returns all users ordered by registration time.
func (r *UserRepository) List(_ context.Context) ([]*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*auth.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, clone(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].RegisteredAt.Equal(users[j].RegisteredAt) {
			return users[i].ID.Compare(users[j].ID) < 0
		}
		return users[i].RegisteredAt.Before(users[j].RegisteredAt)
	})
	return users, nil
}

// Update persists profile and preference fields. The password hash, last
// access, reset fields, and token generation are owned by their dedicated
// methods and left as stored.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[user.ID]
	if !ok {
		return notFound("id", user.ID.String())
	}

	email := auth.NormalizeEmail(user.Email)
	if owner, taken := r.byEmail[email]; taken && owner != user.ID {
		return oops.Code("USER_EMAIL_TAKEN").With("email", email).Wrap(auth.ErrEmailTaken)
	}

	u := clone(user)
	u.Email = email
	u.PasswordHash = cur.PasswordHash
	u.LastAccess = cur.LastAccess
	u.ResetTokenHash = cur.ResetTokenHash
	u.ResetTokenExpiresAt = cur.ResetTokenExpiresAt
	u.TokenGeneration = cur.TokenGeneration
	u.RegisteredAt = cur.RegisteredAt

	delete(r.byEmail, cur.Email)
	r.byEmail[email] = u.ID
	r.byID[u.ID] = u
	return nil
}

// UpdatePassword replaces only the password hash.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, hash auth.PasswordHash) error {
	return r.mutate(id, func(u *auth.User) {
		u.PasswordHash = hash
		u.UpdatedAt = time.Now().UTC()
	})
}

// Delete removes a user.
func (r *UserRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return notFound("id", id.String())
	}
	delete(r.byEmail, u.Email)
	delete(r.byID, id)
	return nil
}

// UpdateLastAccess records an authentication event.
func (r *UserRepository) UpdateLastAccess(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, func(u *auth.User) {
		u.LastAccess = &at
	})
}

// SetResetToken stores a pending reset, replacing any previous one.
func (r *UserRepository) SetResetToken(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return r.mutate(id, func(u *auth.User) {
		u.ResetTokenHash = &tokenHash
		u.ResetTokenExpiresAt = &expiresAt
		u.UpdatedAt = time.Now().UTC()
	})
}

// ConsumeResetToken sets newHash and clears the reset fields if tokenHash is
// still pending at now. The check and the write happen under one lock.
func (r *UserRepository) ConsumeResetToken(_ context.Context, id ulid.ULID, tokenHash string, newHash auth.PasswordHash, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok || u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash || !u.HasPendingReset(now) {
		return oops.Code("RESET_TOKEN_NOT_PENDING").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = newHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	u.UpdatedAt = now
	return nil
}

// IncrementTokenGeneration invalidates all outstanding tokens for the user.
func (r *UserRepository) IncrementTokenGeneration(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, func(u *auth.User) {
		u.TokenGeneration++
		u.LastAccess = &at
	})
}

func (r *UserRepository) mutate(id ulid.ULID, fn func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return notFound("id", id.String())
	}
	fn(u)
	return nil
}

func notFound(key, value string) error {
	return oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}

func clone(u *auth.User) *auth.User {
	c := *u
	if u.BirthDate != nil {
		d := *u.BirthDate
		c.BirthDate = &d
	}
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.ResetTokenExpiresAt != nil {
		e := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &e
	}
	if u.LastAccess != nil {
		l := *u.LastAccess
		c.LastAccess = &l
	}
	return &c
}

var _ auth.UserRepository = (*UserRepository)(nil)
