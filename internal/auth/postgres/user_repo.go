// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements auth.UserRepository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by the repository.
// pgxmock.PgxPoolIface satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const emailIndex = "users_email_key"

const userColumns = `
	id, email, name, surname, birth_date, password_hash,
	profile_picture, phone_number, is_active, role,
	address, city, province, country, zip_code, preferences,
	reset_token_hash, reset_token_expires_at, token_generation,
	last_access, registered_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	prefsJSON, err := json.Marshal(user.Preferences)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "marshal preferences").
			Wrap(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		user.ID.String(),
		auth.NormalizeEmail(user.Email),
		user.Name,
		user.Surname,
		user.BirthDate,
		user.ProfilePicture,
		user.PhoneNumber,
		user.IsActive,
		user.Role,
		user.Address,
		user.City,
		user.Province,
		user.Country,
		user.ZipCode,
		prefsJSON,
		user.ResetTokenHash,
		user.ResetTokenExpiresAt,
		user.TokenGeneration,
		user.LastAccess,
		user.RegisteredAt,
		user.UpdatedAt,
	)
	if isEmailConflict(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return r.one(row, "id", id.String())
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`,
		auth.NormalizeEmail(email))
	return r.one(row, "email", email)
}

// FindByResetToken retrieves the user holding tokenHash with an unexpired reset.
func (r *UserRepository) FindByResetToken(ctx context.Context, tokenHash string, notExpiredBefore time.Time) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $2
	`, tokenHash, notExpiredBefore)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The token hash is a credential; it stays out of the error context.
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_STORE_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}
	return user, nil
}

// List returns all users ordered by registration time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY registered_at, id`)
	if err != nil {
		return nil, oops.Code("USER_STORE_FAILED").With("operation", "list users").Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_STORE_FAILED").With("operation", "scan user").Wrap(err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_STORE_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// Update persists profile and preference fields. The password hash, last
// access, reset fields, token generation, and registration time each have a
// dedicated single-column write and are never written back from a loaded user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	prefsJSON, err := json.Marshal(user.Preferences)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "marshal preferences").
			Wrap(err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			email = $2, name = $3, surname = $4, birth_date = $5,
			profile_picture = $6, phone_number = $7,
			is_active = $8, role = $9, address = $10, city = $11,
			province = $12, country = $13, zip_code = $14,
			preferences = $15, updated_at = $16
		WHERE id = $1
	`,
		user.ID.String(),
		auth.NormalizeEmail(user.Email),
		user.Name,
		user.Surname,
		user.BirthDate,
		user.ProfilePicture,
		user.PhoneNumber,
		user.IsActive,
		user.Role,
		user.Address,
		user.City,
		user.Province,
		user.Country,
		user.ZipCode,
		prefsJSON,
		user.UpdatedAt,
	)
	if isEmailConflict(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	return r.affected(tag, err, "update user", user.ID)
}

// UpdatePassword replaces only the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, hash auth.PasswordHash) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id.String(), string(hash), time.Now().UTC())
	return r.affected(tag, err, "update password", id)
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	return r.affected(tag, err, "delete user", id)
}

// UpdateLastAccess records an authentication event.
func (r *UserRepository) UpdateLastAccess(ctx context.Context, id ulid.ULID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_access = $2 WHERE id = $1`, id.String(), at)
	return r.affected(tag, err, "update last access", id)
}

// SetResetToken stores a pending reset, replacing any previous one.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt, time.Now().UTC())
	return r.affected(tag, err, "set reset token", id)
}

// ConsumeResetToken sets newHash and clears the reset fields in a single
// conditional UPDATE, so two concurrent confirmations cannot both succeed.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, id ulid.ULID, tokenHash string, newHash auth.PasswordHash, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $3,
		    reset_token_hash = NULL,
		    reset_token_expires_at = NULL,
		    updated_at = $4
		WHERE id = $1
		  AND reset_token_hash = $2
		  AND reset_token_expires_at > $4
	`, id.String(), tokenHash, string(newHash), now)
	if err != nil {
		return oops.Code("USER_STORE_FAILED").
			With("operation", "consume reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_TOKEN_NOT_PENDING").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// IncrementTokenGeneration invalidates all outstanding tokens for the user.
func (r *UserRepository) IncrementTokenGeneration(ctx context.Context, id ulid.ULID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET token_generation = token_generation + 1, last_access = $2
		WHERE id = $1
	`, id.String(), at)
	return r.affected(tag, err, "increment token generation", id)
}

func (r *UserRepository) one(row pgx.Row, key, value string) (*auth.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_STORE_FAILED").
			With("operation", "get user by "+key).
			With(key, value).
			Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) affected(tag pgconn.CommandTag, err error, operation string, id ulid.ULID) error {
	if err != nil {
		return oops.Code("USER_STORE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u         auth.User
		id        string
		hash      string
		prefsJSON []byte
	)
	err := row.Scan(
		&id, &u.Email, &u.Name, &u.Surname, &u.BirthDate, &hash,
		&u.ProfilePicture, &u.PhoneNumber, &u.IsActive, &u.Role,
		&u.Address, &u.City, &u.Province, &u.Country, &u.ZipCode, &prefsJSON,
		&u.ResetTokenHash, &u.ResetTokenExpiresAt, &u.TokenGeneration,
		&u.LastAccess, &u.RegisteredAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.ID, err = ulid.Parse(id)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("id", id).Wrap(err)
	}
	u.PasswordHash = auth.PasswordHash(hash)
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &u.Preferences); err != nil {
			return nil, oops.With("operation", "unmarshal preferences").With("id", id).Wrap(err)
		}
	}
	return &u, nil
}

func isEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == emailIndex
}

var _ auth.UserRepository = (*UserRepository)(nil)
