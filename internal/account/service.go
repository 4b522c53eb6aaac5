// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/credkeep/internal/auth"
)

var tracer = otel.Tracer("credkeep/account")

// Service manages user records outside the credential flows.
type Service struct {
	users  auth.UserRepository
	hasher auth.PasswordHasher
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(users auth.UserRepository, hasher auth.PasswordHasher, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, hasher: hasher, logger: logger}, nil
}

// Authorize reports ErrForbidden unless actor and target are the same user.
func Authorize(actor, target ulid.ULID) error {
	if actor != target {
		return oops.Code("ACCOUNT_FORBIDDEN").
			With("actor_id", actor.String()).
			With("target_id", target.String()).
			Wrap(ErrForbidden)
	}
	return nil
}

// Register creates an active user with the default role and preferences.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ auth.PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "account.register")
	defer func() { endSpan(span, err) }()

	if err := validate.Struct(in); err != nil {
		return auth.PublicUser{}, ValidationError(err)
	}
	birth, err := auth.ParseBirthDate(in.BirthDate)
	if err != nil {
		return auth.PublicUser{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return auth.PublicUser{}, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := auth.NewUser(in.Email, in.Name, in.Surname, hash)
	if err != nil {
		return auth.PublicUser{}, err
	}
	user.BirthDate = birth
	user.ProfilePicture = in.ProfilePicture
	user.PhoneNumber = in.PhoneNumber
	user.Address = in.Address
	user.City = in.City
	user.Province = in.Province
	user.Country = in.Country
	user.ZipCode = in.ZipCode

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			return auth.PublicUser{}, oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", user.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return auth.PublicUser{}, oops.Code("ACCOUNT_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user.Public(), nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id ulid.ULID) (auth.PublicUser, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return auth.PublicUser{}, err
	}
	return user.Public(), nil
}

// Profile returns the caller's own user. It is Get under the name the
// profile and me routes use.
func (s *Service) Profile(ctx context.Context, id ulid.ULID) (auth.PublicUser, error) {
	return s.Get(ctx, id)
}

// List returns every user ordered by registration.
func (s *Service) List(ctx context.Context) ([]auth.PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	out := make([]auth.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// Update applies a partial profile update. Email changes are checked for
// uniqueness by the store.
func (s *Service) Update(ctx context.Context, id ulid.ULID, in UpdateInput) (_ auth.PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "account.update",
		trace.WithAttributes(attribute.String("user.id", id.String())))
	defer func() { endSpan(span, err) }()

	if err := validate.Struct(in); err != nil {
		return auth.PublicUser{}, ValidationError(err)
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return auth.PublicUser{}, err
	}

	if in.Email != nil {
		email := auth.NormalizeEmail(*in.Email)
		if err := auth.ValidateEmail(email); err != nil {
			return auth.PublicUser{}, err
		}
		user.Email = email
	}
	if in.BirthDate != nil {
		birth, err := auth.ParseBirthDate(*in.BirthDate)
		if err != nil {
			return auth.PublicUser{}, err
		}
		user.BirthDate = birth
	}
	setIf(&user.Name, in.Name)
	setIf(&user.Surname, in.Surname)
	setIf(&user.ProfilePicture, in.ProfilePicture)
	setIf(&user.PhoneNumber, in.PhoneNumber)
	setIf(&user.Address, in.Address)
	setIf(&user.City, in.City)
	setIf(&user.Province, in.Province)
	setIf(&user.Country, in.Country)
	setIf(&user.ZipCode, in.ZipCode)

	user.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, user); err != nil {
		return auth.PublicUser{}, err
	}
	return user.Public(), nil
}

// UpdatePreferences merges patch into the stored preferences.
func (s *Service) UpdatePreferences(ctx context.Context, id ulid.ULID, patch PreferencesPatch) (auth.PublicUser, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return auth.PublicUser{}, err
	}
	user.Preferences = patch.Apply(user.Preferences)
	user.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, user); err != nil {
		return auth.PublicUser{}, err
	}
	return user.Public(), nil
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, id ulid.ULID) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return notFoundOr(err, "ACCOUNT_DELETE_FAILED", id)
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", id.String())
	return nil
}

func (s *Service) load(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "ACCOUNT_GET_FAILED", id)
	}
	return user, nil
}

func (s *Service) save(ctx context.Context, user *auth.User) error {
	err := s.users.Update(ctx, user)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrEmailTaken):
		return oops.Code("ACCOUNT_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	default:
		return notFoundOr(err, "ACCOUNT_UPDATE_FAILED", user.ID)
	}
}

func notFoundOr(err error, code string, id ulid.ULID) error {
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code("ACCOUNT_NOT_FOUND").With("user_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.Code(code).With("user_id", id.String()).Wrap(err)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrInvalidInput) && !errors.Is(err, auth.ErrEmailTaken) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
