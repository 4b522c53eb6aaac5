// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// ErrForbidden is returned when a caller acts on a user other than itself.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError converts a validator error into an ACCOUNT_INVALID error
// wrapping ErrInvalidInput. The public message names the offending fields and
// is safe to return to clients.
func ValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code("ACCOUNT_INVALID").Public("Invalid request").Wrapf(ErrInvalidInput, "%s", err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	msg := strings.Join(msgs, "; ")
	return oops.Code("ACCOUNT_INVALID").
		With("fields", len(verrs)).
		Public(msg).
		Wrapf(ErrInvalidInput, "%s", msg)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", capitalize(fe.Field()))
	case "email":
		return "Please provide a valid email"
	case "min":
		if strings.EqualFold(fe.Field(), "password") {
			return fmt.Sprintf("Password must be at least %s characters long", fe.Param())
		}
		return fmt.Sprintf("%s should not be empty", capitalize(fe.Field()))
	case "datetime":
		return "Please provide a valid date in YYYY-MM-DD format"
	default:
		return fmt.Sprintf("%s is invalid", capitalize(fe.Field()))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
