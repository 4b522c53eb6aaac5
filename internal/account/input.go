// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/holomush/credkeep/internal/auth"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterInput is the payload for creating a user. Registration only asks
// for six characters; password changes and resets apply auth.PasswordPolicy.
type RegisterInput struct {
	Email          string        `json:"email" validate:"required,email"`
	Password       auth.Password `json:"password" validate:"required,min=6"`
	Name           string        `json:"name" validate:"required"`
	Surname        string        `json:"surname" validate:"required"`
	BirthDate      string        `json:"birthDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ProfilePicture string        `json:"profilePicture,omitempty"`
	PhoneNumber    string        `json:"phoneNumber,omitempty"`
	Address        string        `json:"address,omitempty"`
	City           string        `json:"city,omitempty"`
	Province       string        `json:"province,omitempty"`
	Country        string        `json:"country,omitempty"`
	ZipCode        string        `json:"zipCode,omitempty"`
}

// UpdateInput is a partial profile update. Nil fields are left unchanged; an
// empty birthDate clears it. Passwords change only through
// auth.Service.ChangePassword or a reset.
type UpdateInput struct {
	Email          *string `json:"email,omitempty" validate:"omitnil,email"`
	Name           *string `json:"name,omitempty" validate:"omitnil,min=1"`
	Surname        *string `json:"surname,omitempty" validate:"omitnil,min=1"`
	BirthDate      *string `json:"birthDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
	PhoneNumber    *string `json:"phoneNumber,omitempty"`
	Address        *string `json:"address,omitempty"`
	City           *string `json:"city,omitempty"`
	Province       *string `json:"province,omitempty"`
	Country        *string `json:"country,omitempty"`
	ZipCode        *string `json:"zipCode,omitempty"`
}

// PreferencesPatch merges into the stored preferences. Nil fields are kept.
type PreferencesPatch struct {
	EmailNotifications *bool   `json:"emailNotifications,omitempty"`
	PushNotifications  *bool   `json:"pushNotifications,omitempty"`
	SMSNotifications   *bool   `json:"smsNotifications,omitempty"`
	Language           *string `json:"language,omitempty"`
	Timezone           *string `json:"timezone,omitempty"`
}

// Apply returns p merged over prefs.
func (p PreferencesPatch) Apply(prefs auth.Preferences) auth.Preferences {
	if p.EmailNotifications != nil {
		prefs.EmailNotifications = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		prefs.PushNotifications = *p.PushNotifications
	}
	if p.SMSNotifications != nil {
		prefs.SMSNotifications = *p.SMSNotifications
	}
	if p.Language != nil {
		prefs.Language = *p.Language
	}
	if p.Timezone != nil {
		prefs.Timezone = *p.Timezone
	}
	return prefs
}

func setIf(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}
