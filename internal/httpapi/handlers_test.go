// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/auth"
)

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/user", registerBody("Ada@Example.com"), "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "argon2")
	assert.NotContains(t, body, "resetToken")

	user := decodeJSON[auth.PublicUser](t, rec)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "user", user.Role)
	assert.True(t, user.IsActive)

	rec = h.do(http.MethodPost, "/user", registerBody("ada@example.com"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already registered", decodeJSON[message](t, rec).Message)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		message string
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }, "Name is required"},
		{"bad email", func(b map[string]any) { b["email"] = "nope" }, "Please provide a valid email"},
		{"short password", func(b map[string]any) { b["password"] = "pw1" }, "Password must be at least 6 characters long"},
		{"bad birth date", func(b map[string]any) { b["birthDate"] = "1815/12/10" }, "Please provide a valid date in YYYY-MM-DD format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := registerBody("ada@example.com")
			tt.mutate(b)
			rec := h.do(http.MethodPost, "/user", b, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeJSON[message](t, rec).Message)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := strings.NewReader(`{"email":`)
		rec := h.doRaw(http.MethodPost, "/user", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decodeJSON[message](t, rec).Message)
	})
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, "a@x.com", login.User.Email)
	assert.NotNil(t, login.User.LastAccess)

	wrongPassword := h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "wrong-pass"}, "")
	unknownEmail := h.do(http.MethodPost, "/user/login", map[string]any{"email": "b@x.com", "password": "pw123456"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String(),
		"unknown email and wrong password must be indistinguishable")
	assert.Equal(t, "Invalid email or password", decodeJSON[message](t, wrongPassword).Message)

	short := h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "pw"}, "")
	assert.Equal(t, http.StatusBadRequest, short.Code)
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	rec := h.do(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeJSON[auth.TokenPair](t, rec)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	for name, token := range map[string]string{
		"access token as refresh": login.AccessToken,
		"garbage":                 "not.a.jwt",
		"empty":                   "",
	} {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": token}, "")
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Invalid refresh token", decodeJSON[message](t, rec).Message)
		})
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	routes := []struct{ method, path string }{
		{http.MethodGet, "/user"},
		{http.MethodGet, "/user/profile"},
		{http.MethodGet, "/user/me"},
		{http.MethodPatch, "/user/preferences"},
		{http.MethodPatch, "/user/change-password"},
		{http.MethodPost, "/user/logout"},
		{http.MethodGet, "/user/" + login.User.ID},
		{http.MethodPatch, "/user/" + login.User.ID},
		{http.MethodDelete, "/user/" + login.User.ID},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := h.do(r.method, r.path, map[string]any{}, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Unauthorized", decodeJSON[message](t, rec).Message)

			rec = h.do(r.method, r.path, map[string]any{}, login.RefreshToken)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are not access tokens")
		})
	}
}

func TestProfileAndMe(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	profile := h.do(http.MethodGet, "/user/profile", nil, login.AccessToken)
	me := h.do(http.MethodGet, "/user/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, profile.Code)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, login.User.ID, decodeJSON[auth.PublicUser](t, profile).ID)
	assert.Equal(t, profile.Body.String(), me.Body.String())
}

func TestListAndGet(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")
	h.registerAndLogin(t, "b@x.com")

	rec := h.do(http.MethodGet, "/user", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]auth.PublicUser](t, rec), 2)

	rec = h.do(http.MethodGet, "/user/"+login.User.ID, nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/user/"+ulid.Make().String(), nil, login.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeJSON[message](t, rec).Message)

	rec = h.do(http.MethodGet, "/user/not-an-id", nil, login.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAndDelete_SelfOnly(t *testing.T) {
	h := newHarness(t)
	ada := h.registerAndLogin(t, "a@x.com")
	bob := h.registerAndLogin(t, "b@x.com")

	rec := h.do(http.MethodPatch, "/user/"+bob.User.ID, map[string]any{"city": "Rome"}, ada.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodDelete, "/user/"+bob.User.ID, nil, ada.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPatch, "/user/"+ada.User.ID, map[string]any{"city": "Rome"}, ada.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rome", decodeJSON[auth.PublicUser](t, rec).City)

	rec = h.do(http.MethodPatch, "/user/"+ada.User.ID, map[string]any{"email": "b@x.com"}, ada.AccessToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/user/"+ada.User.ID, nil, ada.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/user/profile", nil, ada.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a deleted user's token must stop working")
}

func TestUpdate_RejectsPassword(t *testing.T) {
	h := newHarness(t)
	ada := h.registerAndLogin(t, "a@x.com")

	rec := h.do(http.MethodPatch, "/user/"+ada.User.ID,
		map[string]any{"city": "Rome", "password": "abcdef"}, ada.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON[message](t, rec).Message, "/user/change-password")

	rec = h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "abcdef"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "pw123456"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/user/profile", nil, ada.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeJSON[auth.PublicUser](t, rec).City, "a rejected request changes nothing")
}

func TestPreferences(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	rec := h.do(http.MethodPatch, "/user/preferences",
		map[string]any{"smsNotifications": true, "timezone": "Europe/Rome"}, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeJSON[auth.PublicUser](t, rec)
	assert.True(t, user.Preferences.SMSNotifications)
	assert.True(t, user.Preferences.EmailNotifications)
	assert.Equal(t, "Europe/Rome", user.Preferences.Timezone)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		message string
	}{
		{"mismatch", map[string]any{"currentPassword": "pw123456", "newPassword": "N3w-Passw0rd!", "confirmNewPassword": "other"},
			http.StatusBadRequest, "New passwords do not match"},
		{"wrong current", map[string]any{"currentPassword": "nope1234", "newPassword": "N3w-Passw0rd!", "confirmNewPassword": "N3w-Passw0rd!"},
			http.StatusBadRequest, "Current password is incorrect"},
		{"weak", map[string]any{"currentPassword": "pw123456", "newPassword": "weakpass", "confirmNewPassword": "weakpass"},
			http.StatusBadRequest, ""},
		{"success", map[string]any{"currentPassword": "pw123456", "newPassword": "N3w-Passw0rd!", "confirmNewPassword": "N3w-Passw0rd!"},
			http.StatusOK, "Password updated successfully"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPatch, "/user/change-password", tt.body, login.AccessToken)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			msg := decodeJSON[message](t, rec).Message
			if tt.message != "" {
				assert.Equal(t, tt.message, msg)
			} else {
				assert.Contains(t, msg, "password")
			}
		})
	}

	rec := h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "N3w-Passw0rd!"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin(t, "a@x.com")

	known := h.do(http.MethodPost, "/user/reset-password", map[string]any{"email": "a@x.com"}, "")
	unknown := h.do(http.MethodPost, "/user/reset-password", map[string]any{"email": "nobody@x.com"}, "")
	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, http.StatusAccepted, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, "If an account with that email exists, a password reset link has been sent",
		decodeJSON[message](t, known).Message)

	token := h.notifier.Token()
	require.Len(t, token, 64)

	confirm := func(tok, pw, confirm string) (int, string) {
		rec := h.do(http.MethodPost, "/user/reset-password/confirm",
			map[string]any{"token": tok, "newPassword": pw, "confirmNewPassword": confirm}, "")
		return rec.Code, decodeJSON[message](t, rec).Message
	}

	code, msg := confirm("deadbeef", "R3set-Passw0rd!", "R3set-Passw0rd!")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid or expired reset token", msg)

	code, msg = confirm(token, "R3set-Passw0rd!", "different")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Passwords do not match", msg)

	code, msg = confirm(token, "R3set-Passw0rd!", "R3set-Passw0rd!")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Password has been reset successfully", msg)

	code, _ = confirm(token, "Again-Passw0rd!", "Again-Passw0rd!")
	assert.Equal(t, http.StatusBadRequest, code, "reset tokens are single use")

	stored, err := h.users.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetTokenHash)

	rec := h.do(http.MethodPost, "/user/login", map[string]any{"email": "a@x.com", "password": "R3set-Passw0rd!"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_InvalidatesTokens(t *testing.T) {
	h := newHarness(t)
	login := h.registerAndLogin(t, "a@x.com")

	rec := h.do(http.MethodPost, "/user/logout", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out", decodeJSON[message](t, rec).Message)

	rec = h.do(http.MethodGet, "/user/profile", nil, login.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/user/refresh-token", map[string]any{"refreshToken": login.RefreshToken}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
