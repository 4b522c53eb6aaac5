// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/pkg/errutil"
)

// Client-facing messages.
const (
	msgInvalidCredentials   = "Invalid email or password"
	msgInvalidRefreshToken  = "Invalid refresh token"
	msgIncorrectPassword    = "Current password is incorrect"
	msgPasswordMismatch     = "New passwords do not match"
	msgInvalidResetToken    = "Invalid or expired reset token"
	msgResetMismatch        = "Passwords do not match"
	msgPasswordUpdated      = "Password updated successfully"
	msgPasswordReset        = "Password has been reset successfully"
	msgResetRequested       = "If an account with that email exists, a password reset link has been sent"
	msgUnauthorized         = "Unauthorized"
	msgForbidden            = "Forbidden"
	msgLoggedOut            = "Logged out"
	msgNotFound             = "User not found"
	msgEmailTaken           = "Email already registered"
	msgInvalidBody          = "Invalid request body"
	msgPasswordNotUpdatable = "Use /user/change-password to change the password"
	msgInternal             = "internal server error"
)

// messageBody is the JSON shape of every message-only response.
type messageBody struct {
	Message string `json:"message"`
}

// sentinelStatus maps sentinel errors to a status and a fixed message. The
// order matters only for errors that wrap more than one sentinel.
var sentinelStatus = []struct {
	err     error
	status  int
	message string
}{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, msgInvalidCredentials},
	{auth.ErrUnauthorized, http.StatusUnauthorized, msgUnauthorized},
	{auth.ErrInvalidRefreshToken, http.StatusForbidden, msgInvalidRefreshToken},
	{account.ErrForbidden, http.StatusForbidden, msgForbidden},
	{auth.ErrIncorrectPassword, http.StatusBadRequest, msgIncorrectPassword},
	{auth.ErrPasswordMismatch, http.StatusBadRequest, msgPasswordMismatch},
	{auth.ErrResetPasswordMismatch, http.StatusBadRequest, msgResetMismatch},
	{auth.ErrInvalidResetToken, http.StatusBadRequest, msgInvalidResetToken},
	{auth.ErrEmailTaken, http.StatusConflict, msgEmailTaken},
	{auth.ErrNotFound, http.StatusNotFound, msgNotFound},
}

// badRequestCodes carry a client-safe message of their own.
var badRequestCodes = []string{
	"ACCOUNT_INVALID",
	"AUTH_WEAK_PASSWORD",
	"AUTH_EMPTY_PASSWORD",
	"USER_INVALID",
}

// classify returns the status and client message for err. Anything it does
// not recognise is a 500 with a generic message.
func classify(err error) (int, string) {
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status, s.message
		}
	}

	if oopsErr, ok := oops.AsOops(err); ok {
		code := errutil.Code(err)
		for _, prefix := range badRequestCodes {
			if strings.HasPrefix(code, prefix) {
				if public := oopsErr.Public(); public != "" {
					return http.StatusBadRequest, public
				}
				return http.StatusBadRequest, err.Error()
			}
		}
	}
	return http.StatusInternalServerError, msgInternal
}

// writeError aborts the request with the mapped status. Server errors are
// logged with their oops context; client errors are not.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(c.Request.Context(),
			logger.With("request_id", RequestIDFrom(c), "route", c.FullPath()),
			"request failed", err)
	}
	_ = c.Error(err) //nolint:errcheck // attaches err for the access log
	c.AbortWithStatusJSON(status, messageBody{Message: message})
}

// writeBindError answers a request whose body failed to bind or validate.
// Validation failures name the offending fields; decode errors do not echo
// the body.
func writeBindError(c *gin.Context, err error) {
	message := msgInvalidBody
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		if oopsErr, ok := oops.AsOops(account.ValidationError(verrs)); ok {
			message = oopsErr.Public()
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, messageBody{Message: message})
}
