// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/credkeep/internal/account"
	"github.com/holomush/credkeep/internal/auth"
)

type loginRequest struct {
	Email    string        `json:"email" binding:"required"`
	Password auth.Password `json:"password" binding:"required,min=6"`
}

// updateRequest carries the profile fields plus password only to reject it.
type updateRequest struct {
	account.UpdateInput
	Password *auth.Password `json:"password,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword    auth.Password `json:"currentPassword" binding:"required"`
	NewPassword        auth.Password `json:"newPassword" binding:"required"`
	ConfirmNewPassword auth.Password `json:"confirmNewPassword" binding:"required"`
}

type resetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetConfirmRequest struct {
	Token              string        `json:"token" binding:"required"`
	NewPassword        auth.Password `json:"newPassword" binding:"required"`
	ConfirmNewPassword auth.Password `json:"confirmNewPassword" binding:"required"`
}

func (a *API) register(c *gin.Context) {
	var in account.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	user, err := a.accounts.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (a *API) list(c *gin.Context) {
	users, err := a.accounts.List(c.Request.Context())
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (a *API) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := a.accounts.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) update(c *gin.Context) {
	id, ok := a.selfPathID(c)
	if !ok {
		return
	}
	var in updateRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	if in.Password != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, messageBody{Message: msgPasswordNotUpdatable})
		return
	}
	user, err := a.accounts.Update(c.Request.Context(), id, in.UpdateInput)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) remove(c *gin.Context) {
	id, ok := a.selfPathID(c)
	if !ok {
		return
	}
	if err := a.accounts.Delete(c.Request.Context(), id); err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) login(c *gin.Context) {
	var in loginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	result, err := a.auth.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) refresh(c *gin.Context) {
	var in refreshRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		// A missing token is the same outcome as an invalid one.
		writeError(c, a.logger, auth.ErrInvalidRefreshToken)
		return
	}
	pair, err := a.auth.Refresh(c.Request.Context(), in.RefreshToken)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (a *API) profile(c *gin.Context) {
	id := mustIdentity(c)
	user, err := a.accounts.Profile(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) preferences(c *gin.Context) {
	id := mustIdentity(c)
	var patch account.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeBindError(c, err)
		return
	}
	user, err := a.accounts.UpdatePreferences(c.Request.Context(), id.UserID, patch)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) changePassword(c *gin.Context) {
	id := mustIdentity(c)
	var in changePasswordRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	err := a.auth.ChangePassword(c.Request.Context(), id.UserID,
		in.CurrentPassword, in.NewPassword, in.ConfirmNewPassword)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, messageBody{Message: msgPasswordUpdated})
}

func (a *API) requestReset(c *gin.Context) {
	var in resetRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	if err := a.reset.RequestReset(c.Request.Context(), in.Email); err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, messageBody{Message: msgResetRequested})
}

func (a *API) confirmReset(c *gin.Context) {
	var in resetConfirmRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}
	err := a.reset.ConfirmReset(c.Request.Context(), in.Token, in.NewPassword, in.ConfirmNewPassword)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, messageBody{Message: msgPasswordReset})
}

func (a *API) logout(c *gin.Context) {
	id := mustIdentity(c)
	if err := a.auth.Logout(c.Request.Context(), id.UserID); err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, messageBody{Message: msgLoggedOut})
}

// pathID parses :id. An unparseable id cannot name a user, so it is a 404.
func pathID(c *gin.Context) (ulid.ULID, bool) {
	id, err := ulid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, messageBody{Message: msgNotFound})
		return ulid.ULID{}, false
	}
	return id, true
}

// selfPathID parses :id and requires it to be the caller.
func (a *API) selfPathID(c *gin.Context) (ulid.ULID, bool) {
	id, ok := pathID(c)
	if !ok {
		return id, false
	}
	if err := account.Authorize(mustIdentity(c).UserID, id); err != nil {
		writeError(c, a.logger, err)
		return id, false
	}
	return id, true
}

// mustIdentity is only called behind RequireAuth.
func mustIdentity(c *gin.Context) *auth.Identity {
	id, ok := IdentityFrom(c)
	if !ok {
		panic("httpapi: handler mounted without RequireAuth")
	}
	return id
}
