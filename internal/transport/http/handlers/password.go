package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/usecase"
)

const (
	messagePasswordChanged = "Your password has been changed."
	messageResetAccepted   = "If the account exists, instructions have been sent"
)

// PasswordHandler exposes endpoints for password management.
type PasswordHandler struct {
	users      *usecase.UserService
	expiry     *usecase.ExpiryService
	reset      *usecase.PasswordResetService
	dispatcher NotificationDispatcher
	isDev      bool
}

func NewPasswordHandler(users *usecase.UserService, expiry *usecase.ExpiryService, reset *usecase.PasswordResetService, dispatcher NotificationDispatcher, isDev bool) *PasswordHandler {
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	return &PasswordHandler{
		users:      users,
		expiry:     expiry,
		reset:      reset,
		dispatcher: dispatcher,
		isDev:      isDev,
	}
}

// Status reports the expiration state of the logged in user.
func (h *PasswordHandler) Status(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || !state.Authenticated() {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	status, err := h.expiry.Evaluate(c.Request.Context(), state.Database, *state.User)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to evaluate password")
		return
	}

	response := PasswordStatusResponse{
		LastChanged: status.LastChanged,
		ExpiresAt:   status.Expiration,
		WarningAt:   status.WarningThreshold,
		Expired:     status.Expired,
		Warning:     status.Warning,
		ExpiresIn:   status.ExpiresIn,
		ForceChange: status.ForceChange,
		AdminForced: status.AdminForced,
		Excluded:    status.Excluded,
		MustChange:  status.MustChange(),
	}
	if response.MustChange {
		response.ChangeRedirectTo, _ = h.expiry.RedirectTarget(state.User)
	}
	c.JSON(http.StatusOK, response)
}

// ChangePassword works without a session so users refused at login can use it.
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.users == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password handler not fully configured"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid change password payload"))
		return
	}

	username := strings.TrimSpace(req.Username)
	if state.Authenticated() {
		if username != "" && username != state.User.Username {
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "cannot change another user's password"))
			return
		}
		username = state.User.Username
	}
	if username == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "username is required"))
		return
	}

	_, err := h.users.ChangePassword(c.Request.Context(), state.Database, username, req.CurrentPassword, req.NewPassword)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrCurrentPasswordInvalid, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusBadRequest, Message: "new password is invalid"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is not active"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	state.Messages().Add(domain.MessageSuccess, messagePasswordChanged)
	c.JSON(http.StatusOK, PasswordChangeResponse{
		Message:   messagePasswordChanged,
		ChangedAt: time.Now().UTC(),
	})
}

// ResetPassword always answers 202 so callers cannot tell which accounts exist.
func (h *PasswordHandler) ResetPassword(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.reset == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "password reset handler not configured"))
		return
	}

	var req PasswordResetRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset request"))
		return
	}

	result, err := h.reset.Request(c.Request.Context(), state.Database, req.Username)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to initiate password reset")
		return
	}

	response := PasswordResetResponse{Message: messageResetAccepted, RequestID: uuid.NewString()}
	if result != nil {
		expires := result.ExpiresAt
		response.ExpiresAt = &expires

		notification := PasswordResetNotification{
			UserID:   result.UserUUID,
			Username: strings.TrimSpace(req.Username),
			Expires:  result.ExpiresAt,
		}
		// Raw tokens leave the service only in development.
		if h.isDev {
			token := result.Token
			response.DevToken = &token
			notification.DevToken = token
		}
		if err := h.dispatcher.SendPasswordReset(c.Request.Context(), notification); err != nil {
			_ = c.Error(err)
		}
	}

	c.JSON(http.StatusAccepted, response)
}

func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.reset == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "password reset handler not configured"))
		return
	}

	var req PasswordResetConfirmRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid confirm reset request"))
		return
	}

	if _, err := h.reset.Confirm(c.Request.Context(), state.Database, req.Token, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrResetTokenInvalid, Status: http.StatusBadRequest, Message: "password reset credential invalid"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusBadRequest, Message: "new password invalid"},
		}, http.StatusInternalServerError, "failed to reset password")
		return
	}

	state.Messages().Add(domain.MessageSuccess, messagePasswordChanged)
	c.JSON(http.StatusOK, MessageResponse{Message: messagePasswordChanged})
}
