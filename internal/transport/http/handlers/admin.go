package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/usecase"
)

// AdminHandler lets superusers create accounts and force password changes.
type AdminHandler struct {
	users  *usecase.UserService
	expiry *usecase.ExpiryService
}

func NewAdminHandler(users *usecase.UserService, expiry *usecase.ExpiryService) *AdminHandler {
	return &AdminHandler{users: users, expiry: expiry}
}

// RegisterRoutes expects group to be guarded by middleware.RequireSuperuser.
func (h *AdminHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/users", h.CreateUser)
	group.POST("/users/:uuid/force-change", h.ForceChange)
	group.POST("/users/:uuid/force-expire", h.ForceExpire)
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	state := middleware.RequestState(c)

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid create user payload"))
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), state.Database, usecase.CreateUserInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		IsStaff:     req.IsStaff,
		IsSuperuser: req.IsSuperuser,
		Permissions: req.Permissions,
	})
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUsernameTaken, Status: http.StatusConflict, Message: "username already taken"},
			{Err: usecase.ErrNewPasswordInvalid, Status: http.StatusBadRequest, Message: "password is invalid"},
		}, http.StatusInternalServerError, "failed to create user")
		return
	}

	c.JSON(http.StatusCreated, newUserSummary(user))
}

// ForceChange places a force-change marker locally and on sibling databases.
func (h *AdminHandler) ForceChange(c *gin.Context) {
	state := middleware.RequestState(c)
	ctx := c.Request.Context()

	user, err := h.users.GetByUUID(ctx, state.Database, strings.TrimSpace(c.Param("uuid")))
	if err == nil {
		err = h.expiry.ForceChange(ctx, state.Database, *user)
	}
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to force password change")
		return
	}

	c.JSON(http.StatusOK, newUserSummary(user))
}

// ForceExpire sets forced_password_expiration. Without a date the password
// expires immediately.
func (h *AdminHandler) ForceExpire(c *gin.Context) {
	state := middleware.RequestState(c)

	var req ForceExpireRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid force expire payload"))
			return
		}
	}

	at := req.ExpiresAt
	switch {
	case req.Clear:
		at = nil
	case at == nil:
		now := time.Now().UTC()
		at = &now
	}

	user, err := h.users.ForceExpiration(c.Request.Context(), state.Database, strings.TrimSpace(c.Param("uuid")), at)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to set password expiration")
		return
	}

	c.JSON(http.StatusOK, newUserSummary(user))
}
