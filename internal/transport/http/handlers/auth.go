package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/usecase"
)

// AuthHandler starts and ends cookie sessions.
type AuthHandler struct {
	auth *usecase.AuthService
}

func NewAuthHandler(auth *usecase.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes mounts login and logout. Extra middlewares guard login only.
func (h *AuthHandler) RegisterRoutes(group *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	login := append(append([]gin.HandlerFunc{}, loginMiddlewares...), h.Login)
	group.POST("/login", login...)
	group.GET("/logout", h.Logout)
	group.POST("/logout", h.Logout)
}

// Login verifies credentials and starts a session. When the password must
// change the session is ended again and the expiration middleware turns the
// response into a redirect.
func (h *AuthHandler) Login(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.auth == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "auth handler not configured"))
		return
	}

	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	user, err := h.auth.Login(c.Request.Context(), state, req.Username, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid username or password"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is not active"},
		}, http.StatusInternalServerError, "login failed")
		return
	}

	middleware.SyncSessionCookie(c)
	if !state.Authenticated() {
		c.JSON(http.StatusForbidden, NewErrorResponse(c, usecase.MessagePasswordExpired))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{User: newUserSummary(user), Database: state.Database})
}

// Logout is idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	state := middleware.RequestState(c)
	if state == nil || h.auth == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "auth handler not configured"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), state); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "logout failed")
		return
	}
	middleware.SyncSessionCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}
