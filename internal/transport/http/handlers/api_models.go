package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID                       string     `json:"id"`
	Username                 string     `json:"username"`
	Email                    string     `json:"email,omitempty"`
	IsActive                 bool       `json:"is_active"`
	IsStaff                  bool       `json:"is_staff"`
	IsSuperuser              bool       `json:"is_superuser"`
	ForcedPasswordExpiration *time.Time `json:"forced_password_expiration,omitempty"`
}

func newUserSummary(user *domain.User) UserSummary {
	return UserSummary{
		ID:                       user.UUID,
		Username:                 user.Username,
		Email:                    user.Email,
		IsActive:                 user.IsActive,
		IsStaff:                  user.IsStaff,
		IsSuperuser:              user.IsSuperuser,
		ForcedPasswordExpiration: user.ForcedPasswordExpiration,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// LoginResponse is returned when the session was kept.
type LoginResponse struct {
	User     UserSummary `json:"user"`
	Database string      `json:"database"`
}

// FlashMessage is one queued notice.
type FlashMessage struct {
	Level string   `json:"level"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags,omitempty"`
}

// MessagesResponse lists the notices queued for the browser.
type MessagesResponse struct {
	Messages []FlashMessage `json:"messages"`
}

// PasswordStatusResponse is the expiration view of the current user.
type PasswordStatusResponse struct {
	LastChanged      time.Time `json:"last_changed"`
	ExpiresAt        time.Time `json:"expires_at"`
	WarningAt        time.Time `json:"warning_at"`
	Expired          bool      `json:"expired"`
	Warning          bool      `json:"warning"`
	ExpiresIn        string    `json:"expires_in,omitempty"`
	ForceChange      bool      `json:"force_change"`
	AdminForced      bool      `json:"admin_forced"`
	Excluded         bool      `json:"excluded"`
	MustChange       bool      `json:"must_change"`
	ChangeRedirectTo string    `json:"change_redirect_to,omitempty"`
}

// PasswordChangeRequest changes a password with the current one. Username may
// be omitted by an authenticated user.
type PasswordChangeRequest struct {
	Username        string `json:"username" form:"username"`
	CurrentPassword string `json:"current_password" form:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" form:"new_password" binding:"required"`
}

// PasswordChangeResponse describes a successful password change.
type PasswordChangeResponse struct {
	Message   string    `json:"message"`
	ChangedAt time.Time `json:"changed_at"`
}

// PasswordResetRequest starts the reset flow.
type PasswordResetRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
}

// PasswordResetResponse is returned whether or not the account exists.
type PasswordResetResponse struct {
	Message   string     `json:"message"`
	RequestID string     `json:"request_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DevToken  *string    `json:"dev_token,omitempty"`
}

// PasswordResetConfirmRequest completes a reset.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" form:"token" binding:"required"`
	NewPassword string `json:"new_password" form:"new_password" binding:"required"`
}

// CreateUserRequest is the admin payload for a new account.
type CreateUserRequest struct {
	Username    string   `json:"username" binding:"required"`
	Email       string   `json:"email"`
	Password    string   `json:"password" binding:"required"`
	IsStaff     bool     `json:"is_staff"`
	IsSuperuser bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
}

// ForceExpireRequest sets the administrator expiration date. A missing date
// means now; Clear removes the date.
type ForceExpireRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
	Clear     bool       `json:"clear"`
}

// HealthResponse describes the health endpoint payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the result of each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
