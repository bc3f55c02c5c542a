package domain

import "time"

// PasswordChangedEvent represents the payload for pe.user.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	UserUUID  string
	Username  string
	Database  string
	ChangedAt time.Time
	Method    string
	Metadata  map[string]any
}

// ExpiredLoginEvent is emitted when a login is refused because the password must change.
type ExpiredLoginEvent struct {
	EventID     string
	UserUUID    string
	Username    string
	Database    string
	Reasons     []string
	OccurredAt  time.Time
	LastChanged time.Time
}

// PasswordResetRequestedEvent represents the payload for pe.user.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID     string
	UserUUID    string
	Username    string
	Email       string
	Database    string
	RequestedAt time.Time
	ExpiresAt   time.Time
}
