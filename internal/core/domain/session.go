package domain

import "time"

// Session is a server side login session. Database is the alias the user was
// loaded from so the session resolves against the same store.
type Session struct {
	ID        string
	UserID    int64
	UserUUID  string
	Database  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsActive reports whether the session is still valid at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	return s.ExpiresAt.After(at)
}
