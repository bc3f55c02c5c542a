package domain

import "time"

// PermChangePassword lets a non-staff user change an expired password directly
// instead of going through the reset flow.
const PermChangePassword = "users.change_password"

// User mirrors the persisted representation in the users table. ID is local to
// one database; UUID identifies the same person across sibling databases.
type User struct {
	ID                       int64
	UUID                     string
	Username                 string
	Email                    string
	PasswordHash             string
	IsActive                 bool
	IsSuperuser              bool
	IsStaff                  bool
	Permissions              []string
	ForcedPasswordExpiration *time.Time
	DateJoined               time.Time

	passwordPending bool
}

// SetPasswordHash stores a new hash and marks the password as changed until the
// user is saved.
func (u *User) SetPasswordHash(hash string) {
	u.PasswordHash = hash
	u.passwordPending = true
}

// PasswordPending reports whether SetPasswordHash was called since the last save.
func (u *User) PasswordPending() bool {
	return u.passwordPending
}

// ClearPasswordPending is called once the user has been persisted.
func (u *User) ClearPasswordPending() {
	u.passwordPending = false
}

// HasElevatedPrivileges reports staff or superuser status.
func (u User) HasElevatedPrivileges() bool {
	return u.IsStaff || u.IsSuperuser
}

// HasPerm reports whether the user holds the named permission. Active
// superusers hold every permission.
func (u User) HasPerm(perm string) bool {
	if u.IsActive && u.IsSuperuser {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// PasswordContext carries user attributes fed to the password strength check.
type PasswordContext struct {
	Username string
	Email    string
}

// PasswordChange records when a user's password was last set. One row per user per database.
type PasswordChange struct {
	UserID      int64
	LastChanged time.Time
}

// ForcePasswordChange is a marker: its presence means the user must change password.
type ForcePasswordChange struct {
	UserID int64
}
