package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/repository"
)

// ExpiryPolicy holds the durations that drive PasswordChecker.
type ExpiryPolicy struct {
	AllowedDuration   time.Duration
	WarningDuration   time.Duration
	ExcludeSuperusers bool
}

func PolicyFromConfig(s config.PasswordExpireSettings) ExpiryPolicy {
	return ExpiryPolicy{
		AllowedDuration:   s.AllowedDuration(),
		WarningDuration:   s.WarningDuration(),
		ExcludeSuperusers: s.ExcludeSuperusers,
	}
}

// PasswordChecker computes expiry and warning state for one user at a fixed
// moment. A user without a history record is treated as having just changed
// the password.
type PasswordChecker struct {
	policy      ExpiryPolicy
	user        domain.User
	now         time.Time
	lastChanged time.Time
	expiration  time.Time
	warning     time.Time
}

func NewPasswordChecker(ctx context.Context, policy ExpiryPolicy, changes port.PasswordChangeRepository, user domain.User, now time.Time) (*PasswordChecker, error) {
	lastChanged := now
	record, err := changes.Get(ctx, user.ID)
	switch {
	case err == nil:
		lastChanged = record.LastChanged
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("load password change: %w", err)
	}

	expiration := lastChanged.Add(policy.AllowedDuration)
	return &PasswordChecker{
		policy:      policy,
		user:        user,
		now:         now,
		lastChanged: lastChanged,
		expiration:  expiration,
		warning:     expiration.Add(-policy.WarningDuration),
	}, nil
}

func (c *PasswordChecker) LastChanged() time.Time {
	return c.lastChanged
}

func (c *PasswordChecker) Expiration() time.Time {
	return c.expiration
}

func (c *PasswordChecker) WarningThreshold() time.Time {
	return c.warning
}

// Excluded reports whether the user is exempt from the policy.
func (c *PasswordChecker) Excluded() bool {
	return c.policy.ExcludeSuperusers && c.user.IsSuperuser
}

func (c *PasswordChecker) IsExpired() bool {
	if c.Excluded() {
		return false
	}
	return c.now.After(c.expiration)
}

// IsWarning is also true once the password has expired.
func (c *PasswordChecker) IsWarning() bool {
	if c.Excluded() {
		return false
	}
	return c.now.After(c.warning)
}

// ExpireTime returns the remaining lifetime in words, such as "3 days", when
// inside the warning window.
func (c *PasswordChecker) ExpireTime() (string, bool) {
	if !c.IsWarning() {
		return "", false
	}
	return strings.TrimSpace(humanize.CustomRelTime(c.now, c.expiration, "", "", remainingMagnitudes)), true
}

// remainingMagnitudes stops at days so a week reads "7 days".
var remainingMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Second, Format: "a moment", DivBy: time.Second},
	{D: 2 * time.Second, Format: "a second", DivBy: 1},
	{D: time.Minute, Format: "%d seconds", DivBy: time.Second},
	{D: 2 * time.Minute, Format: "a minute", DivBy: 1},
	{D: time.Hour, Format: "%d minutes", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "an hour", DivBy: 1},
	{D: humanize.Day, Format: "%d hours", DivBy: time.Hour},
	{D: 2 * humanize.Day, Format: "a day", DivBy: 1},
	{D: math.MaxInt64, Format: "%d days", DivBy: humanize.Day},
}

// ChangeForcedByAdmin reports whether an administrator-set expiration date has
// passed. A missing date means no forced change.
func ChangeForcedByAdmin(user domain.User, now time.Time) bool {
	if user.ForcedPasswordExpiration == nil {
		return false
	}
	return now.After(*user.ForcedPasswordExpiration)
}
