package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/infra/logger"
	"github.com/jayceeit/password-expire/internal/infra/telemetry"
	"github.com/jayceeit/password-expire/internal/repository"
)

const (
	DispatchCreateUser     = "password_expire:create_user_handler"
	DispatchForceNewUsers  = "password_expire:force_password_change_for_new_users"
	DispatchChangePassword = "password_expire:change_password_handler"
	DispatchLogin          = "password_expire:login_handler"
)

const (
	ReasonExpired     = "expired"
	ReasonForced      = "force_change"
	ReasonAdminForced = "admin_forced"
)

const (
	MessagePasswordExpired = "Your password has expired and must be changed."
	MessageChangeExpired   = "Please change your password. It has expired."
	messageChangeExpiring  = "Please change your password. It expires in %s."
	defaultContact         = "your administrator"
)

// ExpiryStatus is the policy view of one user at one moment.
type ExpiryStatus struct {
	LastChanged      time.Time
	Expiration       time.Time
	WarningThreshold time.Time
	Excluded         bool
	Expired          bool
	Warning          bool
	ExpiresIn        string
	ForceChange      bool
	AdminForced      bool
}

// MustChange reports whether the user may not keep using the current password.
func (s ExpiryStatus) MustChange() bool {
	return s.Expired || s.ForceChange || s.AdminForced
}

func (s ExpiryStatus) Reasons() []string {
	var reasons []string
	if s.Expired {
		reasons = append(reasons, ReasonExpired)
	}
	if s.ForceChange {
		reasons = append(reasons, ReasonForced)
	}
	if s.AdminForced {
		reasons = append(reasons, ReasonAdminForced)
	}
	return reasons
}

// ExpiryService keeps password history and force-change markers current and
// enforces the policy at login.
type ExpiryService struct {
	settings   config.PasswordExpireSettings
	policy     ExpiryPolicy
	stores     port.StoreResolver
	replicator *Replicator
	sessions   SessionTerminator
	events     port.EventPublisher
	metrics    *telemetry.PolicyMetrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewExpiryService(settings config.PasswordExpireSettings, stores port.StoreResolver, replicator *Replicator, sessions SessionTerminator, logger *zap.Logger) *ExpiryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryService{
		settings:   settings,
		policy:     PolicyFromConfig(settings),
		stores:     stores,
		replicator: replicator,
		sessions:   sessions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExpiryService) WithEventPublisher(events port.EventPublisher) {
	s.events = events
}

func (s *ExpiryService) WithMetrics(metrics *telemetry.PolicyMetrics) {
	s.metrics = metrics
}

// WithClock overrides the internal clock for deterministic tests.
func (s *ExpiryService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register connects the handlers. The new-user marker is only connected when
// force is enabled.
func (s *ExpiryService) Register(r *Registry) {
	if s.settings.Force {
		r.ConnectUserCreated(DispatchForceNewUsers, s.ForceNewUser)
	}
	r.ConnectUserCreated(DispatchCreateUser, s.CreateUser)
	r.ConnectPreSave(DispatchChangePassword, s.ChangePassword)
	r.ConnectLoginSucceeded(DispatchLogin, s.Login)
}

// CreateUser starts the password history of a new user.
func (s *ExpiryService) CreateUser(ctx context.Context, event UserEvent) error {
	stores, err := s.stores.Stores(event.Database)
	if err != nil {
		return err
	}

	now := s.now()
	err = stores.PasswordChanges.Create(ctx, domain.PasswordChange{UserID: event.User.ID, LastChanged: now})
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("create password change: %w", err)
	}

	return s.fanOut(ctx, DispatchCreateUser, event, func(ctx context.Context, _ string, sibling port.Stores, user *domain.User) error {
		return sibling.PasswordChanges.Upsert(ctx, domain.PasswordChange{UserID: user.ID, LastChanged: now})
	})
}

// ForceNewUser requires a new user to pick a password on first login.
func (s *ExpiryService) ForceNewUser(ctx context.Context, event UserEvent) error {
	if !s.settings.Force {
		return nil
	}
	return s.ForceChange(ctx, event.Database, *event.User)
}

// ForceChange places a force-change marker for user locally and on siblings.
func (s *ExpiryService) ForceChange(ctx context.Context, alias string, user domain.User) error {
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return err
	}
	if err := stores.ForceChanges.Create(ctx, user.ID); err != nil {
		return fmt.Errorf("create force password change: %w", err)
	}

	return s.fanOut(ctx, DispatchForceNewUsers, UserEvent{User: &user, Database: alias}, func(ctx context.Context, _ string, sibling port.Stores, u *domain.User) error {
		return sibling.ForceChanges.Create(ctx, u.ID)
	})
}

// ChangePassword runs before a user is saved. When a new password was set it
// clears the force-change marker and records the change time.
func (s *ExpiryService) ChangePassword(ctx context.Context, event UserEvent) error {
	if event.User == nil || !event.User.PasswordPending() {
		return nil
	}

	stores, err := s.stores.Stores(event.Database)
	if err != nil {
		return err
	}

	now := s.now()
	local, err := stores.Users.GetByUUID(ctx, event.User.UUID)
	switch {
	case err == nil:
		if err := recordPasswordChange(ctx, stores, local.ID, now); err != nil {
			return err
		}
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("lookup user: %w", err)
	}

	return s.fanOut(ctx, DispatchChangePassword, event, func(ctx context.Context, _ string, sibling port.Stores, user *domain.User) error {
		return recordPasswordChange(ctx, sibling, user.ID, now)
	})
}

func recordPasswordChange(ctx context.Context, stores port.Stores, userID int64, at time.Time) error {
	if err := stores.ForceChanges.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete force password change: %w", err)
	}
	if err := stores.PasswordChanges.Upsert(ctx, domain.PasswordChange{UserID: userID, LastChanged: at}); err != nil {
		return fmt.Errorf("upsert password change: %w", err)
	}
	return nil
}

// Evaluate computes the policy status of user in the alias database.
func (s *ExpiryService) Evaluate(ctx context.Context, alias string, user domain.User) (*ExpiryStatus, error) {
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return nil, err
	}

	now := s.now()
	checker, err := NewPasswordChecker(ctx, s.policy, stores.PasswordChanges, user, now)
	if err != nil {
		return nil, err
	}
	forced, err := stores.ForceChanges.Exists(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("check force password change: %w", err)
	}

	status := &ExpiryStatus{
		LastChanged:      checker.LastChanged(),
		Expiration:       checker.Expiration(),
		WarningThreshold: checker.WarningThreshold(),
		Excluded:         checker.Excluded(),
		Expired:          checker.IsExpired(),
		Warning:          checker.IsWarning(),
		ForceChange:      forced,
		AdminForced:      ChangeForcedByAdmin(user, now),
	}
	status.ExpiresIn, _ = checker.ExpireTime()
	return status, nil
}

// Login refuses a session whose password must change: it queues the error
// messages, flags the request for the redirect and logs the user out.
func (s *ExpiryService) Login(ctx context.Context, event LoginEvent) error {
	if event.User == nil || event.State == nil {
		return nil
	}

	status, err := s.Evaluate(ctx, event.Database, *event.User)
	if err != nil {
		return err
	}
	if !status.MustChange() {
		return nil
	}
	if !event.State.FlagPasswordChange(event.User) {
		return nil
	}

	messages := event.State.Messages()
	messages.Error(MessagePasswordExpired)
	messages.Error(s.contactMessage(), domain.TagSafe)

	if err := s.sessions.Logout(ctx, event.State); err != nil {
		return fmt.Errorf("logout expired user: %w", err)
	}

	reasons := status.Reasons()
	s.metrics.ForcedLogout(reasons...)
	logger.WithContext(ctx).Info("password change required, session terminated",
		zap.String("user_id", event.User.UUID),
		zap.String("username", logger.MaskUsername(event.User.Username)),
		zap.String("database", event.Database),
		zap.Strings("reasons", reasons),
	)

	if s.events != nil {
		err := s.events.PublishExpiredLogin(ctx, domain.ExpiredLoginEvent{
			EventID:     uuid.NewString(),
			UserUUID:    event.User.UUID,
			Username:    event.User.Username,
			Database:    event.Database,
			Reasons:     reasons,
			OccurredAt:  s.now(),
			LastChanged: status.LastChanged,
		})
		if err != nil {
			s.logger.Warn("publish expired login event", zap.Error(err))
		}
	}
	return nil
}

// Warn queues the expiration warning for the authenticated user of state. It
// returns false when nothing was queued, either because the password is fine or
// because a warning is already queued for this browser.
func (s *ExpiryService) Warn(ctx context.Context, state *RequestState) (bool, error) {
	if !state.Authenticated() {
		return false, nil
	}

	status, err := s.Evaluate(ctx, state.Database, *state.User)
	if err != nil {
		return false, err
	}

	var text, label string
	switch {
	case status.MustChange():
		text, label = MessageChangeExpired, "expired"
	case status.Warning:
		text, label = fmt.Sprintf(messageChangeExpiring, status.ExpiresIn), "expiring"
	default:
		return false, nil
	}

	messages := state.Messages()
	queued, err := messages.HasTag(ctx, domain.TagPasswordExpire)
	if err != nil {
		return false, err
	}
	if queued {
		return false, nil
	}

	messages.Warning(text, domain.TagPasswordExpire)
	s.metrics.Warning(label)
	return true, nil
}

// RedirectTarget picks the change page for users allowed to change the
// password directly and the reset page for everybody else.
func (s *ExpiryService) RedirectTarget(user *domain.User) (string, string) {
	if user != nil && (user.HasElevatedPrivileges() || user.HasPerm(domain.PermChangePassword)) {
		return s.settings.ChangeRedirectURL, "change"
	}
	return s.settings.ResetRedirectURL, "reset"
}

// Redirected ends the session again and records the redirect.
func (s *ExpiryService) Redirected(ctx context.Context, state *RequestState, target string) error {
	if err := s.sessions.Logout(ctx, state); err != nil {
		return fmt.Errorf("logout expired user: %w", err)
	}
	s.metrics.Redirect(target)

	fields := []zap.Field{zap.String("target", target), zap.String("database", state.Database)}
	if state.ExpiredUser != nil {
		fields = append(fields, zap.String("user_id", state.ExpiredUser.UUID))
	}
	logger.WithContext(ctx).Info("redirecting to password change", fields...)
	return nil
}

func (s *ExpiryService) contactMessage() string {
	contact := strings.TrimSpace(s.settings.Contact)
	if contact == "" {
		contact = defaultContact
	}
	link := fmt.Sprintf(`<a href="mailto:%s?subject=Password Expiration Help" class="alert-link">%s</a>`,
		html.EscapeString(s.settings.DefaultFromEmail), html.EscapeString(contact))
	return fmt.Sprintf("If you need assistance, please contact %s.", link)
}

func (s *ExpiryService) fanOut(ctx context.Context, handler string, event UserEvent, fn SiblingFunc) error {
	if s.replicator == nil || event.User == nil {
		return nil
	}
	return s.replicator.Each(ctx, handler, event.Database, event.User.UUID, fn)
}
