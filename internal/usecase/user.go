package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/logger"
	"github.com/jayceeit/password-expire/internal/infra/security"
	"github.com/jayceeit/password-expire/internal/repository"
)

const (
	PasswordChangeMethodSelf  = "self_service"
	PasswordChangeMethodReset = "reset"
)

var (
	// ErrUserNotFound indicates the user does not exist in the requested database.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates the username or UUID is already used.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrCurrentPasswordInvalid indicates the supplied current password did not verify.
	ErrCurrentPasswordInvalid = errors.New("current password invalid")
	// ErrNewPasswordInvalid indicates the new password violates the password policy.
	ErrNewPasswordInvalid = errors.New("new password invalid")
)

// PasswordHasher hashes and verifies raw passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// PasswordPolicy validates a candidate password for an account.
type PasswordPolicy interface {
	Validate(password string, ctx domain.PasswordContext) error
}

// CreateUserInput describes a user created by an administrator.
type CreateUserInput struct {
	Username    string
	Email       string
	Password    string
	IsStaff     bool
	IsSuperuser bool
	Permissions []string
}

// UserService owns user persistence and emits the lifecycle events.
type UserService struct {
	stores   port.StoreResolver
	registry *Registry
	hasher   PasswordHasher
	policy   PasswordPolicy
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewUserService(stores port.StoreResolver, registry *Registry, hasher PasswordHasher, policy PasswordPolicy, logger *zap.Logger) *UserService {
	if registry == nil {
		registry = NewRegistry()
	}
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		stores:   stores,
		registry: registry,
		hasher:   hasher,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) WithEventPublisher(events port.EventPublisher) {
	s.events = events
}

// WithClock overrides the internal clock for deterministic tests.
func (s *UserService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateUser inserts an active user and emits the user created event.
func (s *UserService) CreateUser(ctx context.Context, alias string, input CreateUserInput) (*domain.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	stores, err := s.stores.Stores(alias)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		UUID:        uuid.NewString(),
		Username:    username,
		Email:       strings.TrimSpace(input.Email),
		IsActive:    true,
		IsStaff:     input.IsStaff,
		IsSuperuser: input.IsSuperuser,
		Permissions: input.Permissions,
		DateJoined:  s.now(),
	}
	if err := s.SetPassword(user, input.Password); err != nil {
		return nil, err
	}

	if err := stores.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.ClearPasswordPending()

	if err := s.registry.EmitUserCreated(ctx, UserEvent{User: user, Database: alias}); err != nil {
		return nil, fmt.Errorf("user created handlers: %w", err)
	}

	logger.WithContext(ctx).Info("user created",
		zap.String("user_id", user.UUID),
		zap.String("username", logger.MaskUsername(user.Username)),
		zap.String("database", alias),
	)
	return user, nil
}

// SetPassword validates raw and stores its hash on user. The change is
// persisted by Save.
func (s *UserService) SetPassword(user *domain.User, raw string) error {
	if err := s.policy.Validate(raw, domain.PasswordContext{Username: user.Username, Email: user.Email}); err != nil {
		return fmt.Errorf("%w: %v", ErrNewPasswordInvalid, err)
	}
	hash, err := s.hasher.Hash(raw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.SetPasswordHash(hash)
	return nil
}

// Save emits the pre-save event and writes user.
func (s *UserService) Save(ctx context.Context, alias string, user *domain.User) error {
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return err
	}

	if err := s.registry.EmitPreSave(ctx, UserEvent{User: user, Database: alias}); err != nil {
		return fmt.Errorf("pre-save handlers: %w", err)
	}
	if err := stores.Users.Update(ctx, *user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	user.ClearPasswordPending()
	return nil
}

// ChangePassword replaces a password after verifying the current one. It does
// not need a session, so users logged out for an expired password can use it.
func (s *UserService) ChangePassword(ctx context.Context, alias, username, current, next string) (*domain.User, error) {
	user, err := s.getByUsername(ctx, alias, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrCurrentPasswordInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrCurrentPasswordInvalid
	}
	if err := security.RequireDifferentFrom(current).Validate(next, domain.PasswordContext{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNewPasswordInvalid, err)
	}

	if err := s.SetPassword(user, next); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, alias, user); err != nil {
		return nil, err
	}

	s.publishPasswordChanged(ctx, alias, user, PasswordChangeMethodSelf)
	return user, nil
}

func (s *UserService) GetByUUID(ctx context.Context, alias, userUUID string) (*domain.User, error) {
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return nil, err
	}
	user, err := stores.Users.GetByUUID(ctx, strings.TrimSpace(userUUID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// ForceExpiration sets the administrator expiration date. A nil date clears it.
func (s *UserService) ForceExpiration(ctx context.Context, alias, userUUID string, at *time.Time) (*domain.User, error) {
	user, err := s.GetByUUID(ctx, alias, userUUID)
	if err != nil {
		return nil, err
	}
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	user.ForcedPasswordExpiration = at
	if err := s.Save(ctx, alias, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) getByUsername(ctx context.Context, alias, username string) (*domain.User, error) {
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return nil, err
	}
	user, err := stores.Users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *UserService) publishPasswordChanged(ctx context.Context, alias string, user *domain.User, method string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		UserUUID:  user.UUID,
		Username:  user.Username,
		Database:  alias,
		ChangedAt: s.now(),
		Method:    method,
	})
	if err != nil {
		s.logger.Warn("publish password changed event", zap.String("user_id", user.UUID), zap.Error(err))
	}
}
