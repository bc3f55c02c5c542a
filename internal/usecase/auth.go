package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/logger"
	"github.com/jayceeit/password-expire/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided username or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is disabled.
	ErrInactiveAccount = errors.New("account is not active")
)

// AuthService authenticates users and starts sessions.
type AuthService struct {
	stores   port.StoreResolver
	sessions *SessionService
	registry *Registry
	hasher   PasswordHasher
	logger   *zap.Logger
}

func NewAuthService(stores port.StoreResolver, sessions *SessionService, registry *Registry, hasher PasswordHasher, logger *zap.Logger) *AuthService {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{stores: stores, sessions: sessions, registry: registry, hasher: hasher, logger: logger}
}

// Login verifies credentials against the request database, starts a session and
// emits the login event. Handlers may end the session again; callers inspect
// state afterwards.
func (s *AuthService) Login(ctx context.Context, state *RequestState, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	stores, err := s.stores.Stores(state.Database)
	if err != nil {
		return nil, err
	}

	user, err := stores.Users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}
	s.upgradeHash(ctx, stores.Users, user, password)

	if err := s.sessions.Login(ctx, state, user); err != nil {
		return nil, err
	}
	if err := s.registry.EmitLoginSucceeded(ctx, LoginEvent{User: user, Database: state.Database, State: state}); err != nil {
		if logoutErr := s.sessions.Logout(ctx, state); logoutErr != nil {
			logger.WithContext(ctx).Warn("drop session after failed login handlers",
				zap.String("user_id", user.UUID), zap.Error(logoutErr))
		}
		return nil, fmt.Errorf("login handlers: %w", err)
	}

	logger.WithContext(ctx).Debug("login processed",
		zap.String("user_id", user.UUID),
		zap.String("database", state.Database),
		zap.Bool("session_kept", state.Authenticated()),
	)
	return user, nil
}

// rehasher is implemented by hashers whose cost parameters can be raised.
type rehasher interface {
	NeedsRehash(encoded string) bool
}

// upgradeHash stores password again under the hasher's current parameters.
// It does not touch the password history, so the expiration clock keeps
// running. Failures only cost the upgrade.
func (s *AuthService) upgradeHash(ctx context.Context, users port.UserRepository, user *domain.User, password string) {
	r, ok := s.hasher.(rehasher)
	if !ok || !r.NeedsRehash(user.PasswordHash) {
		return
	}

	encoded, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash password failed", zap.String("user_id", user.UUID), zap.Error(err))
		return
	}
	updated := *user
	updated.PasswordHash = encoded
	if err := users.Update(ctx, updated); err != nil {
		s.logger.Warn("store rehashed password failed", zap.String("user_id", user.UUID), zap.Error(err))
		return
	}
	user.PasswordHash = encoded
}

func (s *AuthService) Logout(ctx context.Context, state *RequestState) error {
	return s.sessions.Logout(ctx, state)
}
