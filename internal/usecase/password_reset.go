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
	"github.com/jayceeit/password-expire/internal/infra/security"
	"github.com/jayceeit/password-expire/internal/repository"
)

const (
	defaultResetTTL  = 30 * time.Minute
	resetTokenLength = 32
)

// ErrResetTokenInvalid indicates the reset token is unknown, expired or already used.
var ErrResetTokenInvalid = errors.New("password reset token invalid")

// ResetRequestResult carries the raw token for delivery to the user.
type ResetRequestResult struct {
	UserUUID  string
	Token     string
	ExpiresAt time.Time
}

// PasswordResetService issues single-use tokens for users who cannot change
// their password directly.
type PasswordResetService struct {
	users  *UserService
	tokens port.ResetTokenStore
	events port.EventPublisher
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewPasswordResetService(users *UserService, tokens port.ResetTokenStore, ttl time.Duration, logger *zap.Logger) *PasswordResetService {
	if ttl <= 0 {
		ttl = defaultResetTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetService{
		users:  users,
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *PasswordResetService) WithEventPublisher(events port.EventPublisher) {
	s.events = events
}

// WithClock overrides the internal clock for deterministic tests.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Request issues a token for username. Unknown or inactive users get a nil
// result and no error so callers cannot tell which accounts exist.
func (s *PasswordResetService) Request(ctx context.Context, alias, username string) (*ResetRequestResult, error) {
	user, err := s.users.getByUsername(ctx, alias, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	raw, err := security.GenerateSecureToken(resetTokenLength)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, security.HashToken(raw), user.UUID, s.ttl); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	now := s.now()
	result := &ResetRequestResult{UserUUID: user.UUID, Token: raw, ExpiresAt: now.Add(s.ttl)}

	if s.events != nil {
		err := s.events.PublishPasswordResetRequested(ctx, domain.PasswordResetRequestedEvent{
			EventID:     uuid.NewString(),
			UserUUID:    user.UUID,
			Username:    user.Username,
			Email:       user.Email,
			Database:    alias,
			RequestedAt: now,
			ExpiresAt:   result.ExpiresAt,
		})
		if err != nil {
			s.logger.Warn("publish reset requested event", zap.String("user_id", user.UUID), zap.Error(err))
		}
	}
	return result, nil
}

// Confirm sets a new password using a reset token. The token is only used up
// once the new password passed validation.
func (s *PasswordResetService) Confirm(ctx context.Context, alias, token, newPassword string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrResetTokenInvalid
	}
	hash := security.HashToken(token)

	userUUID, err := s.tokens.Lookup(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}

	user, err := s.users.GetByUUID(ctx, alias, userUUID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}
	if err := s.users.SetPassword(user, newPassword); err != nil {
		return nil, err
	}

	if _, err := s.tokens.Consume(ctx, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	if err := s.users.Save(ctx, alias, user); err != nil {
		return nil, err
	}

	s.users.publishPasswordChanged(ctx, alias, user, PasswordChangeMethodReset)
	return user, nil
}
