package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

const defaultSessionTTL = 12 * time.Hour

// SessionTerminator ends the authenticated session attached to a request.
type SessionTerminator interface {
	Logout(ctx context.Context, state *RequestState) error
}

// SessionService binds server side sessions to request state.
type SessionService struct {
	sessions port.SessionStore
	stores   port.StoreResolver
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(sessions port.SessionStore, stores port.StoreResolver, ttl time.Duration, logger *zap.Logger) *SessionService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions: sessions,
		stores:   stores,
		ttl:      ttl,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login starts a session for user and attaches it to state.
func (s *SessionService) Login(ctx context.Context, state *RequestState, user *domain.User) error {
	now := s.now()
	session := domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserUUID:  user.UUID,
		Database:  state.Database,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session, s.ttl); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	state.SessionID = session.ID
	state.User = user
	state.LoggedOut = false
	return nil
}

// Logout deletes the session and clears the user from state. Calling it on an
// anonymous or already logged out request only marks the state.
func (s *SessionService) Logout(ctx context.Context, state *RequestState) error {
	if state.SessionID != "" {
		if err := s.sessions.Delete(ctx, state.SessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	state.SessionID = ""
	state.User = nil
	state.LoggedOut = true
	return nil
}

// Resolve loads the session and its user into state. Unknown, expired or
// inactive sessions leave the request anonymous.
func (s *SessionService) Resolve(ctx context.Context, state *RequestState, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}
	if !session.IsActive(s.now()) {
		return nil
	}

	alias := session.Database
	if alias == "" {
		alias = state.Database
	}
	stores, err := s.stores.Stores(alias)
	if err != nil {
		return fmt.Errorf("resolve session database: %w", err)
	}

	user, err := stores.Users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("session user no longer exists", zap.String("database", alias), zap.Int64("user_id", session.UserID))
			return nil
		}
		return fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	state.Database = alias
	state.SessionID = session.ID
	state.User = user
	return nil
}

var _ SessionTerminator = (*SessionService)(nil)
