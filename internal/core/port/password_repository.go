package port

import (
	"context"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// PasswordChangeRepository stores the last-changed timestamp per user.
type PasswordChangeRepository interface {
	Get(ctx context.Context, userID int64) (*domain.PasswordChange, error)
	Create(ctx context.Context, record domain.PasswordChange) error
	Upsert(ctx context.Context, record domain.PasswordChange) error
}

// ForcePasswordChangeRepository stores force-change markers. Create is idempotent.
type ForcePasswordChangeRepository interface {
	Exists(ctx context.Context, userID int64) (bool, error)
	Create(ctx context.Context, userID int64) error
	Delete(ctx context.Context, userID int64) error
}

// Stores bundles the repositories bound to a single database.
type Stores struct {
	Users           UserRepository
	PasswordChanges PasswordChangeRepository
	ForceChanges    ForcePasswordChangeRepository
}

// StoreResolver returns the repositories for a database alias.
type StoreResolver interface {
	Stores(alias string) (Stores, error)
}
