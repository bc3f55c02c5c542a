package port

import (
	"context"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// UserRepository exposes persistence behavior for users within one database.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUUID(ctx context.Context, uuid string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Update(ctx context.Context, user domain.User) error
}
