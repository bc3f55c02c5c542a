package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

const usersTable = "accounts.users"

var userColumns = []string{
	"id",
	"uuid",
	"username",
	"email",
	"password_hash",
	"is_active",
	"is_superuser",
	"is_staff",
	"permissions",
	"forced_password_expiration",
	"date_joined",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{exec: tx, builder: r.builder}
}

// Create inserts a new user row and assigns the generated primary key.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}

	stmt, args, err := r.builder.Insert(usersTable).
		Columns(
			"uuid",
			"username",
			"email",
			"password_hash",
			"is_active",
			"is_superuser",
			"is_staff",
			"permissions",
			"forced_password_expiration",
			"date_joined",
		).
		Values(
			user.UUID,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.IsActive,
			user.IsSuperuser,
			user.IsStaff,
			permissionsValue(user.Permissions),
			user.ForcedPasswordExpiration,
			user.DateJoined,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by its local primary key.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByUUID retrieves a user by the identifier shared across databases.
func (r *UserRepository) GetByUUID(ctx context.Context, uuid string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"uuid": uuid})
}

// GetByUsername retrieves a user by login name.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"username": username})
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var (
		user   domain.User
		forced *time.Time
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&user.ID,
		&user.UUID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsSuperuser,
		&user.IsStaff,
		&user.Permissions,
		&forced,
		&user.DateJoined,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.ForcedPasswordExpiration = forced
	return &user, nil
}

// Update writes the mutable user fields.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("username", user.Username).
		Set("email", user.Email).
		Set("password_hash", user.PasswordHash).
		Set("is_active", user.IsActive).
		Set("is_superuser", user.IsSuperuser).
		Set("is_staff", user.IsStaff).
		Set("permissions", permissionsValue(user.Permissions)).
		Set("forced_password_expiration", user.ForcedPasswordExpiration).
		Where(squirrel.Eq{"id": user.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func permissionsValue(perms []string) []string {
	if perms == nil {
		return []string{}
	}
	return perms
}

var _ port.UserRepository = (*UserRepository)(nil)
