package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/repository"
)

const passwordChangeTable = "accounts.password_change"

// PasswordChangeRepository implements port.PasswordChangeRepository using PostgreSQL.
type PasswordChangeRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPasswordChangeRepository wires a PostgreSQL-backed last-changed store.
func NewPasswordChangeRepository(exec pgExecutor) *PasswordChangeRepository {
	return &PasswordChangeRepository{exec: exec, builder: newBuilder()}
}

// Get returns the record for the user or repository.ErrNotFound.
func (r *PasswordChangeRepository) Get(ctx context.Context, userID int64) (*domain.PasswordChange, error) {
	stmt, args, err := r.builder.
		Select("user_id", "last_changed").
		From(passwordChangeTable).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password change sql: %w", err)
	}

	var record domain.PasswordChange
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&record.UserID, &record.LastChanged); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan password change: %w", err)
	}

	return &record, nil
}

// Create inserts the initial record for a new user.
func (r *PasswordChangeRepository) Create(ctx context.Context, record domain.PasswordChange) error {
	stmt, args, err := r.builder.Insert(passwordChangeTable).
		Columns("user_id", "last_changed").
		Values(record.UserID, record.LastChanged).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password change sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert password change: %w", err)
	}
	return nil
}

// Upsert creates the record or moves last_changed forward to the supplied time.
func (r *PasswordChangeRepository) Upsert(ctx context.Context, record domain.PasswordChange) error {
	stmt, args, err := r.builder.Insert(passwordChangeTable).
		Columns("user_id", "last_changed").
		Values(record.UserID, record.LastChanged).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET last_changed = EXCLUDED.last_changed").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert password change sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert password change: %w", err)
	}
	return nil
}

var _ port.PasswordChangeRepository = (*PasswordChangeRepository)(nil)
