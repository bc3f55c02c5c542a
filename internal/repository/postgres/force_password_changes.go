package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/jayceeit/password-expire/internal/core/port"
)

const forcePasswordChangeTable = "accounts.force_password_change"

// ForcePasswordChangeRepository implements port.ForcePasswordChangeRepository using PostgreSQL.
type ForcePasswordChangeRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewForcePasswordChangeRepository wires a PostgreSQL-backed marker store.
func NewForcePasswordChangeRepository(exec pgExecutor) *ForcePasswordChangeRepository {
	return &ForcePasswordChangeRepository{exec: exec, builder: newBuilder()}
}

// Exists reports whether a marker is present for the user.
func (r *ForcePasswordChangeRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	stmt, args, err := r.builder.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(forcePasswordChangeTable).
		Where(squirrel.Eq{"user_id": userID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select force password change sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("scan force password change: %w", err)
	}
	return exists, nil
}

// Create sets the marker. Setting it twice leaves a single row.
func (r *ForcePasswordChangeRepository) Create(ctx context.Context, userID int64) error {
	stmt, args, err := r.builder.Insert(forcePasswordChangeTable).
		Columns("user_id").
		Values(userID).
		Suffix("ON CONFLICT (user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert force password change sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert force password change: %w", err)
	}
	return nil
}

// Delete clears the marker; a missing marker is not an error.
func (r *ForcePasswordChangeRepository) Delete(ctx context.Context, userID int64) error {
	stmt, args, err := r.builder.Delete(forcePasswordChangeTable).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete force password change sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete force password change: %w", err)
	}
	return nil
}

var _ port.ForcePasswordChangeRepository = (*ForcePasswordChangeRepository)(nil)
