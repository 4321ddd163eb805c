package idempotency

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresGuard implements Guard with PostgreSQL. The test-and-set is a
// single INSERT ... ON CONFLICT DO NOTHING so concurrent claimants can never
// both win.
type PostgresGuard struct {
	db *sql.DB
}

// NewPostgresGuard creates a new PostgreSQL-backed guard.
func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

func (p *PostgresGuard) Acquire(ctx context.Context, tenantID, key, operation string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (tenant_id, key, operation, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, key) DO NOTHING
	`, tenantID, key, operation)
	if err != nil {
		return false, fmt.Errorf("acquire idempotency key: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresGuard) Seen(ctx context.Context, tenantID, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM idempotency_keys WHERE tenant_id = $1 AND key = $2)
	`, tenantID, key).Scan(&exists)
	return exists, err
}

var _ Guard = (*PostgresGuard)(nil)
