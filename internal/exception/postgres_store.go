package exception

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists exceptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed exception store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const exceptionColumns = `id, tenant_id, transaction_id, settlement_id, type, priority, status,
	reason, amount_value, amount_currency, event_type,
	assigned_to_user_id, resolution_notes, resolved_by_user_id, resolved_at,
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Exception) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO exceptions (`+exceptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.TenantID, e.TransactionID, e.SettlementID, string(e.Type), string(e.Priority),
		string(e.Status), e.Reason, e.AmountValue, e.AmountCurrency, e.EventType,
		e.AssignedToUserID, e.ResolutionNotes, e.ResolvedByUserID, nullTime(e.ResolvedAt),
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Exception, error) {
	e, err := scanException(p.db.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+` FROM exceptions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
	if err == sql.ErrNoRows {
		return nil, ErrExceptionNotFound
	}
	return e, err
}

func (p *PostgresStore) GetOpenByTransaction(ctx context.Context, tenantID, transactionID string) (*Exception, error) {
	e, err := scanException(p.db.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+` FROM exceptions
		WHERE tenant_id = $1 AND transaction_id = $2 AND status IN ('OPEN', 'UNDER_REVIEW')
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, transactionID))
	if err == sql.ErrNoRows {
		return nil, ErrExceptionNotFound
	}
	return e, err
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, f ListFilter) ([]*Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE tenant_id = $1`
	args := []any{tenantID}

	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Priority != "" {
		args = append(args, string(f.Priority))
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	// P1 < P2 < P3 < P4 lexically, so priority ASC is severity order.
	query += " ORDER BY priority ASC, created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, e *Exception) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exceptions
		SET type = $1, priority = $2, status = $3, reason = $4,
			amount_value = $5, amount_currency = $6,
			assigned_to_user_id = $7, resolution_notes = $8,
			resolved_by_user_id = $9, resolved_at = $10, updated_at = $11
		WHERE tenant_id = $12 AND id = $13`,
		string(e.Type), string(e.Priority), string(e.Status), e.Reason,
		e.AmountValue, e.AmountCurrency,
		e.AssignedToUserID, e.ResolutionNotes,
		e.ResolvedByUserID, nullTime(e.ResolvedAt), e.UpdatedAt,
		e.TenantID, e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

type exceptionScanner interface {
	Scan(dest ...any) error
}

func scanException(row exceptionScanner) (*Exception, error) {
	e := &Exception{}
	var (
		typ, priority, status string
		resolvedAt            sql.NullTime
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.TransactionID, &e.SettlementID, &typ, &priority,
		&status, &e.Reason, &e.AmountValue, &e.AmountCurrency, &e.EventType,
		&e.AssignedToUserID, &e.ResolutionNotes, &e.ResolvedByUserID, &resolvedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = Type(typ)
	e.Priority = Priority(priority)
	e.Status = Status(status)
	if resolvedAt.Valid {
		e.ResolvedAt = resolvedAt.Time
	}
	return e, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ Store = (*PostgresStore)(nil)
