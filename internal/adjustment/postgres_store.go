package adjustment

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed adjustment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const adjustmentColumns = `
	id, tenant_id, transaction_id, settlement_id, exception_id,
	adjustment_type, amount_value, currency, reason,
	approval_status, approval_required, created_by_user_id, approved_by_user_id,
	rejection_reason, created_at, updated_at, decided_at`

func (p *PostgresStore) Create(ctx context.Context, a *Adjustment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO adjustments (`+adjustmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, a.ID, a.TenantID, a.TransactionID, nullable(a.SettlementID), nullable(a.ExceptionID),
		a.Type, a.AmountValue, nullable(a.Currency), a.Reason,
		a.ApprovalStatus, a.ApprovalRequired, a.CreatedByUserID, nullable(a.ApprovedByUserID),
		nullable(a.RejectionReason), a.CreatedAt, a.UpdatedAt, nullTime(a.DecidedAt))
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Adjustment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM adjustments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanAdjustment(row)
}

func (p *PostgresStore) Update(ctx context.Context, a *Adjustment) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE adjustments
		SET approval_status = $3, approved_by_user_id = $4, rejection_reason = $5,
		    updated_at = $6, decided_at = $7
		WHERE tenant_id = $1 AND id = $2
	`, a.TenantID, a.ID, a.ApprovalStatus, nullable(a.ApprovedByUserID),
		nullable(a.RejectionReason), a.UpdatedAt, nullTime(a.DecidedAt))
	if err != nil {
		return fmt.Errorf("update adjustment: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAdjustmentNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, f ListFilter) ([]*Adjustment, error) {
	query := `
		SELECT ` + adjustmentColumns + `
		FROM adjustments
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND approval_status = $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(` AND adjustment_type = $%d`, len(args))
	}
	if f.TransactionID != "" {
		args = append(args, f.TransactionID)
		query += fmt.Sprintf(` AND transaction_id = $%d`, len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type adjustmentScanner interface {
	Scan(dest ...any) error
}

func scanAdjustment(row adjustmentScanner) (*Adjustment, error) {
	a := &Adjustment{}
	var settlementID, exceptionID, currency, approvedBy, rejectionReason sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.TenantID, &a.TransactionID, &settlementID, &exceptionID,
		&a.Type, &a.AmountValue, &currency, &a.Reason,
		&a.ApprovalStatus, &a.ApprovalRequired, &a.CreatedByUserID, &approvedBy,
		&rejectionReason, &a.CreatedAt, &a.UpdatedAt, &decidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAdjustmentNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SettlementID = settlementID.String
	a.ExceptionID = exceptionID.String
	a.Currency = currency.String
	a.ApprovedByUserID = approvedBy.String
	a.RejectionReason = rejectionReason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	return a, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
