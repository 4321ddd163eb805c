package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/settleline/recon/internal/pagination"
	"github.com/settleline/recon/internal/transaction"
)

// PostgresStore implements Store with PostgreSQL. A posting set and its
// status flip are written inside one database transaction.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `
	id, tenant_id, account_debit, account_credit, amount, currency,
	event_type, description, ref_transaction_id, ref_match_id, ref_adjustment_id, created_at`

func (p *PostgresStore) PostEntries(ctx context.Context, entries []*Entry, flip *StatusFlip) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(entries) > 0 {
		exists, err := referenceExists(ctx, tx, entries[0])
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyPosted
		}
		for _, e := range entries {
			if e.Amount <= 0 {
				return ErrInvalidAmount
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_entries (`+entryColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`, e.ID, e.TenantID, e.AccountDebit, e.AccountCredit, e.Amount, e.Currency,
				e.EventType, nullable(e.Description), nullable(e.RefTransactionID),
				nullable(e.RefMatchID), nullable(e.RefAdjustmentID), e.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
		}
	}

	if flip != nil {
		if err := applyFlip(ctx, tx, flip); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// referenceExists checks whether a posting set for the entry's reference id
// is already on file. Which column to check follows from which reference the
// set carries.
func referenceExists(ctx context.Context, tx *sql.Tx, e *Entry) (bool, error) {
	column, value := "ref_transaction_id", e.RefTransactionID
	switch {
	case e.RefAdjustmentID != "":
		column, value = "ref_adjustment_id", e.RefAdjustmentID
	case e.RefMatchID != "":
		column, value = "ref_match_id", e.RefMatchID
	}

	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE tenant_id = $1 AND `+column+` = $2
		)
	`, e.TenantID, value).Scan(&exists)
	return exists, err
}

// applyFlip is the optimistic status write. Legality and the version check
// run against the locked row so the entry insert and the flip commit or roll
// back together.
func applyFlip(ctx context.Context, tx *sql.Tx, flip *StatusFlip) error {
	var current transaction.ReconStatus
	var version int64
	err := tx.QueryRowContext(ctx, `
		SELECT reconciliation_status, version
		FROM normalized_transaction
		WHERE tenant_id = $1 AND transaction_id = $2
		FOR UPDATE
	`, flip.TenantID, flip.TransactionID).Scan(&current, &version)
	if err == sql.ErrNoRows {
		return transaction.ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	if version != flip.Version {
		return transaction.ErrVersionConflict
	}
	if current == flip.To {
		return nil
	}
	if !transaction.CanTransition(current, flip.To) {
		return transaction.ErrIllegalTransition
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE normalized_transaction
		SET reconciliation_status = $3, version = version + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND transaction_id = $2 AND version = $4
	`, flip.TenantID, flip.TransactionID, flip.To, flip.Version)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return transaction.ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) ListByReference(ctx context.Context, tenantID, referenceID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1
		  AND (ref_transaction_id = $2 OR ref_match_id = $2 OR ref_adjustment_id = $2)
		ORDER BY created_at, id
	`, tenantID, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var description, refTxn, refMatch, refAdj sql.NullString
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.AccountDebit, &e.AccountCredit, &e.Amount, &e.Currency,
			&e.EventType, &description, &refTxn, &refMatch, &refAdj, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Description = description.String
		e.RefTransactionID = refTxn.String
		e.RefMatchID = refMatch.String
		e.RefAdjustmentID = refAdj.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
