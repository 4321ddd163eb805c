package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `
	transaction_id, tenant_id, psp_connection_id, event_type, event_timestamp,
	transaction_date, amount_value, amount_currency, psp_fee, net_amount,
	psp_transaction_id, psp_payment_id, psp_settlement_id, psp_batch_id, customer_id,
	status, reconciliation_status, source_idempotency_key, version, created_at, updated_at`

func (p *PostgresStore) CreateTransaction(ctx context.Context, txn *NormalizedTransaction) error {
	status := txn.ReconciliationStatus
	if status == "" {
		status = ReconPending
	}
	version := txn.Version
	if version == 0 {
		version = 1
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO normalized_transaction (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
		ON CONFLICT (tenant_id, psp_connection_id, psp_transaction_id, event_type) DO NOTHING
	`, txn.TransactionID, txn.TenantID, txn.PSPConnectionID, txn.EventType, txn.EventTimestamp,
		Day(txn.TransactionDate), txn.AmountValue, txn.AmountCurrency, txn.PSPFee, txn.NetAmount,
		txn.PSPTransactionID, nullable(txn.PSPPaymentID), nullable(txn.PSPSettlementID),
		nullable(txn.PSPBatchID), nullable(txn.CustomerID),
		txn.Status, status, txn.SourceIdempotencyKey, version)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, tenantID, transactionID string) (*NormalizedTransaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM normalized_transaction
		WHERE tenant_id = $1 AND transaction_id = $2
	`, tenantID, transactionID)
	return scanTransaction(row)
}

// TransitionStatus performs the optimistic conditional write. The legality
// check and the version bump happen inside one database transaction so a
// concurrent writer can never interleave between read and update.
func (p *PostgresStore) TransitionStatus(ctx context.Context, tenantID, transactionID string, to ReconStatus, version int64) (*NormalizedTransaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+txnColumns+`
		FROM normalized_transaction
		WHERE tenant_id = $1 AND transaction_id = $2
		FOR UPDATE
	`, tenantID, transactionID)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if txn.Version != version {
		return nil, ErrVersionConflict
	}
	if txn.ReconciliationStatus == to {
		return txn, tx.Commit()
	}
	if !CanTransition(txn.ReconciliationStatus, to) {
		return nil, ErrIllegalTransition
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE normalized_transaction
		SET reconciliation_status = $3, version = version + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND transaction_id = $2 AND version = $4
	`, tenantID, transactionID, to, version)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	txn.ReconciliationStatus = to
	txn.Version++
	txn.UpdatedAt = time.Now()
	return txn, nil
}

func (p *PostgresStore) ListReprocessable(ctx context.Context, tenantID string, from, to time.Time, pspConnectionID string, limit int) ([]*NormalizedTransaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT ` + txnColumns + `
		FROM normalized_transaction
		WHERE tenant_id = $1
		  AND transaction_date BETWEEN $2 AND $3
		  AND reconciliation_status IN ('PENDING', 'UNMATCHED', 'PARTIAL_MATCH')`
	args := []any{tenantID, Day(from), Day(to)}
	if pspConnectionID != "" {
		query += ` AND psp_connection_id = $4`
		args = append(args, pspConnectionID)
	}
	query += fmt.Sprintf(` ORDER BY transaction_date, transaction_id LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*NormalizedTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateSettlement(ctx context.Context, line *PspSettlement) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO psp_settlement (
			settlement_id, tenant_id, psp_connection_id, settlement_date,
			settlement_batch_id, settlement_line_number,
			amount_value, amount_currency, psp_fee, net_amount,
			psp_settlement_id, psp_transaction_ids, source_idempotency_key,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (tenant_id, psp_connection_id, settlement_date, settlement_batch_id, settlement_line_number)
		DO NOTHING
	`, line.SettlementID, line.TenantID, line.PSPConnectionID, Day(line.SettlementDate),
		line.BatchID, line.LineNumber,
		line.AmountValue, line.AmountCurrency, line.PSPFee, line.NetAmount,
		nullable(line.PSPSettlementID), pq.Array(line.PSPTransactionIDs), line.SourceIdempotencyKey)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p *PostgresStore) GetSettlement(ctx context.Context, tenantID, settlementID string) (*PspSettlement, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT settlement_id, tenant_id, psp_connection_id, settlement_date,
		       settlement_batch_id, settlement_line_number,
		       amount_value, amount_currency, psp_fee, net_amount,
		       psp_settlement_id, psp_transaction_ids, source_idempotency_key,
		       created_at, updated_at
		FROM psp_settlement
		WHERE tenant_id = $1 AND settlement_id = $2
	`, tenantID, settlementID)
	return scanSettlement(row)
}

func (p *PostgresStore) FindSettlementCandidates(ctx context.Context, q CandidateQuery) ([]*PspSettlement, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT settlement_id, tenant_id, psp_connection_id, settlement_date,
		       settlement_batch_id, settlement_line_number,
		       amount_value, amount_currency, psp_fee, net_amount,
		       psp_settlement_id, psp_transaction_ids, source_idempotency_key,
		       created_at, updated_at
		FROM psp_settlement
		WHERE tenant_id = $1
		  AND psp_connection_id = $2
		  AND settlement_date BETWEEN $3 AND $4`
	args := []any{q.TenantID, q.PSPConnectionID, Day(q.DateFrom), Day(q.DateTo)}
	if q.Currency != "" {
		query += ` AND amount_currency = $5`
		args = append(args, q.Currency)
	}
	query += fmt.Sprintf(` ORDER BY settlement_date, settlement_batch_id, settlement_line_number LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PspSettlement
	for rows.Next() {
		line, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, line)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*NormalizedTransaction, error) {
	txn := &NormalizedTransaction{}
	var paymentID, settlementID, batchID, customerID sql.NullString
	err := row.Scan(
		&txn.TransactionID, &txn.TenantID, &txn.PSPConnectionID, &txn.EventType, &txn.EventTimestamp,
		&txn.TransactionDate, &txn.AmountValue, &txn.AmountCurrency, &txn.PSPFee, &txn.NetAmount,
		&txn.PSPTransactionID, &paymentID, &settlementID, &batchID, &customerID,
		&txn.Status, &txn.ReconciliationStatus, &txn.SourceIdempotencyKey,
		&txn.Version, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.PSPPaymentID = paymentID.String
	txn.PSPSettlementID = settlementID.String
	txn.PSPBatchID = batchID.String
	txn.CustomerID = customerID.String
	return txn, nil
}

func scanSettlement(row rowScanner) (*PspSettlement, error) {
	line := &PspSettlement{}
	var pspSettlementID sql.NullString
	err := row.Scan(
		&line.SettlementID, &line.TenantID, &line.PSPConnectionID, &line.SettlementDate,
		&line.BatchID, &line.LineNumber,
		&line.AmountValue, &line.AmountCurrency, &line.PSPFee, &line.NetAmount,
		&pspSettlementID, pq.Array(&line.PSPTransactionIDs), &line.SourceIdempotencyKey,
		&line.CreatedAt, &line.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	line.PSPSettlementID = pspSettlementID.String
	return line, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
