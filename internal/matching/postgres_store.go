package matching

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists matches in PostgreSQL. Uniqueness is enforced by
// the schema: a unique index on (tenant_id, transaction_id, settlement_id)
// and a partial unique index on (tenant_id, transaction_id) where the match
// is not superseded.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed match store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const matchColumns = `id, tenant_id, transaction_id, settlement_id, match_level, confidence_score,
	method, status, amount_difference, amount_difference_pct, superseded,
	created_by_user_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, m *Match) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, transaction_id, settlement_id) DO NOTHING`,
		m.ID, m.TenantID, m.TransactionID, m.SettlementID, m.MatchLevel, m.ConfidenceScore,
		string(m.Method), string(m.Status), m.AmountDifference, m.AmountDifferencePct,
		m.Superseded, m.CreatedByUserID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on active matches fires when another
		// worker already matched this transaction to a different settlement.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrActiveMatchExists
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicatePair
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Match, error) {
	m, err := scanMatch(p.db.QueryRowContext(ctx, `
		SELECT `+matchColumns+` FROM matches WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	}
	return m, err
}

func (p *PostgresStore) GetActiveByTransaction(ctx context.Context, tenantID, transactionID string) (*Match, error) {
	m, err := scanMatch(p.db.QueryRowContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE tenant_id = $1 AND transaction_id = $2 AND NOT superseded`,
		tenantID, transactionID))
	if err == sql.ErrNoRows {
		return nil, ErrMatchNotFound
	}
	return m, err
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, tenantID, transactionID string) ([]*Match, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE tenant_id = $1 AND transaction_id = $2
		ORDER BY created_at ASC`,
		tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Supersede(ctx context.Context, tenantID, transactionID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE matches SET superseded = TRUE, updated_at = NOW()
		WHERE tenant_id = $1 AND transaction_id = $2 AND NOT superseded`,
		tenantID, transactionID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMatchNotFound
	}
	return nil
}

type matchScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row matchScanner) (*Match, error) {
	m := &Match{}
	var method, status string
	err := row.Scan(&m.ID, &m.TenantID, &m.TransactionID, &m.SettlementID, &m.MatchLevel,
		&m.ConfidenceScore, &method, &status, &m.AmountDifference, &m.AmountDifferencePct,
		&m.Superseded, &m.CreatedByUserID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Method = Method(method)
	m.Status = MatchStatus(status)
	return m, nil
}

var _ Store = (*PostgresStore)(nil)
