package fx

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists FX rates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rate store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) PutRate(ctx context.Context, r *Rate) error {
	if r.Rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fx_rates (tenant_id, base_currency, quote_currency, rate_date, rate, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, base_currency, quote_currency, rate_date)
		DO UPDATE SET rate = EXCLUDED.rate, source = EXCLUDED.source
	`, r.TenantID, strings.ToUpper(r.BaseCurrency), strings.ToUpper(r.QuoteCurrency),
		day(r.RateDate), r.Rate.String(), r.Source)
	return err
}

func (p *PostgresStore) GetRate(ctx context.Context, tenantID, base, quote string, date time.Time) (*Rate, error) {
	r := &Rate{}
	var rateStr string
	var source sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, base_currency, quote_currency, rate_date, rate, source, created_at
		FROM fx_rates
		WHERE tenant_id = $1 AND base_currency = $2 AND quote_currency = $3 AND rate_date = $4
	`, tenantID, strings.ToUpper(base), strings.ToUpper(quote), day(date)).Scan(
		&r.TenantID, &r.BaseCurrency, &r.QuoteCurrency, &r.RateDate, &rateStr, &source, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRateNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Rate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, err
	}
	r.Source = source.String
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
