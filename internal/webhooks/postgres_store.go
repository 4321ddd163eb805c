package webhooks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/settleline/recon/internal/alerts"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const subColumns = `id, tenant_id, url, secret, kinds, active, last_success, last_error, created_at`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.TenantID, sub.URL, sub.Secret, pq.Array(kindsToStrings(sub.Kinds)),
		sub.Active, nullTime(sub.LastSuccess), sub.LastError, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subColumns+` FROM webhook_subscriptions
		WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET url = $1, secret = $2, kinds = $3, active = $4, last_success = $5, last_error = $6
		WHERE tenant_id = $7 AND id = $8`,
		sub.URL, sub.Secret, pq.Array(kindsToStrings(sub.Kinds)), sub.Active,
		nullTime(sub.LastSuccess), sub.LastError, sub.TenantID, sub.ID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type subscriptionScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row subscriptionScanner) (*Subscription, error) {
	sub := &Subscription{}
	var (
		kinds       pq.StringArray
		lastSuccess sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.URL, &sub.Secret, &kinds,
		&sub.Active, &lastSuccess, &sub.LastError, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Kinds = make([]alerts.Kind, len(kinds))
	for i, k := range kinds {
		sub.Kinds[i] = alerts.Kind(k)
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		sub.LastSuccess = &t
	}
	return sub, nil
}

func kindsToStrings(kinds []alerts.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
