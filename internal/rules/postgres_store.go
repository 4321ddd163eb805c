package rules

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists rules in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, tenant_id, name, type, condition, action, action_params, priority, enabled, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Rule) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO recon_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.TenantID, r.Name, string(r.Type), []byte(r.Condition), string(r.Action),
		nullBytes(r.ActionParams), r.Priority, r.Enabled, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Rule, error) {
	return scanRule(p.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM recon_rules WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
}

func (p *PostgresStore) List(ctx context.Context, tenantID string) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM recon_rules WHERE tenant_id = $1
		ORDER BY priority ASC, created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Rule
	for rows.Next() {
		r, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, r *Rule) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE recon_rules
		SET name = $1, type = $2, condition = $3, action = $4, action_params = $5,
			priority = $6, enabled = $7, updated_at = $8
		WHERE tenant_id = $9 AND id = $10`,
		r.Name, string(r.Type), []byte(r.Condition), string(r.Action), nullBytes(r.ActionParams),
		r.Priority, r.Enabled, r.UpdatedAt, r.TenantID, r.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM recon_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row *sql.Row) (*Rule, error) {
	r, err := scanRuleRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	return r, err
}

func scanRuleRow(row ruleScanner) (*Rule, error) {
	r := &Rule{}
	var (
		ruleType, action string
		condition        []byte
		params           []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &ruleType, &condition, &action,
		&params, &r.Priority, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = Type(ruleType)
	r.Action = Action(action)
	r.Condition = condition
	r.ActionParams = params
	return r, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
