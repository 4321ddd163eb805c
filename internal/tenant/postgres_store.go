package tenant

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, base_currency, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Slug, t.BaseCurrency, string(t.Status),
		settingsJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, base_currency, status, settings, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, base_currency, status, settings, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, base_currency, status, settings, created_at, updated_at
		FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Tenant
	for rows.Next() {
		t := &Tenant{}
		var (
			status       string
			settingsJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.BaseCurrency, &status, &settingsJSON,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = Status(status)
		if len(settingsJSON) > 0 {
			_ = json.Unmarshal(settingsJSON, &t.Settings)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, base_currency = $2, status = $3,
			settings = $4, updated_at = $5
		WHERE id = $6`,
		t.Name, t.BaseCurrency, string(t.Status),
		settingsJSON, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) CreateConnection(ctx context.Context, conn *PSPConnection) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO psp_connections (id, tenant_id, provider, label, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conn.ID, conn.TenantID, conn.Provider, conn.Label, conn.Active,
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrConnectionExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetConnection(ctx context.Context, tenantID, connectionID string) (*PSPConnection, error) {
	conn := &PSPConnection{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider, label, active, created_at, updated_at
		FROM psp_connections WHERE tenant_id = $1 AND id = $2`,
		tenantID, connectionID,
	).Scan(&conn.ID, &conn.TenantID, &conn.Provider, &conn.Label, &conn.Active,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *PostgresStore) ListConnections(ctx context.Context, tenantID string) ([]*PSPConnection, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, provider, label, active, created_at, updated_at
		FROM psp_connections WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*PSPConnection
	for rows.Next() {
		conn := &PSPConnection{}
		if err := rows.Scan(&conn.ID, &conn.TenantID, &conn.Provider, &conn.Label,
			&conn.Active, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	return result, rows.Err()
}

func (p *PostgresStore) scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var (
		status       string
		settingsJSON []byte
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.BaseCurrency, &status, &settingsJSON,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if len(settingsJSON) > 0 {
		_ = json.Unmarshal(settingsJSON, &t.Settings)
	}
	return t, nil
}

var _ Store = (*PostgresStore)(nil)
