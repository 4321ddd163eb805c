package tenant

import "context"

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	// List returns all tenants, ordered by ID. Used by background sweeps
	// and the admin surface; tenant counts are small.
	List(ctx context.Context) ([]*Tenant, error)
	Update(ctx context.Context, t *Tenant) error

	CreateConnection(ctx context.Context, conn *PSPConnection) error
	GetConnection(ctx context.Context, tenantID, connectionID string) (*PSPConnection, error)
	ListConnections(ctx context.Context, tenantID string) ([]*PSPConnection, error)
}
