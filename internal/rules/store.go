package rules

import "context"

// Store persists rules.
type Store interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, tenantID, id string) (*Rule, error)
	// List returns all rules for a tenant ordered by (priority, created_at).
	List(ctx context.Context, tenantID string) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, tenantID, id string) error
}
