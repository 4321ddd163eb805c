package adjustment

import "context"

// ListFilter narrows a List call. Zero values mean "any".
type ListFilter struct {
	Status        ApprovalStatus
	Type          Type
	TransactionID string
	Limit         int
}

// Store persists adjustments. All access is tenant-scoped.
type Store interface {
	Create(ctx context.Context, a *Adjustment) error
	Get(ctx context.Context, tenantID, id string) (*Adjustment, error)
	// Update persists a workflow decision. Returns ErrAdjustmentNotFound when
	// the row does not exist.
	Update(ctx context.Context, a *Adjustment) error
	List(ctx context.Context, tenantID string, f ListFilter) ([]*Adjustment, error)
}
