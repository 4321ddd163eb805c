package exception

import "context"

// ListFilter narrows an exception listing. Zero values mean "any".
type ListFilter struct {
	Status   Status
	Priority Priority
	Type     Type
	Limit    int
}

// Store persists exceptions. All access is tenant-scoped.
type Store interface {
	Create(ctx context.Context, e *Exception) error
	Get(ctx context.Context, tenantID, id string) (*Exception, error)
	// GetOpenByTransaction returns the most recently created non-terminal
	// exception for a transaction, or ErrExceptionNotFound.
	GetOpenByTransaction(ctx context.Context, tenantID, transactionID string) (*Exception, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]*Exception, error)
	Update(ctx context.Context, e *Exception) error
}
