// Package admin provides admin-only operational endpoints: tenant directory,
// alert feed statistics and an on-demand staleness sweep.
package admin

import (
	"context"

	"github.com/settleline/recon/internal/tenant"
)

// TenantDirectory lists every tenant, regardless of status.
type TenantDirectory interface {
	List(ctx context.Context) ([]*tenant.Tenant, error)
}

// FeedStats reports alert feed counters.
type FeedStats interface {
	Stats() map[string]any
}

// Sweeper runs one stale-exception sweep on demand.
type Sweeper interface {
	SweepNow(ctx context.Context) error
}
