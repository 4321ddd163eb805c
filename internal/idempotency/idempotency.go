// Package idempotency provides the durable admission guard for ingest and
// posting operations. A key is claimed at most once; replays observe the
// existing claim and are skipped without side effects.
package idempotency

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("idempotency: empty key")

// Claim records one accepted operation.
type Claim struct {
	TenantID  string    `json:"tenantId"`
	Key       string    `json:"key"`
	Operation string    `json:"operation"` // e.g. "ingest_transaction", "post_ledger"
	CreatedAt time.Time `json:"createdAt"`
}

// Guard is the durable test-and-set. Acquire returns true when the caller
// won the claim and false when the key was already taken; the check and the
// write are one atomic step in every implementation.
type Guard interface {
	Acquire(ctx context.Context, tenantID, key, operation string) (bool, error)
	Seen(ctx context.Context, tenantID, key string) (bool, error)
}
