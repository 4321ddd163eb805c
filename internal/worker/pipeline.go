// Package worker runs normalized PSP events through admission, matching and
// posting. Many pipelines run concurrently; serialization is scoped to one
// (tenant, transaction) pair at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/settleline/recon/internal/idempotency"
	"github.com/settleline/recon/internal/ledger"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/matching"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/retry"
	"github.com/settleline/recon/internal/syncutil"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/traces"
	"github.com/settleline/recon/internal/transaction"
)

const (
	opIngestTransaction = "ingest_transaction"
	opIngestSettlement  = "ingest_settlement"

	conflictAttempts = 3
	conflictBackoff  = 25 * time.Millisecond
)

// Pipeline is the end-to-end path for one normalized event: idempotency
// admission, per-transaction critical section, matching, and posting of full
// matches. Safe under at-least-once delivery.
type Pipeline struct {
	guard       idempotency.Guard
	locks       *syncutil.ContextShardedMutex
	txns        transaction.Store
	tenants     tenant.Store
	engine      *matching.Engine
	reprocessor *matching.Reprocessor
	poster      *ledger.Poster
}

// NewPipeline creates a worker pipeline.
func NewPipeline(guard idempotency.Guard, txns transaction.Store, tenants tenant.Store,
	engine *matching.Engine, reprocessor *matching.Reprocessor, poster *ledger.Poster) *Pipeline {
	return &Pipeline{
		guard:       guard,
		locks:       syncutil.NewContextShardedMutex(),
		txns:        txns,
		tenants:     tenants,
		engine:      engine,
		reprocessor: reprocessor,
		poster:      poster,
	}
}

// ProcessTransaction admits, persists and matches one normalized transaction.
// Redelivery of an already-claimed idempotency key is a silent success.
func (p *Pipeline) ProcessTransaction(ctx context.Context, txn *transaction.NormalizedTransaction) error {
	ctx, span := traces.StartSpan(ctx, "worker.process_transaction",
		traces.TenantID(txn.TenantID), traces.TransactionID(txn.TransactionID))
	defer span.End()
	timer := prometheus.NewTimer(metrics.PipelineDuration)
	defer timer.ObserveDuration()

	won, err := p.guard.Acquire(ctx, txn.TenantID, txn.SourceIdempotencyKey, opIngestTransaction)
	if err != nil {
		return fmt.Errorf("worker: idempotency check: %w", err)
	}
	if !won {
		metrics.IdempotentReplaysTotal.WithLabelValues(opIngestTransaction).Inc()
		return nil
	}

	if err := p.txns.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, transaction.ErrDuplicate) {
			metrics.IdempotentReplaysTotal.WithLabelValues(opIngestTransaction).Inc()
			return nil
		}
		return fmt.Errorf("worker: persist transaction: %w", err)
	}

	settings, err := p.settings(ctx, txn.TenantID)
	if err != nil {
		return err
	}
	return p.matchAndPost(ctx, txn.TenantID, txn.TransactionID, settings)
}

// ProcessSettlement admits and persists one settlement line, then re-runs
// matching over the transactions in the line's date window.
func (p *Pipeline) ProcessSettlement(ctx context.Context, line *transaction.PspSettlement) error {
	ctx, span := traces.StartSpan(ctx, "worker.process_settlement", traces.TenantID(line.TenantID))
	defer span.End()

	won, err := p.guard.Acquire(ctx, line.TenantID, line.SourceIdempotencyKey, opIngestSettlement)
	if err != nil {
		return fmt.Errorf("worker: idempotency check: %w", err)
	}
	if !won {
		metrics.IdempotentReplaysTotal.WithLabelValues(opIngestSettlement).Inc()
		return nil
	}

	if err := p.txns.CreateSettlement(ctx, line); err != nil {
		if errors.Is(err, transaction.ErrDuplicate) {
			metrics.IdempotentReplaysTotal.WithLabelValues(opIngestSettlement).Inc()
			return nil
		}
		return fmt.Errorf("worker: persist settlement: %w", err)
	}

	settings, err := p.settings(ctx, line.TenantID)
	if err != nil {
		return err
	}
	stats, err := p.reprocessor.OnSettlementArrival(ctx, line, settings)
	if err != nil {
		return err
	}
	logging.L(ctx).Info("settlement processed",
		"settlement_id", line.SettlementID, "scanned", stats.Scanned, "matched", stats.Matched)
	return nil
}

// matchAndPost runs one transaction through matching and, when the result is
// a full match, through ledger posting. The whole sequence holds the
// transaction's critical section; version conflicts mean another worker got
// there first and are retried with backoff against fresh state.
func (p *Pipeline) matchAndPost(ctx context.Context, tenantID, transactionID string, settings tenant.Settings) error {
	unlock, err := p.locks.LockContext(ctx, tenantID+"|"+transactionID)
	if err != nil {
		return err
	}
	defer unlock()

	return retry.Do(ctx, conflictAttempts, conflictBackoff, func() error {
		txn, err := p.txns.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return retry.Permanent(err)
		}

		result, err := p.engine.MatchTransaction(ctx, txn, settings)
		if errors.Is(err, transaction.ErrVersionConflict) {
			return err // stale snapshot, retry against fresh state
		}
		if err != nil {
			return retry.Permanent(err)
		}

		if result.Outcome != matching.OutcomeMatched || result.Match == nil {
			return nil
		}

		matched, err := p.txns.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if _, err := p.poster.PostMatch(ctx, matched, result.Match.ID); err != nil {
			if errors.Is(err, transaction.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
}

func (p *Pipeline) settings(ctx context.Context, tenantID string) (tenant.Settings, error) {
	t, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		return tenant.Settings{}, fmt.Errorf("worker: load tenant %s: %w", tenantID, err)
	}
	return t.Settings.Normalize(), nil
}
