package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/traces"
	"github.com/settleline/recon/internal/transaction"
)

// Reprocessor re-runs the matching engine over historical windows. It backs
// both the operator-triggered reprocess endpoint and the automatic
// re-evaluation of unmatched transactions when a late settlement arrives.
type Reprocessor struct {
	engine    *Engine
	txns      transaction.Store
	batchSize int
}

// NewReprocessor creates a reprocessor. batchSize caps one scan page.
func NewReprocessor(engine *Engine, txns transaction.Store, batchSize int) *Reprocessor {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Reprocessor{engine: engine, txns: txns, batchSize: batchSize}
}

// Stats summarizes one reprocessing run.
type Stats struct {
	Scanned      int `json:"scanned"`
	Matched      int `json:"matched"`
	PartialMatch int `json:"partialMatch"`
	Unmatched    int `json:"unmatched"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// Run re-evaluates every still-matchable transaction in the window. Errors
// on individual transactions are counted, logged and do not stop the run.
func (r *Reprocessor) Run(ctx context.Context, tenantID string, from, to time.Time,
	pspConnectionID string, settings tenant.Settings) (*Stats, error) {

	ctx, span := traces.StartSpan(ctx, "matching.reprocess", traces.TenantID(tenantID))
	defer span.End()

	stats := &Stats{}
	txns, err := r.txns.ListReprocessable(ctx, tenantID, from, to, pspConnectionID, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("matching: reprocess scan failed: %w", err)
	}

	for _, txn := range txns {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Scanned++

		res, err := r.engine.MatchTransaction(ctx, txn, settings)
		if err != nil {
			stats.Errors++
			metrics.ReprocessedTotal.WithLabelValues("error").Inc()
			logging.L(ctx).Warn("reprocess: transaction failed",
				"transaction_id", txn.TransactionID, "error", err)
			continue
		}
		switch res.Outcome {
		case OutcomeMatched:
			stats.Matched++
			metrics.ReprocessedTotal.WithLabelValues("matched").Inc()
		case OutcomePartialMatch:
			stats.PartialMatch++
			metrics.ReprocessedTotal.WithLabelValues("partial_match").Inc()
		case OutcomeUnmatched:
			stats.Unmatched++
			metrics.ReprocessedTotal.WithLabelValues("unmatched").Inc()
		default:
			stats.Skipped++
			metrics.ReprocessedTotal.WithLabelValues("skipped").Inc()
		}
	}

	logging.L(ctx).Info("reprocess run complete",
		"tenant_id", tenantID, "scanned", stats.Scanned, "matched", stats.Matched,
		"partial", stats.PartialMatch, "unmatched", stats.Unmatched, "errors", stats.Errors)
	return stats, nil
}

// OnSettlementArrival re-evaluates unmatched transactions inside the new
// settlement line's window. Late settlement lines must pick up transactions
// that already failed matching, not only future ones.
func (r *Reprocessor) OnSettlementArrival(ctx context.Context, line *transaction.PspSettlement, settings tenant.Settings) (*Stats, error) {
	window := time.Duration(settings.DateWindowDays) * 24 * time.Hour
	return r.Run(ctx,
		line.TenantID,
		transaction.Day(line.SettlementDate.Add(-window)),
		transaction.Day(line.SettlementDate.Add(window)),
		line.PSPConnectionID,
		settings,
	)
}
