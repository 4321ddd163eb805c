package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/traces"
	"github.com/settleline/recon/internal/transaction"
)

// AdjustmentKind selects an adjustment posting recipe.
type AdjustmentKind string

const (
	AdjustmentAmountCorrection AdjustmentKind = "AMOUNT_CORRECTION"
	AdjustmentVoid             AdjustmentKind = "VOID"
)

// Poster turns matches and approved adjustments into balanced posting sets.
// Posting is idempotent per reference id: a replay returns the existing set
// without writing anything.
type Poster struct {
	store Store
	now   func() time.Time
}

// NewPoster creates a ledger poster.
func NewPoster(store Store) *Poster {
	return &Poster{store: store, now: time.Now}
}

// PostMatch posts the financial effect of a matched transaction and flips
// its reconciliation status to POSTED in the same atomic unit. Only MATCHED
// and PARTIAL_MATCH transactions are postable.
func (p *Poster) PostMatch(ctx context.Context, txn *transaction.NormalizedTransaction, matchID string) ([]*Entry, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.post_match",
		traces.TenantID(txn.TenantID), traces.TransactionID(txn.TransactionID))
	defer span.End()
	done := observePosting("match")
	defer done()

	if txn.ReconciliationStatus != transaction.ReconMatched && txn.ReconciliationStatus != transaction.ReconPartialMatch {
		return nil, ErrNotPostable
	}

	legs, err := buildLegs(txn)
	if err != nil {
		return nil, err
	}

	now := p.now()
	entries := make([]*Entry, 0, len(legs))
	for _, leg := range legs {
		amount := legAmount(txn, leg.amount)
		if amount < 0 {
			amount = -amount
		}
		if amount == 0 {
			continue
		}
		if leg.debit == "" || leg.credit == "" {
			return nil, ErrMissingAccount
		}
		entries = append(entries, &Entry{
			ID:               idgen.WithPrefix("led_"),
			TenantID:         txn.TenantID,
			AccountDebit:     leg.debit,
			AccountCredit:    leg.credit,
			Amount:           amount,
			Currency:         txn.AmountCurrency,
			EventType:        string(txn.EventType),
			RefTransactionID: txn.TransactionID,
			RefMatchID:       matchID,
			CreatedAt:        now,
		})
	}
	if len(entries) == 0 {
		return nil, ErrInvalidAmount
	}

	flip := &StatusFlip{
		TenantID:      txn.TenantID,
		TransactionID: txn.TransactionID,
		To:            transaction.ReconPosted,
		Version:       txn.Version,
	}
	if err := p.store.PostEntries(ctx, entries, flip); err != nil {
		if errors.Is(err, ErrAlreadyPosted) {
			metrics.IdempotentReplaysTotal.WithLabelValues("post").Inc()
			return p.store.ListByReference(ctx, txn.TenantID, txn.TransactionID)
		}
		return nil, fmt.Errorf("ledger: posting failed: %w", err)
	}

	for _, e := range entries {
		metrics.LedgerEntriesTotal.WithLabelValues(e.EventType).Inc()
	}
	logging.L(ctx).Info("ledger posting created",
		"transaction_id", txn.TransactionID, "match_id", matchID, "entries", len(entries))
	return entries, nil
}

// PostAdjustment posts an approved adjustment's financial effect.
//
// AMOUNT_CORRECTION books the signed difference against the FX gain/loss
// accounts. VOID reverses the transaction's original posting set with
// offsetting entries when it was POSTED, and simply flips the status to
// VOIDED when nothing was posted yet.
func (p *Poster) PostAdjustment(ctx context.Context, txn *transaction.NormalizedTransaction,
	adjustmentID string, kind AdjustmentKind, amount int64) ([]*Entry, error) {

	ctx, span := traces.StartSpan(ctx, "ledger.post_adjustment",
		traces.TenantID(txn.TenantID), traces.AdjustmentID(adjustmentID))
	defer span.End()
	done := observePosting("adjustment")
	defer done()

	switch kind {
	case AdjustmentAmountCorrection:
		return p.postCorrection(ctx, txn, adjustmentID, amount)
	case AdjustmentVoid:
		return p.postVoid(ctx, txn, adjustmentID)
	default:
		return nil, ErrNoRecipe
	}
}

func (p *Poster) postCorrection(ctx context.Context, txn *transaction.NormalizedTransaction,
	adjustmentID string, amount int64) ([]*Entry, error) {

	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	debit, credit := CashAccount(txn.PSPConnectionID), AccountFxGains
	value := amount
	if amount < 0 {
		debit, credit = AccountFxLosses, CashAccount(txn.PSPConnectionID)
		value = -amount
	}

	entries := []*Entry{{
		ID:              idgen.WithPrefix("led_"),
		TenantID:        txn.TenantID,
		AccountDebit:    debit,
		AccountCredit:   credit,
		Amount:          value,
		Currency:        txn.AmountCurrency,
		EventType:       string(txn.EventType),
		Description:     "amount correction",
		RefAdjustmentID: adjustmentID,
		CreatedAt:       p.now(),
	}}

	if err := p.store.PostEntries(ctx, entries, nil); err != nil {
		if errors.Is(err, ErrAlreadyPosted) {
			metrics.IdempotentReplaysTotal.WithLabelValues("post").Inc()
			return p.store.ListByReference(ctx, txn.TenantID, adjustmentID)
		}
		return nil, err
	}
	metrics.AdjustmentsTotal.WithLabelValues(string(AdjustmentAmountCorrection), "posted").Inc()
	return entries, nil
}

// postVoid writes offsetting entries for a POSTED transaction and flips it
// to VOIDED in the same atomic unit; an unposted transaction just gets the
// flip. The original rows are never touched.
func (p *Poster) postVoid(ctx context.Context, txn *transaction.NormalizedTransaction, adjustmentID string) ([]*Entry, error) {
	if txn.ReconciliationStatus != transaction.ReconPosted {
		flip := &StatusFlip{
			TenantID:      txn.TenantID,
			TransactionID: txn.TransactionID,
			To:            transaction.ReconVoided,
			Version:       txn.Version,
		}
		if err := p.store.PostEntries(ctx, nil, flip); err != nil && !errors.Is(err, ErrAlreadyPosted) {
			return nil, err
		}
		metrics.AdjustmentsTotal.WithLabelValues(string(AdjustmentVoid), "voided").Inc()
		return nil, nil
	}

	original, err := p.store.ListByReference(ctx, txn.TenantID, txn.TransactionID)
	if err != nil {
		return nil, err
	}
	if len(original) == 0 {
		return nil, ErrNothingToVoid
	}

	now := p.now()
	reversal := make([]*Entry, 0, len(original))
	for _, e := range original {
		reversal = append(reversal, &Entry{
			ID:              idgen.WithPrefix("led_"),
			TenantID:        e.TenantID,
			AccountDebit:    e.AccountCredit, // swapped legs
			AccountCredit:   e.AccountDebit,
			Amount:          e.Amount,
			Currency:        e.Currency,
			EventType:       e.EventType,
			Description:     "reversal of " + e.ID,
			RefAdjustmentID: adjustmentID,
			CreatedAt:       now,
		})
	}

	flip := &StatusFlip{
		TenantID:      txn.TenantID,
		TransactionID: txn.TransactionID,
		To:            transaction.ReconVoided,
		Version:       txn.Version,
	}
	if err := p.store.PostEntries(ctx, reversal, flip); err != nil {
		if errors.Is(err, ErrAlreadyPosted) {
			metrics.IdempotentReplaysTotal.WithLabelValues("post").Inc()
			return p.store.ListByReference(ctx, txn.TenantID, adjustmentID)
		}
		return nil, err
	}
	metrics.AdjustmentsTotal.WithLabelValues(string(AdjustmentVoid), "reversed").Inc()
	logging.L(ctx).Info("posting reversed",
		"transaction_id", txn.TransactionID, "adjustment_id", adjustmentID, "entries", len(reversal))
	return reversal, nil
}
