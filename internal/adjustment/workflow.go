package adjustment

import (
	"context"
	"fmt"
	"time"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/ledger"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/matching"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/syncutil"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/traces"
	"github.com/settleline/recon/internal/transaction"
)

// Workflow runs adjustments through creation, approval and execution.
//
// Approval is required when the absolute amount reaches the tenant's
// approval threshold or when a VOID targets a POSTED transaction. A required
// approval enforces four-eyes: the approver must differ from the creator.
// Anything else is auto-approved and executed immediately.
type Workflow struct {
	store   Store
	txns    transaction.Store
	matcher *matching.Engine
	poster  *ledger.Poster
	excs    *exception.Manager
	router  alerts.Router
	locks   *syncutil.ShardedMutex
	now     func() time.Time
}

// NewWorkflow creates an adjustment workflow.
func NewWorkflow(store Store, txns transaction.Store, matcher *matching.Engine,
	poster *ledger.Poster, excs *exception.Manager, router alerts.Router) *Workflow {
	if router == nil {
		router = alerts.NopRouter{}
	}
	return &Workflow{
		store:   store,
		txns:    txns,
		matcher: matcher,
		poster:  poster,
		excs:    excs,
		router:  router,
		locks:   &syncutil.ShardedMutex{},
		now:     time.Now,
	}
}

// CreateInput describes a new adjustment.
type CreateInput struct {
	TenantID        string `json:"-"`
	TransactionID   string `json:"transactionId"`
	SettlementID    string `json:"settlementId"`
	ExceptionID     string `json:"exceptionId"`
	Type            Type   `json:"type"`
	AmountValue     int64  `json:"amountValue"`
	Currency        string `json:"currency"`
	Reason          string `json:"reason"`
	CreatedByUserID string `json:"createdByUserId"`
}

func (in CreateInput) validate() error {
	if !ValidType(in.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, in.Type)
	}
	if in.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidAdjustment)
	}
	if in.CreatedByUserID == "" {
		return fmt.Errorf("%w: createdByUserId is required", ErrInvalidAdjustment)
	}
	if in.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidAdjustment)
	}
	if in.Type == TypeManualMatch && in.SettlementID == "" {
		return fmt.Errorf("%w: MANUAL_MATCH requires settlementId", ErrInvalidAdjustment)
	}
	if in.Type == TypeAmountCorrection && in.AmountValue == 0 {
		return fmt.Errorf("%w: AMOUNT_CORRECTION requires a nonzero amount", ErrInvalidAdjustment)
	}
	return nil
}

// Create records a new adjustment. Adjustments below the approval threshold
// are approved and executed in the same call; the rest wait PENDING for a
// second pair of eyes.
func (w *Workflow) Create(ctx context.Context, in CreateInput, settings tenant.Settings) (*Adjustment, error) {
	ctx, span := traces.StartSpan(ctx, "adjustment.create",
		traces.TenantID(in.TenantID), traces.TransactionID(in.TransactionID))
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}
	txn, err := w.txns.GetTransaction(ctx, in.TenantID, in.TransactionID)
	if err != nil {
		return nil, err
	}

	required := abs(in.AmountValue) >= settings.ApprovalThreshold ||
		(in.Type == TypeVoid && txn.ReconciliationStatus == transaction.ReconPosted)

	now := w.now()
	adj := &Adjustment{
		ID:               idgen.WithPrefix("adj_"),
		TenantID:         in.TenantID,
		TransactionID:    in.TransactionID,
		SettlementID:     in.SettlementID,
		ExceptionID:      in.ExceptionID,
		Type:             in.Type,
		AmountValue:      in.AmountValue,
		Currency:         in.Currency,
		Reason:           in.Reason,
		ApprovalStatus:   StatusPending,
		ApprovalRequired: required,
		CreatedByUserID:  in.CreatedByUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := w.store.Create(ctx, adj); err != nil {
		return nil, err
	}
	metrics.AdjustmentsTotal.WithLabelValues(string(adj.Type), "created").Inc()

	if required {
		w.router.Send(ctx, alerts.Event{
			Kind:      alerts.KindAdjustmentPending,
			TenantID:  adj.TenantID,
			Message:   fmt.Sprintf("adjustment %s awaits approval", adj.ID),
			Timestamp: now,
		})
		return adj, nil
	}

	// Auto-approval: the creator's own decision suffices below the threshold.
	return w.decide(ctx, adj, adj.CreatedByUserID)
}

// Approve applies a second analyst's approval and executes the adjustment.
// Fails with ErrSelfApproval when the approver created the adjustment and
// with ErrNotPending when the adjustment already reached a terminal status.
func (w *Workflow) Approve(ctx context.Context, tenantID, id, approverUserID string) (*Adjustment, error) {
	ctx, span := traces.StartSpan(ctx, "adjustment.approve",
		traces.TenantID(tenantID), traces.AdjustmentID(id))
	defer span.End()

	adj, err := w.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if adj.ApprovalStatus != StatusPending {
		return nil, ErrNotPending
	}
	if adj.ApprovalRequired && approverUserID == adj.CreatedByUserID {
		return nil, ErrSelfApproval
	}
	return w.decide(ctx, adj, approverUserID)
}

// Reject declines a pending adjustment with a reason. Terminal.
func (w *Workflow) Reject(ctx context.Context, tenantID, id, approverUserID, reason string) (*Adjustment, error) {
	adj, err := w.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if adj.ApprovalStatus != StatusPending {
		return nil, ErrNotPending
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	now := w.now()
	adj.ApprovalStatus = StatusRejected
	adj.ApprovedByUserID = approverUserID
	adj.RejectionReason = reason
	adj.UpdatedAt = now
	adj.DecidedAt = &now
	if err := w.store.Update(ctx, adj); err != nil {
		return nil, err
	}
	metrics.AdjustmentsTotal.WithLabelValues(string(adj.Type), "rejected").Inc()
	return adj, nil
}

// decide executes the adjustment and, on success, persists APPROVED. The
// execution runs inside the transaction's critical section so no worker can
// match or post the same transaction concurrently.
func (w *Workflow) decide(ctx context.Context, adj *Adjustment, approverUserID string) (*Adjustment, error) {
	unlock := w.locks.Lock(adj.TenantID + "|" + adj.TransactionID)
	defer unlock()

	if err := w.execute(ctx, adj); err != nil {
		return nil, err
	}

	now := w.now()
	adj.ApprovalStatus = StatusApproved
	adj.ApprovedByUserID = approverUserID
	adj.UpdatedAt = now
	adj.DecidedAt = &now
	if err := w.store.Update(ctx, adj); err != nil {
		return nil, err
	}
	metrics.AdjustmentsTotal.WithLabelValues(string(adj.Type), "approved").Inc()

	w.closeException(ctx, adj, approverUserID)
	return adj, nil
}

func (w *Workflow) execute(ctx context.Context, adj *Adjustment) error {
	switch adj.Type {
	case TypeManualMatch:
		_, err := w.matcher.ManualMatch(ctx, adj.TenantID, adj.TransactionID, adj.SettlementID, adj.CreatedByUserID)
		return err

	case TypeAmountCorrection:
		txn, err := w.txns.GetTransaction(ctx, adj.TenantID, adj.TransactionID)
		if err != nil {
			return err
		}
		_, err = w.poster.PostAdjustment(ctx, txn, adj.ID, ledger.AdjustmentAmountCorrection, adj.AmountValue)
		return err

	case TypeVoid:
		txn, err := w.txns.GetTransaction(ctx, adj.TenantID, adj.TransactionID)
		if err != nil {
			return err
		}
		_, err = w.poster.PostAdjustment(ctx, txn, adj.ID, ledger.AdjustmentVoid, 0)
		return err

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, adj.Type)
	}
}

// closeException resolves the linked exception, if any. A failure here is
// logged, not propagated: the adjustment already executed.
func (w *Workflow) closeException(ctx context.Context, adj *Adjustment, resolverUserID string) {
	if adj.ExceptionID == "" || w.excs == nil {
		return
	}
	notes := fmt.Sprintf("resolved by adjustment %s (%s)", adj.ID, adj.Type)
	if _, err := w.excs.Resolve(ctx, adj.TenantID, adj.ExceptionID, resolverUserID, notes); err != nil {
		logging.L(ctx).Warn("failed to resolve linked exception",
			"adjustment_id", adj.ID, "exception_id", adj.ExceptionID, "error", err)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
