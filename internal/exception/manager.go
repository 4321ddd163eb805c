package exception

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/rules"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/traces"
)

// Manager opens, merges and resolves exceptions, applying the tenant's
// priority policy and any EXCEPTION/ALERT rules.
type Manager struct {
	store  Store
	engine *rules.Engine // optional
	router alerts.Router // optional
	now    func() time.Time
}

// NewManager creates an exception manager. engine and router may be nil.
func NewManager(store Store, engine *rules.Engine, router alerts.Router) *Manager {
	return &Manager{
		store:  store,
		engine: engine,
		router: router,
		now:    time.Now,
	}
}

// OpenInput carries everything needed to open or update an exception.
type OpenInput struct {
	TenantID      string
	TransactionID string
	SettlementID  string

	Type   Type
	Reason string

	AmountValue     int64
	AmountCurrency  string
	EventType       string
	TransactionDate time.Time

	Settings tenant.Settings
}

// ComputePriority applies the tenant policy: P1 for duplicates or high-value
// amounts, P2 for stale transactions, P4 for event types on the tenant's
// low-value allow-list, otherwise P3. An EXCEPTION rule may still override
// the result.
func ComputePriority(s tenant.Settings, excType Type, eventType string, amount int64, transactionDate, now time.Time) Priority {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if excType == TypeDuplicate || abs >= s.HighValueThreshold {
		return PriorityP1
	}
	if !transactionDate.IsZero() && now.Sub(transactionDate) > time.Duration(s.StaleAfterHours)*time.Hour {
		return PriorityP2
	}
	for _, lv := range s.LowValueEventTypes {
		if lv == eventType {
			return PriorityP4
		}
	}
	return PriorityP3
}

// OpenOrUpdate opens a new exception or merges into the transaction's
// existing open one. Merging never duplicates the record: the type, reason
// and amount refresh, and the priority only escalates.
func (m *Manager) OpenOrUpdate(ctx context.Context, in OpenInput) (*Exception, error) {
	ctx, span := traces.StartSpan(ctx, "exception.open_or_update",
		traces.TenantID(in.TenantID), traces.TransactionID(in.TransactionID))
	defer span.End()

	now := m.now()
	priority := ComputePriority(in.Settings, in.Type, in.EventType, in.AmountValue, in.TransactionDate, now)
	priority = m.applyExceptionRules(ctx, in, priority)

	if in.TransactionID != "" {
		existing, err := m.store.GetOpenByTransaction(ctx, in.TenantID, in.TransactionID)
		if err == nil {
			existing.Type = in.Type
			existing.Reason = in.Reason
			existing.AmountValue = in.AmountValue
			existing.AmountCurrency = in.AmountCurrency
			existing.Priority = MoreSevere(existing.Priority, priority)
			existing.UpdatedAt = now
			if err := m.store.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("exception: merge failed: %w", err)
			}
			return existing, nil
		}
		if err != ErrExceptionNotFound {
			return nil, err
		}
	}

	e := &Exception{
		ID:             idgen.WithPrefix("exc_"),
		TenantID:       in.TenantID,
		TransactionID:  in.TransactionID,
		SettlementID:   in.SettlementID,
		Type:           in.Type,
		Priority:       priority,
		Status:         StatusOpen,
		Reason:         in.Reason,
		AmountValue:    in.AmountValue,
		AmountCurrency: in.AmountCurrency,
		EventType:      in.EventType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("exception: create failed: %w", err)
	}

	metrics.ExceptionsTotal.WithLabelValues(string(e.Type), string(e.Priority)).Inc()
	logging.L(ctx).Info("exception opened",
		"exception_id", e.ID, "type", e.Type, "priority", e.Priority,
		"transaction_id", e.TransactionID)

	m.emit(ctx, alerts.Event{
		Kind:        alerts.KindExceptionOpened,
		TenantID:    e.TenantID,
		Priority:    string(e.Priority),
		ExceptionID: e.ID,
		Message:     e.Reason,
	})
	m.applyAlertRules(ctx, in, e)

	return e, nil
}

// applyExceptionRules lets the first matching EXCEPTION rule override the
// computed priority.
func (m *Manager) applyExceptionRules(ctx context.Context, in OpenInput, computed Priority) Priority {
	if m.engine == nil {
		return computed
	}
	rule, err := m.engine.FirstMatch(ctx, in.TenantID, rules.TypeException, m.facts(in, computed))
	if err != nil {
		logging.L(ctx).Warn("exception rule evaluation failed", "error", err)
		return computed
	}
	if rule == nil || rule.Action != rules.ActionSetPriority {
		return computed
	}
	var params rules.SetPriorityParams
	if err := decodeParams(rule.ActionParams, &params); err != nil {
		logging.L(ctx).Warn("bad set_priority params", "rule_id", rule.ID, "error", err)
		return computed
	}
	if p := Priority(params.Priority); ValidPriority(p) {
		return p
	}
	return computed
}

// applyAlertRules emits a rule_alert event for the first matching ALERT rule.
func (m *Manager) applyAlertRules(ctx context.Context, in OpenInput, e *Exception) {
	if m.engine == nil || m.router == nil {
		return
	}
	rule, err := m.engine.FirstMatch(ctx, in.TenantID, rules.TypeAlert, m.facts(in, e.Priority))
	if err != nil {
		logging.L(ctx).Warn("alert rule evaluation failed", "error", err)
		return
	}
	if rule == nil || rule.Action != rules.ActionSendAlert {
		return
	}
	var params rules.SendAlertParams
	if len(rule.ActionParams) > 0 {
		if err := decodeParams(rule.ActionParams, &params); err != nil {
			logging.L(ctx).Warn("bad send_alert params", "rule_id", rule.ID, "error", err)
		}
	}
	m.emit(ctx, alerts.Event{
		Kind:        alerts.KindRuleAlert,
		TenantID:    e.TenantID,
		Priority:    string(e.Priority),
		ExceptionID: e.ID,
		ChannelHint: params.ChannelHint,
		Message:     e.Reason,
	})
}

func (m *Manager) facts(in OpenInput, p Priority) rules.Facts {
	return rules.Facts{
		"exception_type": string(in.Type),
		"priority":       string(p),
		"amount":         in.AmountValue,
		"currency":       in.AmountCurrency,
		"event_type":     in.EventType,
		"transaction_id": in.TransactionID,
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

func (m *Manager) emit(ctx context.Context, e alerts.Event) {
	if m.router != nil {
		m.router.Send(ctx, e)
	}
}

// Assign moves an open exception to UNDER_REVIEW and records the assignee.
func (m *Manager) Assign(ctx context.Context, tenantID, id, userID string) (*Exception, error) {
	e, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, ErrTerminal
	}
	e.Status = StatusUnderReview
	e.AssignedToUserID = userID
	e.UpdatedAt = m.now()
	if err := m.store.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Resolve closes an exception. Resolver identity and notes are mandatory;
// RESOLVED is terminal.
func (m *Manager) Resolve(ctx context.Context, tenantID, id, resolverUserID, notes string) (*Exception, error) {
	if resolverUserID == "" || notes == "" {
		return nil, ErrResolverRequired
	}
	e, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, ErrTerminal
	}

	now := m.now()
	e.Status = StatusResolved
	e.ResolvedByUserID = resolverUserID
	e.ResolutionNotes = notes
	e.ResolvedAt = now
	e.UpdatedAt = now
	if err := m.store.Update(ctx, e); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("exception resolved", "exception_id", e.ID, "resolved_by", resolverUserID)
	m.emit(ctx, alerts.Event{
		Kind:        alerts.KindExceptionResolved,
		TenantID:    e.TenantID,
		Priority:    string(e.Priority),
		ExceptionID: e.ID,
	})
	return e, nil
}

// MarkExpected closes an exception as an expected anomaly. Terminal.
func (m *Manager) MarkExpected(ctx context.Context, tenantID, id string) (*Exception, error) {
	e, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, ErrTerminal
	}
	e.Status = StatusExpected
	e.UpdatedAt = m.now()
	if err := m.store.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
