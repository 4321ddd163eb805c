package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/fx"
	"github.com/settleline/recon/internal/idgen"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/rules"
	"github.com/settleline/recon/internal/tenant"
	"github.com/settleline/recon/internal/traces"
	"github.com/settleline/recon/internal/transaction"
)

// fuzzyDateWindow is the ±1 day window for level-3 fuzzy matching. The
// candidate locator window (tenant-configurable) may be wider; level 3
// never is.
const fuzzyDateWindow = 24 * time.Hour

// Outcome summarizes one engine run over a transaction.
type Outcome string

const (
	OutcomeMatched      Outcome = "MATCHED"
	OutcomePartialMatch Outcome = "PARTIAL_MATCH"
	OutcomeUnmatched    Outcome = "UNMATCHED"
	OutcomeExpected     Outcome = "EXPECTED"
	OutcomeSkipped      Outcome = "SKIPPED" // matching rule opted out
	OutcomeNoop         Outcome = "NOOP"    // already matched/terminal, idempotent re-run
)

// Result is the engine's externally observable output for one transaction.
type Result struct {
	Outcome   Outcome
	Match     *Match
	Exception *exception.Exception
}

// Engine runs the four-level matching hierarchy.
type Engine struct {
	txns    transaction.Store
	matches Store
	fx      *fx.Converter
	excs    *exception.Manager
	rules   *rules.Engine // optional
	router  alerts.Router // optional
	now     func() time.Time
}

// NewEngine creates a matching engine. ruleEngine and router may be nil.
func NewEngine(txns transaction.Store, matches Store, converter *fx.Converter,
	excs *exception.Manager, ruleEngine *rules.Engine, router alerts.Router) *Engine {
	return &Engine{
		txns:    txns,
		matches: matches,
		fx:      converter,
		excs:    excs,
		rules:   ruleEngine,
		router:  router,
		now:     time.Now,
	}
}

// candidate is a settlement line with its net amount normalized into the
// transaction's currency.
type candidate struct {
	line          *transaction.PspSettlement
	normalizedNet int64
	fxOK          bool // false when currencies differ and no rate exists
	referenced    bool // line references the transaction's PSP id
	hintMatch     bool // line matches the transaction's settlement-id hint
	dateDiff      time.Duration
}

func (c *candidate) diff(txnNet int64) int64 {
	return txnNet - c.normalizedNet
}

// MatchTransaction runs the matching hierarchy for one transaction. Safe to
// re-run: an already-matched or terminal transaction is a no-op.
func (e *Engine) MatchTransaction(ctx context.Context, txn *transaction.NormalizedTransaction, settings tenant.Settings) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "matching.match_transaction",
		traces.TenantID(txn.TenantID), traces.TransactionID(txn.TransactionID))
	defer span.End()

	if txn.ReconciliationStatus.IsTerminal() || txn.ReconciliationStatus == transaction.ReconMatched {
		return &Result{Outcome: OutcomeNoop}, nil
	}
	if _, err := e.matches.GetActiveByTransaction(ctx, txn.TenantID, txn.TransactionID); err == nil {
		return &Result{Outcome: OutcomeNoop}, nil
	} else if !errors.Is(err, ErrMatchNotFound) {
		return nil, err
	}

	if res, handled, err := e.applyMatchingRules(ctx, txn, settings); handled || err != nil {
		return res, err
	}

	cands, err := e.locate(ctx, txn, settings)
	if err != nil {
		return nil, err
	}

	txnNet := txn.Net()
	tol := toleranceAmount(settings.AmountTolerancePct, txnNet)

	// Levels 1 and 2: direct cross-reference.
	if best := closestReferenced(cands, txnNet); best != nil {
		d := abs(best.diff(txnNet))
		switch {
		case d == 0:
			return e.accept(ctx, txn, settings, best, 1, 100, transaction.ReconMatched, MethodAuto)
		case tol > 0 && d <= tol:
			conf := clamp(99-int(9*d/tol), 90, 99)
			return e.accept(ctx, txn, settings, best, 2, conf, transaction.ReconPartialMatch, MethodAuto)
		default:
			return e.escalate(ctx, txn, settings, exception.TypeAmountMismatch,
				fmt.Sprintf("settlement %s references this transaction but differs by %d minor units, beyond tolerance",
					best.line.SettlementID, best.diff(txnNet)))
		}
	}

	// Level 3: fuzzy amount+date, unique within a ±1 day window.
	fuzzy := filter(cands, func(c *candidate) bool {
		return c.fxOK && c.dateDiff <= fuzzyDateWindow && abs(c.diff(txnNet)) <= tol
	})
	switch len(fuzzy) {
	case 1:
		c := fuzzy[0]
		d := abs(c.diff(txnNet))
		days := int(c.dateDiff / (24 * time.Hour))
		conf := 89 - 10*days - amountPenalty(d, tol)
		if conf < 60 {
			conf = 60
		}
		status := transaction.ReconPartialMatch
		if d == 0 {
			status = transaction.ReconMatched
		}
		return e.accept(ctx, txn, settings, c, 3, conf, status, MethodAuto)
	default:
		if len(fuzzy) > 1 {
			// Ties are never auto-resolved: N-way ties escalate uniformly.
			return e.escalate(ctx, txn, settings, exception.TypeDuplicate,
				fmt.Sprintf("%d settlement candidates tie within the fuzzy window", len(fuzzy)))
		}
	}

	// Level 4: gross amount and date line up but currency, fee treatment or
	// PSP reference differ beyond level-3 tolerance.
	loose := filter(cands, func(c *candidate) bool {
		return c.line.AmountValue == txn.AmountValue
	})
	switch len(loose) {
	case 1:
		c := loose[0]
		days := int(c.dateDiff / (24 * time.Hour))
		conf := clamp(50-5*days, 40, 59)
		return e.accept(ctx, txn, settings, c, 4, conf, transaction.ReconPartialMatch, MethodAuto)
	default:
		if len(loose) > 1 {
			return e.escalate(ctx, txn, settings, exception.TypeDuplicate,
				fmt.Sprintf("%d settlement candidates tie on amount and date", len(loose)))
		}
	}

	return e.escalate(ctx, txn, settings, exception.TypeUnmatched,
		"no settlement candidate found in window")
}

// ManualMatch links a transaction to a settlement on an analyst's authority,
// bypassing the hierarchy. The resulting match carries full confidence and
// the asserting user's id; the transaction moves to MATCHED (zero amount
// difference) or PARTIAL_MATCH.
func (e *Engine) ManualMatch(ctx context.Context, tenantID, transactionID, settlementID, userID string) (*Match, error) {
	ctx, span := traces.StartSpan(ctx, "matching.manual_match",
		traces.TenantID(tenantID), traces.TransactionID(transactionID), traces.SettlementID(settlementID))
	defer span.End()

	txn, err := e.txns.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.ReconciliationStatus.IsTerminal() {
		return nil, transaction.ErrIllegalTransition
	}
	line, err := e.txns.GetSettlement(ctx, tenantID, settlementID)
	if err != nil {
		return nil, err
	}

	// A correction replaces whatever link currently holds the transaction;
	// the old match stays on file as superseded history.
	if _, err := e.matches.GetActiveByTransaction(ctx, tenantID, transactionID); err == nil {
		if err := e.matches.Supersede(ctx, tenantID, transactionID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrMatchNotFound) {
		return nil, err
	}

	net := line.Net()
	if line.AmountCurrency != txn.AmountCurrency {
		net, err = e.fx.Convert(ctx, tenantID, line.Net(), line.AmountCurrency, txn.AmountCurrency, txn.TransactionDate)
		if err != nil {
			return nil, fmt.Errorf("matching: fx normalization failed: %w", err)
		}
	}
	diff := txn.Net() - net
	var pct float64
	if txn.Net() != 0 {
		pct = float64(diff) / float64(abs(txn.Net()))
	}

	status := transaction.ReconPartialMatch
	if diff == 0 {
		status = transaction.ReconMatched
	}

	now := e.now()
	m := &Match{
		ID:                  idgen.WithPrefix("mch_"),
		TenantID:            tenantID,
		TransactionID:       transactionID,
		SettlementID:        settlementID,
		MatchLevel:          1,
		ConfidenceScore:     100,
		Method:              MethodManual,
		Status:              matchStatus(status),
		AmountDifference:    diff,
		AmountDifferencePct: pct,
		CreatedByUserID:     userID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.matches.Create(ctx, m); err != nil {
		return nil, err
	}
	if _, err := e.txns.TransitionStatus(ctx, tenantID, transactionID, status, txn.Version); err != nil {
		return nil, err
	}

	metrics.MatchesTotal.WithLabelValues("manual").Inc()
	logging.L(ctx).Info("manual match created",
		"match_id", m.ID, "transaction_id", transactionID, "settlement_id", settlementID, "created_by", userID)
	return m, nil
}

// applyMatchingRules runs MATCHING-type rules before the hierarchy. A
// skip_matching rule leaves the transaction untouched; a set_status rule
// with EXPECTED parks it as an expected anomaly; auto_match forces a link
// to the closest candidate; create_exception escalates straight to the
// review queue.
func (e *Engine) applyMatchingRules(ctx context.Context, txn *transaction.NormalizedTransaction, settings tenant.Settings) (*Result, bool, error) {
	if e.rules == nil {
		return nil, false, nil
	}
	rule, err := e.rules.FirstMatch(ctx, txn.TenantID, rules.TypeMatching, rules.Facts{
		"transaction_id":    txn.TransactionID,
		"event_type":        string(txn.EventType),
		"amount":            txn.AmountValue,
		"net_amount":        txn.Net(),
		"currency":          txn.AmountCurrency,
		"psp_connection_id": txn.PSPConnectionID,
		"status":            string(txn.Status),
	})
	if err != nil {
		logging.L(ctx).Warn("matching rule evaluation failed", "error", err)
		return nil, false, nil
	}
	if rule == nil {
		return nil, false, nil
	}

	switch rule.Action {
	case rules.ActionSkipMatching:
		logging.L(ctx).Info("matching skipped by rule", "rule_id", rule.ID, "transaction_id", txn.TransactionID)
		return &Result{Outcome: OutcomeSkipped}, true, nil

	case rules.ActionSetStatus:
		var params rules.SetStatusParams
		if err := json.Unmarshal(rule.ActionParams, &params); err != nil || params.Status != string(transaction.ReconExpected) {
			logging.L(ctx).Warn("unsupported set_status params", "rule_id", rule.ID)
			return nil, false, nil
		}
		if _, err := e.txns.TransitionStatus(ctx, txn.TenantID, txn.TransactionID, transaction.ReconExpected, txn.Version); err != nil {
			return nil, true, err
		}
		return &Result{Outcome: OutcomeExpected}, true, nil

	case rules.ActionAutoMatch:
		return e.forceMatch(ctx, txn, settings, rule)

	case rules.ActionCreateException:
		var params rules.CreateExceptionParams
		if len(rule.ActionParams) > 0 {
			if err := json.Unmarshal(rule.ActionParams, &params); err != nil {
				logging.L(ctx).Warn("bad create_exception params", "rule_id", rule.ID, "error", err)
			}
		}
		reason := params.Reason
		if reason == "" {
			reason = "flagged by rule " + rule.Name
		}
		res, err := e.escalate(ctx, txn, settings, exception.TypeUnmatched, reason)
		return res, true, err
	}
	return nil, false, nil
}

// forceMatch links the transaction to its closest FX-resolvable candidate on
// a rule's authority, bypassing level tolerances. When the window is empty
// the rule yields and the hierarchy gets its turn.
func (e *Engine) forceMatch(ctx context.Context, txn *transaction.NormalizedTransaction,
	settings tenant.Settings, rule *rules.Rule) (*Result, bool, error) {

	cands, err := e.locate(ctx, txn, settings)
	if err != nil {
		return nil, true, err
	}

	txnNet := txn.Net()
	var best *candidate
	for _, c := range cands {
		if !c.fxOK {
			continue
		}
		if best == nil || abs(c.diff(txnNet)) < abs(best.diff(txnNet)) {
			best = c
		}
	}
	if best == nil {
		logging.L(ctx).Warn("auto_match rule found no candidate",
			"rule_id", rule.ID, "transaction_id", txn.TransactionID)
		return nil, false, nil
	}

	status := transaction.ReconPartialMatch
	if best.diff(txnNet) == 0 {
		status = transaction.ReconMatched
	}
	res, err := e.accept(ctx, txn, settings, best, 1, 100, status, MethodRule)
	return res, true, err
}

// locate pulls the candidate window and normalizes each line's net amount
// into the transaction's currency.
func (e *Engine) locate(ctx context.Context, txn *transaction.NormalizedTransaction, settings tenant.Settings) ([]*candidate, error) {
	window := time.Duration(settings.DateWindowDays) * 24 * time.Hour
	lines, err := e.txns.FindSettlementCandidates(ctx, transaction.CandidateQuery{
		TenantID:        txn.TenantID,
		PSPConnectionID: txn.PSPConnectionID,
		DateFrom:        transaction.Day(txn.TransactionDate.Add(-window)),
		DateTo:          transaction.Day(txn.TransactionDate.Add(window)),
		Limit:           500,
	})
	if err != nil {
		return nil, fmt.Errorf("matching: candidate scan failed: %w", err)
	}

	cands := make([]*candidate, 0, len(lines))
	for _, line := range lines {
		c := &candidate{
			line:          line,
			normalizedNet: line.Net(),
			fxOK:          true,
			referenced:    line.References(txn.PSPTransactionID),
			hintMatch:     txn.PSPSettlementID != "" && line.PSPSettlementID == txn.PSPSettlementID,
			dateDiff:      absDuration(transaction.Day(txn.TransactionDate).Sub(line.SettlementDate)),
		}
		if line.AmountCurrency != txn.AmountCurrency {
			converted, err := e.fx.Convert(ctx, txn.TenantID, line.Net(), line.AmountCurrency, txn.AmountCurrency, txn.TransactionDate)
			if err != nil {
				if !errors.Is(err, fx.ErrRateNotFound) {
					return nil, fmt.Errorf("matching: fx normalization failed: %w", err)
				}
				// Missing rate is a data-quality problem, not a crash: the
				// line stays eligible only for level 4.
				c.fxOK = false
			} else {
				c.normalizedNet = converted
			}
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// accept records the match and flips the transaction status atomically with
// respect to the optimistic version. Anything short of a full MATCHED result
// also opens a review exception: partial matches never bypass the queue.
func (e *Engine) accept(ctx context.Context, txn *transaction.NormalizedTransaction, settings tenant.Settings,
	c *candidate, level, confidence int, status transaction.ReconStatus, method Method) (*Result, error) {

	diff := c.diff(txn.Net())
	var pct float64
	if txn.Net() != 0 {
		pct = float64(diff) / float64(abs(txn.Net()))
	}

	ms := matchStatus(status)
	if level == 4 {
		// Weakest-level links hold in PENDING_REVIEW until an analyst rules.
		ms = StatusPendingReview
	}

	now := e.now()
	m := &Match{
		ID:                  idgen.WithPrefix("mch_"),
		TenantID:            txn.TenantID,
		TransactionID:       txn.TransactionID,
		SettlementID:        c.line.SettlementID,
		MatchLevel:          level,
		ConfidenceScore:     confidence,
		Method:              method,
		Status:              ms,
		AmountDifference:    diff,
		AmountDifferencePct: pct,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := e.matches.Create(ctx, m); err != nil {
		if errors.Is(err, ErrDuplicatePair) {
			// Replay of a delivery we already processed.
			metrics.IdempotentReplaysTotal.WithLabelValues("match").Inc()
			return &Result{Outcome: OutcomeNoop}, nil
		}
		if errors.Is(err, ErrActiveMatchExists) {
			// Another settlement claimed this transaction first. Flag, don't
			// overwrite.
			return e.escalate(ctx, txn, settings, exception.TypeDuplicate,
				fmt.Sprintf("transaction already actively matched; settlement %s rejected", c.line.SettlementID))
		}
		return nil, fmt.Errorf("matching: create match failed: %w", err)
	}

	if _, err := e.txns.TransitionStatus(ctx, txn.TenantID, txn.TransactionID, status, txn.Version); err != nil {
		if errors.Is(err, transaction.ErrVersionConflict) {
			metrics.VersionConflictsTotal.Inc()
		}
		return nil, err
	}

	label := fmt.Sprintf("l%d", level)
	if method == MethodRule {
		label = "rule"
	}
	metrics.MatchesTotal.WithLabelValues(label).Inc()
	metrics.MatchConfidence.Observe(float64(confidence))
	logging.L(ctx).Info("match created",
		"match_id", m.ID, "transaction_id", txn.TransactionID, "settlement_id", c.line.SettlementID,
		"level", level, "confidence", confidence, "amount_difference", diff)

	if e.router != nil {
		e.router.Send(ctx, alerts.Event{
			Kind:     alerts.KindMatchCreated,
			TenantID: txn.TenantID,
			MatchID:  m.ID,
		})
	}

	res := &Result{Outcome: OutcomeMatched, Match: m}
	if status == transaction.ReconPartialMatch {
		res.Outcome = OutcomePartialMatch

		// A referenced settlement that differs within tolerance is an amount
		// problem; everything weaker is a partial-match review case.
		excType := exception.TypePartialMatch
		if level == 2 {
			excType = exception.TypeAmountMismatch
		}
		exc, err := e.excs.OpenOrUpdate(ctx, exception.OpenInput{
			TenantID:        txn.TenantID,
			TransactionID:   txn.TransactionID,
			SettlementID:    c.line.SettlementID,
			Type:            excType,
			Reason:          fmt.Sprintf("level-%d match %s requires manual review (amount difference %d minor units)", level, m.ID, diff),
			AmountValue:     txn.AmountValue,
			AmountCurrency:  txn.AmountCurrency,
			EventType:       string(txn.EventType),
			TransactionDate: txn.TransactionDate,
			Settings:        settings,
		})
		if err != nil {
			return nil, err
		}
		res.Exception = exc
	}
	return res, nil
}

// escalate marks the transaction UNMATCHED and opens (or merges) the
// corresponding exception.
func (e *Engine) escalate(ctx context.Context, txn *transaction.NormalizedTransaction,
	settings tenant.Settings, excType exception.Type, reason string) (*Result, error) {

	if txn.ReconciliationStatus != transaction.ReconUnmatched {
		if _, err := e.txns.TransitionStatus(ctx, txn.TenantID, txn.TransactionID, transaction.ReconUnmatched, txn.Version); err != nil {
			if errors.Is(err, transaction.ErrVersionConflict) {
				metrics.VersionConflictsTotal.Inc()
			}
			return nil, err
		}
	}

	metrics.MatchesTotal.WithLabelValues("none").Inc()

	exc, err := e.excs.OpenOrUpdate(ctx, exception.OpenInput{
		TenantID:        txn.TenantID,
		TransactionID:   txn.TransactionID,
		Type:            excType,
		Reason:          reason,
		AmountValue:     txn.AmountValue,
		AmountCurrency:  txn.AmountCurrency,
		EventType:       string(txn.EventType),
		TransactionDate: txn.TransactionDate,
		Settings:        settings,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeUnmatched, Exception: exc}, nil
}

// closestReferenced returns the referenced (or hint-matching) candidate with
// the smallest normalized amount difference, or nil.
func closestReferenced(cands []*candidate, txnNet int64) *candidate {
	var best *candidate
	for _, c := range cands {
		if !c.referenced && !c.hintMatch {
			continue
		}
		if !c.fxOK {
			continue
		}
		if best == nil || abs(c.diff(txnNet)) < abs(best.diff(txnNet)) {
			best = c
		}
	}
	return best
}

// toleranceAmount converts the relative tolerance into minor units for this
// transaction. Tolerance 0 means exact-amount matching only.
func toleranceAmount(pct float64, net int64) int64 {
	if pct <= 0 {
		return 0
	}
	return int64(pct * float64(abs(net)))
}

// amountPenalty scales the confidence penalty by how much of the tolerance
// the difference consumes. Zero difference costs nothing; a difference at
// the tolerance edge costs 10 points.
func amountPenalty(diff, tol int64) int {
	if diff == 0 || tol == 0 {
		return 0
	}
	p := 1 + int(9*diff/tol)
	if p > 19 {
		p = 19
	}
	return p
}

func matchStatus(s transaction.ReconStatus) MatchStatus {
	if s == transaction.ReconMatched {
		return StatusMatched
	}
	return StatusPartialMatch
}

func filter(cands []*candidate, keep func(*candidate) bool) []*candidate {
	var out []*candidate
	for _, c := range cands {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
