package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/settleline/recon/internal/transaction"
)

type fixture struct {
	txns   *transaction.MemoryStore
	store  *MemoryStore
	poster *Poster
}

func newFixture() *fixture {
	txns := transaction.NewMemoryStore()
	store := NewMemoryStore(txns)
	return &fixture{txns: txns, store: store, poster: NewPoster(store)}
}

func (f *fixture) addTransaction(t *testing.T, id string, event transaction.EventType,
	amount, fee int64, status transaction.ReconStatus) *transaction.NormalizedTransaction {
	t.Helper()
	txn := &transaction.NormalizedTransaction{
		TransactionID:        id,
		TenantID:             "ten_1",
		PSPConnectionID:      "psp_1",
		EventType:            event,
		EventTimestamp:       time.Now(),
		TransactionDate:      time.Now(),
		AmountValue:          amount,
		AmountCurrency:       "USD",
		PSPFee:               fee,
		NetAmount:            amount - fee,
		PSPTransactionID:     "ext_" + id,
		ReconciliationStatus: status,
	}
	if err := f.txns.CreateTransaction(context.Background(), txn); err != nil {
		t.Fatal(err)
	}
	got, err := f.txns.GetTransaction(context.Background(), "ten_1", id)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// assertBalanced checks that every account's debits and credits net to zero
// across the whole set of accounts.
func assertBalanced(t *testing.T, entries []*Entry) {
	t.Helper()
	balances := make(map[string]int64)
	for _, e := range entries {
		if e.Amount <= 0 {
			t.Fatalf("entry %s has non-positive amount %d", e.ID, e.Amount)
		}
		balances[e.AccountDebit] += e.Amount
		balances[e.AccountCredit] -= e.Amount
	}
	var total int64
	for _, v := range balances {
		total += v
	}
	if total != 0 {
		t.Errorf("posting set does not balance: %v", balances)
	}
}

func TestPostMatch_DepositWithFee(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 300, transaction.ReconMatched)
	entries, err := f.poster.PostMatch(ctx, txn, "mch_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	assertBalanced(t, entries)

	gross, fee := entries[0], entries[1]
	if gross.AccountDebit != CashAccount("psp_1") || gross.AccountCredit != AccountPlayerBalances {
		t.Errorf("gross leg accounts: %s / %s", gross.AccountDebit, gross.AccountCredit)
	}
	if gross.Amount != 10000 {
		t.Errorf("gross amount: %d", gross.Amount)
	}
	if fee.AccountDebit != AccountPSPFees || fee.Amount != 300 {
		t.Errorf("fee leg: %s %d", fee.AccountDebit, fee.Amount)
	}
	for _, e := range entries {
		if e.RefMatchID != "mch_1" || e.RefTransactionID != "txn_1" {
			t.Errorf("entry references: %+v", e)
		}
	}

	got, err := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReconciliationStatus != transaction.ReconPosted {
		t.Errorf("status after posting: %s", got.ReconciliationStatus)
	}
	if got.Version != txn.Version+1 {
		t.Errorf("version after posting: %d", got.Version)
	}
}

func TestPostMatch_ZeroFeeDropsFeeLeg(t *testing.T) {
	f := newFixture()

	txn := f.addTransaction(t, "txn_1", transaction.EventWithdrawal, 5000, 0, transaction.ReconMatched)
	entries, err := f.poster.PostMatch(context.Background(), txn, "mch_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].AccountDebit != AccountPlayerBalances || entries[0].AccountCredit != CashAccount("psp_1") {
		t.Errorf("withdrawal leg: %s / %s", entries[0].AccountDebit, entries[0].AccountCredit)
	}
}

func TestPostMatch_ReplayReturnsExistingSet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 300, transaction.ReconMatched)
	first, err := f.poster.PostMatch(ctx, txn, "mch_1")
	if err != nil {
		t.Fatal(err)
	}

	// Replay with the stale pre-posting snapshot: no new rows, the original
	// set comes back.
	second, err := f.poster.PostMatch(ctx, txn, "mch_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first) {
		t.Fatalf("replay returned %d entries, want %d", len(second), len(first))
	}
	if second[0].ID != first[0].ID {
		t.Errorf("replay returned a different set")
	}

	all, _ := f.store.List(ctx, "ten_1", 0, nil)
	if len(all) != 2 {
		t.Errorf("ledger rows after replay: %d", len(all))
	}
}

func TestPostMatch_NotPostable(t *testing.T) {
	f := newFixture()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 0, transaction.ReconPending)
	if _, err := f.poster.PostMatch(context.Background(), txn, "mch_1"); !errors.Is(err, ErrNotPostable) {
		t.Errorf("expected ErrNotPostable, got %v", err)
	}
}

func TestPostMatch_NoRecipe(t *testing.T) {
	f := newFixture()

	txn := f.addTransaction(t, "txn_1", transaction.EventType("SOMETHING_NEW"), 10000, 0, transaction.ReconMatched)
	if _, err := f.poster.PostMatch(context.Background(), txn, "mch_1"); !errors.Is(err, ErrNoRecipe) {
		t.Errorf("expected ErrNoRecipe, got %v", err)
	}

	// Nothing was written and the status did not move.
	got, _ := f.txns.GetTransaction(context.Background(), "ten_1", "txn_1")
	if got.ReconciliationStatus != transaction.ReconMatched {
		t.Errorf("status after failed posting: %s", got.ReconciliationStatus)
	}
}

func TestPostAdjustment_AmountCorrection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 0, transaction.ReconMatched)

	entries, err := f.poster.PostAdjustment(ctx, txn, "adj_1", AdjustmentAmountCorrection, 250)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.AccountDebit != CashAccount("psp_1") || e.AccountCredit != AccountFxGains || e.Amount != 250 {
		t.Errorf("positive correction: %s / %s %d", e.AccountDebit, e.AccountCredit, e.Amount)
	}

	entries, err = f.poster.PostAdjustment(ctx, txn, "adj_2", AdjustmentAmountCorrection, -250)
	if err != nil {
		t.Fatal(err)
	}
	e = entries[0]
	if e.AccountDebit != AccountFxLosses || e.AccountCredit != CashAccount("psp_1") || e.Amount != 250 {
		t.Errorf("negative correction: %s / %s %d", e.AccountDebit, e.AccountCredit, e.Amount)
	}

	if _, err := f.poster.PostAdjustment(ctx, txn, "adj_3", AdjustmentAmountCorrection, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero correction, got %v", err)
	}
}

func TestPostAdjustment_VoidReversesPostedSet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 300, transaction.ReconMatched)
	original, err := f.poster.PostMatch(ctx, txn, "mch_1")
	if err != nil {
		t.Fatal(err)
	}

	posted, err := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	reversal, err := f.poster.PostAdjustment(ctx, posted, "adj_1", AdjustmentVoid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reversal) != len(original) {
		t.Fatalf("reversal entries: %d, want %d", len(reversal), len(original))
	}
	for i, r := range reversal {
		o := original[i]
		if r.AccountDebit != o.AccountCredit || r.AccountCredit != o.AccountDebit || r.Amount != o.Amount {
			t.Errorf("reversal leg %d does not offset original: %+v vs %+v", i, r, o)
		}
		if r.RefAdjustmentID != "adj_1" {
			t.Errorf("reversal reference: %q", r.RefAdjustmentID)
		}
	}

	// The original rows are untouched; combined everything nets out.
	all, _ := f.store.List(ctx, "ten_1", 0, nil)
	if len(all) != len(original)*2 {
		t.Errorf("total ledger rows: %d", len(all))
	}
	assertBalanced(t, all)

	// The reversal and the status flip land together.
	got, _ := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if got.ReconciliationStatus != transaction.ReconVoided {
		t.Errorf("status after void of posted txn: %s", got.ReconciliationStatus)
	}
}

func TestPostAdjustment_VoidUnpostedFlipsStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 0, transaction.ReconMatched)
	entries, err := f.poster.PostAdjustment(ctx, txn, "adj_1", AdjustmentVoid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("void of unposted txn should write nothing, got %d entries", len(entries))
	}

	got, _ := f.txns.GetTransaction(ctx, "ten_1", "txn_1")
	if got.ReconciliationStatus != transaction.ReconVoided {
		t.Errorf("status after void: %s", got.ReconciliationStatus)
	}
}

func TestPostAdjustment_VoidWithoutEntries(t *testing.T) {
	f := newFixture()

	// POSTED on the books but no posting set on file.
	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 0, transaction.ReconPosted)
	if _, err := f.poster.PostAdjustment(context.Background(), txn, "adj_1", AdjustmentVoid, 0); !errors.Is(err, ErrNothingToVoid) {
		t.Errorf("expected ErrNothingToVoid, got %v", err)
	}
}

func TestListByReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	txn := f.addTransaction(t, "txn_1", transaction.EventDeposit, 10000, 300, transaction.ReconMatched)
	if _, err := f.poster.PostMatch(ctx, txn, "mch_1"); err != nil {
		t.Fatal(err)
	}

	byTxn, err := f.store.ListByReference(ctx, "ten_1", "txn_1")
	if err != nil {
		t.Fatal(err)
	}
	byMatch, err := f.store.ListByReference(ctx, "ten_1", "mch_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byTxn) != 2 || len(byMatch) != 2 {
		t.Errorf("lookup by reference: txn=%d match=%d", len(byTxn), len(byMatch))
	}

	// Other tenants see nothing.
	other, _ := f.store.ListByReference(ctx, "ten_2", "txn_1")
	if len(other) != 0 {
		t.Errorf("cross-tenant read returned %d entries", len(other))
	}
}
