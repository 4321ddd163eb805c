package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func mkRule(id, tenantID, name string, typ Type, cond string, priority int, createdAt time.Time) *Rule {
	return &Rule{
		ID:        id,
		TenantID:  tenantID,
		Name:      name,
		Type:      typ,
		Condition: json.RawMessage(cond),
		Action:    ActionSendAlert,
		Priority:  priority,
		Enabled:   true,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestFirstMatchOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	// Both match the facts; the lower priority wins.
	alwaysEUR := `{"op":"eq","field":"currency","value":"EUR"}`
	if err := store.Create(ctx, mkRule("rule_b", "ten_1", "broad", TypeAlert, alwaysEUR, 20, base)); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, mkRule("rule_a", "ten_1", "narrow", TypeAlert, alwaysEUR, 10, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine(store)
	got, err := engine.FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"})
	if err != nil {
		t.Fatalf("FirstMatch error: %v", err)
	}
	if got == nil || got.ID != "rule_a" {
		t.Fatalf("want rule_a (priority 10), got %+v", got)
	}
}

func TestFirstMatchCreatedAtTieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	cond := `{"op":"gte","field":"amount","value":0}`
	if err := store.Create(ctx, mkRule("rule_new", "ten_1", "newer", TypeException, cond, 5, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, mkRule("rule_old", "ten_1", "older", TypeException, cond, 5, base)); err != nil {
		t.Fatal(err)
	}

	got, err := NewEngine(store).FirstMatch(ctx, "ten_1", TypeException, Facts{"amount": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "rule_old" {
		t.Fatalf("want rule_old on created_at tie-break, got %+v", got)
	}
}

func TestFirstMatchFiltersTypeAndEnabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	cond := `{"op":"eq","field":"currency","value":"EUR"}`
	disabled := mkRule("rule_off", "ten_1", "disabled", TypeAlert, cond, 1, base)
	disabled.Enabled = false
	if err := store.Create(ctx, disabled); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, mkRule("rule_match", "ten_1", "matching-type", TypeMatching, cond, 1, base)); err != nil {
		t.Fatal(err)
	}

	got, err := NewEngine(store).FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("disabled/wrong-type rules should not fire, got %+v", got)
	}
}

func TestFirstMatchSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	// Malformed rule sorts first but must be skipped, not fail the call.
	if err := store.Create(ctx, mkRule("rule_bad", "ten_1", "bad", TypeAlert, `{"op":"nope"}`, 1, base)); err != nil {
		t.Fatal(err)
	}
	good := `{"op":"eq","field":"currency","value":"EUR"}`
	if err := store.Create(ctx, mkRule("rule_good", "ten_1", "good", TypeAlert, good, 2, base)); err != nil {
		t.Fatal(err)
	}

	got, err := NewEngine(store).FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "rule_good" {
		t.Fatalf("want rule_good, got %+v", got)
	}
}

func TestFirstMatchNoMatch(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(NewMemoryStore())

	got, err := engine.FirstMatch(ctx, "ten_1", TypeMatching, Facts{"currency": "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("want nil on no match, got %+v", got)
	}
}

func TestEngineCacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store).WithCacheTTL(time.Hour)

	// Prime the cache with an empty rule set.
	if got, err := engine.FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"}); err != nil || got != nil {
		t.Fatalf("prime: got %+v, err %v", got, err)
	}

	cond := `{"op":"eq","field":"currency","value":"EUR"}`
	if err := store.Create(ctx, mkRule("rule_1", "ten_1", "late", TypeAlert, cond, 1, time.Now())); err != nil {
		t.Fatal(err)
	}

	// Still cached: the new rule is not visible yet.
	if got, err := engine.FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"}); err != nil || got != nil {
		t.Fatalf("cached: got %+v, err %v", got, err)
	}

	engine.InvalidateCache("ten_1")

	got, err := engine.FirstMatch(ctx, "ten_1", TypeAlert, Facts{"currency": "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "rule_1" {
		t.Fatalf("want rule_1 after invalidation, got %+v", got)
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	r := mkRule("rule_1", "ten_1", "dup-check", TypeMatching, `{"op":"eq","field":"x","value":1}`, 1, base)
	if err := store.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, mkRule("rule_2", "ten_1", "dup-check", TypeMatching, `{"op":"eq","field":"x","value":1}`, 1, base)); err != ErrNameTaken {
		t.Fatalf("want ErrNameTaken, got %v", err)
	}
	// Same name under another tenant is fine.
	if err := store.Create(ctx, mkRule("rule_3", "ten_2", "dup-check", TypeMatching, `{"op":"eq","field":"x","value":1}`, 1, base)); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, "ten_2", "rule_1"); err != ErrRuleNotFound {
		t.Fatalf("cross-tenant get: want ErrRuleNotFound, got %v", err)
	}

	r.Name = "renamed"
	if err := store.Update(ctx, r); err != nil {
		t.Fatal(err)
	}
	// Old name is released.
	if err := store.Create(ctx, mkRule("rule_4", "ten_1", "dup-check", TypeMatching, `{"op":"eq","field":"x","value":1}`, 1, base)); err != nil {
		t.Fatalf("old name should be free after rename: %v", err)
	}

	if err := store.Delete(ctx, "ten_1", "rule_1"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "ten_1", "rule_1"); err != ErrRuleNotFound {
		t.Fatalf("double delete: want ErrRuleNotFound, got %v", err)
	}
}
