package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/settleline/recon/internal/logging"
)

// DefaultCacheTTL is how long tenant rules are cached before re-fetching.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	rules     []*Rule
	fetchedAt time.Time
}

// Engine evaluates tenant rules against facts. Rule lists are cached per
// tenant to keep the hot matching path off the store.
type Engine struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// NewEngine creates a rule engine with the default cache TTL.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:    store,
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]*cacheEntry),
	}
}

// WithCacheTTL overrides the default rule cache TTL.
func (e *Engine) WithCacheTTL(ttl time.Duration) *Engine {
	e.cacheTTL = ttl
	return e
}

// InvalidateCache removes cached rules for a tenant. Call after rule CRUD.
func (e *Engine) InvalidateCache(tenantID string) {
	e.mu.Lock()
	delete(e.cache, tenantID)
	e.mu.Unlock()
}

func (e *Engine) cachedList(ctx context.Context, tenantID string) ([]*Rule, error) {
	now := time.Now()

	e.mu.RLock()
	entry, ok := e.cache[tenantID]
	if ok && now.Sub(entry.fetchedAt) < e.cacheTTL {
		e.mu.RUnlock()
		return entry.rules, nil
	}
	e.mu.RUnlock()

	list, err := e.store.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rules: list failed: %w", err)
	}

	e.mu.Lock()
	e.cache[tenantID] = &cacheEntry{rules: list, fetchedAt: now}
	e.mu.Unlock()

	return list, nil
}

// FirstMatch returns the first enabled rule of the given type whose
// condition matches the facts, in (priority, created_at) order. A rule whose
// condition fails to evaluate is skipped: malformed rules never fire.
// Returns (nil, nil) when no rule matches.
func (e *Engine) FirstMatch(ctx context.Context, tenantID string, ruleType Type, facts Facts) (*Rule, error) {
	list, err := e.cachedList(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ordered := make([]*Rule, 0, len(list))
	for _, r := range list {
		if r.Enabled && r.Type == ruleType {
			ordered = append(ordered, r)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	for _, r := range ordered {
		ok, err := Evaluate(r.Condition, facts)
		if err != nil {
			logging.L(ctx).Warn("skipping malformed rule", "rule_id", r.ID, "error", err)
			continue
		}
		if ok {
			return r, nil
		}
	}
	return nil, nil
}
