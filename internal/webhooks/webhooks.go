// Package webhooks delivers alert feed events to tenant-registered HTTP
// endpoints.
//
// Tenants subscribe a URL to a set of event kinds (exception opened, match
// created, adjustment pending, ...). Deliveries are signed with the
// subscription secret, retried with backoff, and guarded by a per-endpoint
// circuit breaker so one dead endpoint cannot soak the dispatcher.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/circuitbreaker"
	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/retry"
	"github.com/settleline/recon/internal/security"
)

var ErrSubscriptionNotFound = errors.New("webhooks: subscription not found")

// Subscription is one tenant-registered delivery endpoint.
type Subscription struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenantId"`
	URL         string        `json:"url"`
	Secret      string        `json:"-"` // HMAC signing key
	Kinds       []alerts.Kind `json:"kinds"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastSuccess *time.Time    `json:"lastSuccess,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

// Wants reports whether the subscription listens for kind.
func (s *Subscription) Wants(kind alerts.Kind) bool {
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions. All access is tenant-scoped.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, tenantID, id string) (*Subscription, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, tenantID, id string) error
}

var webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "settleline",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook delivery attempts by result (ok, failed, circuit_open).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(webhookDeliveries)
}

// RetryConfig tunes delivery retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Breaker settings: consecutive failed deliveries before the endpoint
	// is cut off, and how long it stays cut off.
	BreakerThreshold int
	BreakerOpenFor   time.Duration
}

// DefaultRetryConfig returns delivery defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerOpenFor:   time.Minute,
	}
}

// Dispatcher delivers alert events to subscribed endpoints. It implements
// alerts.Router; Send never blocks the caller.
type Dispatcher struct {
	store   Store
	client  *http.Client
	breaker *circuitbreaker.Breaker
	retry   RetryConfig

	// urlValidator rejects endpoints pointing at private address space.
	// Replaced in tests that deliver to a loopback httptest server.
	urlValidator func(string) error
}

// NewDispatcher creates a webhook dispatcher with default retry settings.
func NewDispatcher(store Store) *Dispatcher {
	return NewDispatcherWithRetry(store, DefaultRetryConfig())
}

// NewDispatcherWithRetry creates a webhook dispatcher with explicit retry
// settings.
func NewDispatcherWithRetry(store Store, cfg RetryConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: 10 * time.Second},
		breaker:      circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenFor),
		retry:        cfg,
		urlValidator: security.ValidateEndpointURL,
	}
}

// Send delivers e to every active subscription of the tenant that wants its
// kind. Delivery is asynchronous; failures are recorded on the subscription.
func (d *Dispatcher) Send(ctx context.Context, e alerts.Event) {
	subs, err := d.store.ListByTenant(ctx, e.TenantID)
	if err != nil {
		logging.L(ctx).Error("webhook subscription lookup failed",
			"tenant_id", e.TenantID, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Active || !sub.Wants(e.Kind) {
			continue
		}
		go d.deliver(sub, e)
	}
}

func (d *Dispatcher) deliver(sub *Subscription, e alerts.Event) {
	// The triggering request's context may be gone by the time this runs.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !d.breaker.Allow(sub.ID) {
		webhookDeliveries.WithLabelValues("circuit_open").Inc()
		return
	}

	// Checked at registration too, but the target may have been re-pointed
	// at private address space since (DNS rebinding).
	if err := d.urlValidator(sub.URL); err != nil {
		webhookDeliveries.WithLabelValues("failed").Inc()
		d.recordFailure(ctx, sub, "invalid endpoint: "+err.Error())
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, d.retry.MaxAttempts, d.retry.BaseDelay, func() error {
		return d.post(ctx, sub, e, payload)
	})
	if err != nil {
		webhookDeliveries.WithLabelValues("failed").Inc()
		d.recordFailure(ctx, sub, err.Error())
		return
	}

	webhookDeliveries.WithLabelValues("ok").Inc()
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, e alerts.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Settleline-Event", string(e.Kind))
	req.Header.Set("X-Settleline-Timestamp", fmt.Sprintf("%d", e.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Settleline-Signature", d.sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	d.breaker.RecordSuccess(sub.ID)
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("webhook status update failed", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, msg string) {
	d.breaker.RecordFailure(sub.ID)
	sub.LastError = msg
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("webhook status update failed", "subscription_id", sub.ID, "error", err)
	}
}

var _ alerts.Router = (*Dispatcher)(nil)

// MemoryStore is an in-memory subscription store for demo/development.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // tenantID|id
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func key(tenantID, id string) string { return tenantID + "|" + id }

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[key(sub.TenantID, sub.ID)] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[key(tenantID, id)]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[key(sub.TenantID, sub.ID)]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[key(sub.TenantID, sub.ID)] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[key(tenantID, id)]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(m.subs, key(tenantID, id))
	return nil
}

var _ Store = (*MemoryStore)(nil)
