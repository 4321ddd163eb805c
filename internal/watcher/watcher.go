// Package watcher escalates reconciliation exceptions that have gone stale.
//
// Open exceptions older than the tenant's staleness window are promoted to
// at least P2 and surfaced on the alert feed, so an analyst queue that went
// quiet still gets attention.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/settleline/recon/internal/alerts"
	"github.com/settleline/recon/internal/exception"
	"github.com/settleline/recon/internal/tenant"
)

// Config for the staleness sweep.
type Config struct {
	PollInterval time.Duration
	BatchSize    int // open exceptions examined per tenant per sweep
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Minute,
		BatchSize:    500,
	}
}

// Watcher periodically sweeps every tenant's open exceptions.
type Watcher struct {
	tenants tenant.Store
	excs    exception.Store
	router  alerts.Router
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	// Shutdown
	stop chan struct{}
	done chan struct{}
}

// New creates a staleness watcher. router may be nil.
func New(cfg Config, tenants tenant.Store, excs exception.Store, router alerts.Router, logger *slog.Logger) *Watcher {
	if router == nil {
		router = alerts.NopRouter{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Watcher{
		tenants: tenants,
		excs:    excs,
		router:  router,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("staleness watcher started",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize,
	)
	go w.pollLoop(ctx)
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("staleness sweep failed", "error", err)
			}
		}
	}
}

// SweepNow runs one sweep immediately, outside the poll schedule.
func (w *Watcher) SweepNow(ctx context.Context) error {
	return w.sweep(ctx)
}

// sweep examines every tenant's open exceptions once.
func (w *Watcher) sweep(ctx context.Context) error {
	tenants, err := w.tenants.List(ctx)
	if err != nil {
		return err
	}

	for _, t := range tenants {
		if t.Status != tenant.StatusActive {
			continue
		}
		if err := w.sweepTenant(ctx, t); err != nil {
			w.logger.Error("tenant sweep failed", "tenant_id", t.ID, "error", err)
		}
	}
	return nil
}

func (w *Watcher) sweepTenant(ctx context.Context, t *tenant.Tenant) error {
	settings := t.Settings.Normalize()
	cutoff := w.now().Add(-time.Duration(settings.StaleAfterHours) * time.Hour)

	open, err := w.excs.List(ctx, t.ID, exception.ListFilter{
		Status: exception.StatusOpen,
		Limit:  w.config.BatchSize,
	})
	if err != nil {
		return err
	}

	escalated := 0
	for _, e := range open {
		if e.CreatedAt.After(cutoff) {
			continue
		}
		promoted := exception.MoreSevere(e.Priority, exception.PriorityP2)
		if promoted == e.Priority {
			continue // already P2 or worse, escalate once
		}

		e.Priority = promoted
		e.UpdatedAt = w.now()
		if err := w.excs.Update(ctx, e); err != nil {
			w.logger.Error("stale escalation failed", "exception_id", e.ID, "error", err)
			continue
		}
		escalated++

		w.router.Send(ctx, alerts.Event{
			Kind:        alerts.KindExceptionStale,
			TenantID:    e.TenantID,
			Priority:    string(e.Priority),
			ExceptionID: e.ID,
			Message:     "exception open past staleness window",
			Timestamp:   w.now(),
		})
	}

	if escalated > 0 {
		w.logger.Info("stale exceptions escalated",
			"tenant_id", t.ID, "count", escalated, "cutoff", cutoff)
	}
	return nil
}
