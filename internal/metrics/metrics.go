// Package metrics provides Prometheus instrumentation for the reconciliation engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settleline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MatchesTotal counts match attempts by outcome level (l1..l4, none).
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "matches_total",
			Help:      "Total match attempts by outcome level.",
		},
		[]string{"level"},
	)

	// MatchConfidence observes the confidence score of successful matches.
	MatchConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "settleline",
		Name:      "match_confidence",
		Help:      "Confidence score distribution of successful matches.",
		Buckets:   []float64{40, 50, 60, 70, 80, 90, 95, 99, 100},
	})

	// ExceptionsTotal counts exceptions opened by reason and priority.
	ExceptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "exceptions_total",
			Help:      "Total exception cases opened by reason and priority.",
		},
		[]string{"reason", "priority"},
	)

	// LedgerEntriesTotal counts posted ledger entries by event type.
	LedgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "ledger_entries_total",
			Help:      "Total ledger entries posted by event type.",
		},
		[]string{"event_type"},
	)

	// AdjustmentsTotal counts adjustment workflow outcomes.
	AdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "adjustments_total",
			Help:      "Total adjustment operations by type and status.",
		},
		[]string{"type", "status"},
	)

	// VersionConflictsTotal counts optimistic-lock retries.
	VersionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "settleline",
		Name:      "version_conflicts_total",
		Help:      "Total optimistic concurrency conflicts on status transitions.",
	})

	// IdempotentReplaysTotal counts operations skipped by the idempotency guard.
	IdempotentReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "idempotent_replays_total",
			Help:      "Total operations skipped because the idempotency key was already claimed.",
		},
		[]string{"operation"},
	)

	// ReprocessedTotal counts transactions re-evaluated by reprocessing runs.
	ReprocessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "reprocessed_total",
			Help:      "Total transactions re-evaluated by reprocessing runs, by result.",
		},
		[]string{"result"},
	)

	// PipelineDuration observes end-to-end matching pipeline latency.
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "settleline",
		Name:      "pipeline_duration_seconds",
		Help:      "Time to run one transaction through the matching pipeline.",
		Buckets:   prometheus.DefBuckets,
	})

	// ActiveAlertClients tracks connected alert feed WebSocket clients.
	ActiveAlertClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settleline",
			Name:      "active_alert_clients",
			Help:      "Number of currently connected alert feed WebSocket clients.",
		},
	)

	// KafkaMessagesTotal counts consumed feed messages by result.
	KafkaMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "kafka_messages_total",
			Help:      "Total Kafka feed messages consumed, by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "settleline", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MatchesTotal,
		MatchConfidence,
		ExceptionsTotal,
		LedgerEntriesTotal,
		AdjustmentsTotal,
		VersionConflictsTotal,
		IdempotentReplaysTotal,
		ReprocessedTotal,
		PipelineDuration,
		ActiveAlertClients,
		KafkaMessagesTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
