package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PostingsTotal counts posting operations by source.
	PostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settleline",
			Name:      "ledger_postings_total",
			Help:      "Total posting operations by source.",
		},
		[]string{"source"},
	)

	// PostingDuration observes posting latency by source.
	PostingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settleline",
			Name:      "ledger_posting_duration_seconds",
			Help:      "Posting duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		PostingsTotal,
		PostingDuration,
	)
}

// observePosting increments the posting counter and returns a function to observe duration.
func observePosting(source string) func() {
	PostingsTotal.WithLabelValues(source).Inc()
	start := time.Now()
	return func() {
		PostingDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}
