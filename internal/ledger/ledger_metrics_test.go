package ledger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, source string) float64 {
	t.Helper()
	counter, err := PostingsTotal.GetMetricWithLabelValues(source)
	if err != nil {
		t.Fatalf("counter lookup failed: %v", err)
	}
	m := &dto.Metric{}
	_ = counter.Write(m)
	return m.Counter.GetValue()
}

func TestObservePosting(t *testing.T) {
	PostingsTotal.Reset()
	PostingDuration.Reset()

	done := observePosting("match")
	done()

	if got := counterValue(t, "match"); got != 1.0 {
		t.Errorf("postings counter = %f, want 1", got)
	}

	ch := make(chan prometheus.Metric, 10)
	PostingDuration.Collect(ch)
	close(ch)

	var samples uint64
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil {
			samples += m.Histogram.GetSampleCount()
		}
	}
	if samples != 1 {
		t.Errorf("duration histogram samples = %d, want 1", samples)
	}
}
