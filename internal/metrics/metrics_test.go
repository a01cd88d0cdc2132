package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_observe_duration_seconds",
		Help:    "scratch histogram for a unit test",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if count := testutil.CollectAndCount(histogram); count != 1 {
		t.Errorf("expected one collected histogram metric, got %d", count)
	}
}

func TestCollectorsAreRegistered(t *testing.T) {
	FeaturesTotal.WithLabelValues("pending").Set(3)
	AgentsActive.Set(2)

	if got := testutil.ToFloat64(FeaturesTotal.WithLabelValues("pending")); got != 3 {
		t.Errorf("FeaturesTotal[pending] = %v, want 3", got)
	}
	if got := testutil.ToFloat64(AgentsActive); got != 2 {
		t.Errorf("AgentsActive = %v, want 2", got)
	}
}
