// Package metrics exposes the Orchestrator's internal counters and timers as
// Prometheus collectors, served behind an operator-enabled /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeaturesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autocoder_features_total",
			Help: "Current number of features by status",
		},
		[]string{"status"},
	)

	AgentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autocoder_agents_active",
			Help: "Number of worker agents currently spawned",
		},
	)

	WorkersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocoder_workers_spawned_total",
			Help: "Total number of worker agents spawned since startup",
		},
	)

	AgentCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocoder_agent_crashes_total",
			Help: "Total number of agents recovered after an unclean exit",
		},
	)

	AgentSalvagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autocoder_agent_salvages_total",
			Help: "Total number of crashed agents whose branch work was salvaged for verification",
		},
	)

	GatekeeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autocoder_gatekeeper_duration_seconds",
			Help:    "Time taken for one verify-and-merge pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	GatekeeperResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocoder_gatekeeper_results_total",
			Help: "Total number of gatekeeper verification outcomes by result",
		},
		[]string{"result"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autocoder_tick_duration_seconds",
			Help:    "Time taken for one orchestrator tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		FeaturesTotal,
		AgentsActive,
		WorkersSpawnedTotal,
		AgentCrashesTotal,
		AgentSalvagesTotal,
		GatekeeperDuration,
		GatekeeperResultsTotal,
		TickDuration,
	)
}

// Handler returns the HTTP handler that serves the registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an in-flight operation for later recording to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
