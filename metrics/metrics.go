// Package metrics holds the Prometheus collectors updated by the decision pipeline.
//
// Exposed at /metrics by the API server:
//   - agent_cycles_total{outcome}         decision cycles by outcome
//   - agent_cycle_duration_seconds        cycle latency
//   - agent_orders_total{kind,status}     orders submitted by role and exchange status
//   - agent_execution_warnings_total{kind} recoverable execution failures
//   - agent_ledger_open_trades            open entries after the last mutation
//   - agent_busy_rejections_total         messages refused while a cycle was running
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_cycles_total",
			Help: "Decision cycles by outcome",
		},
		[]string{"outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_cycle_duration_seconds",
			Help:    "Decision cycle latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_total",
			Help: "Orders submitted",
		},
		[]string{"kind", "status"},
	)

	warnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_execution_warnings_total",
			Help: "Recoverable execution failures",
		},
		[]string{"kind"},
	)

	openTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_ledger_open_trades",
			Help: "Open ledger entries",
		},
	)

	busyRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_busy_rejections_total",
			Help: "Messages refused because a cycle was in progress",
		},
	)
)

func init() {
	prometheus.MustRegister(cycles, cycleDuration, orders, warnings, openTrades, busyRejections)
}

// ObserveCycle records one finished cycle
func ObserveCycle(outcome string, elapsed time.Duration) {
	cycles.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(elapsed.Seconds())
}

// ObserveOrder records one submitted order
func ObserveOrder(kind, status string) {
	orders.WithLabelValues(kind, status).Inc()
}

// ObserveWarning records one downgraded execution failure
func ObserveWarning(kind string) {
	warnings.WithLabelValues(kind).Inc()
}

// SetOpenTrades sets the open-trades gauge
func SetOpenTrades(n int) {
	openTrades.Set(float64(n))
}

// ObserveBusy records a refused concurrent cycle
func ObserveBusy() {
	busyRejections.Inc()
}
