// Package metrics exposes Prometheus instruments for reconciliation and discovery
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcpdeploy"

// Poll results
const (
	PollUnchanged = "unchanged"
	PollChanged   = "changed"
	PollFailed    = "failed"
	PollSkipped   = "skipped"
)

// Metrics holds the reconciler, scheduler and discovery instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	discoveries   *prometheus.CounterVec
	roundDuration prometheus.Histogram
	polled        prometheus.Gauge
}

// New registers the instruments with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Deployment status polls by result",
		}, []string{"result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Persisted deployment status transitions by target status",
		}, []string{"to"}),
		discoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_discoveries_total",
			Help:      "Tool discovery attempts by outcome",
		}, []string{"status"}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_round_duration_seconds",
			Help:      "Duration of one reconciliation round",
			Buckets:   prometheus.DefBuckets,
		}),
		polled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_working_set",
			Help:      "Records selected for polling in the last round",
		}),
	}
}

func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveDiscovery(status string) {
	if m == nil {
		return
	}
	m.discoveries.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRound(d time.Duration, workingSet int) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
	m.polled.Set(float64(workingSet))
}
