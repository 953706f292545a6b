// Package metrics exposes Prometheus metrics for the coordinator, the grader
// and the provider client on a dedicated registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rewired-gh/cornerwatch/internal/models"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithCycleBuckets sets the histogram buckets for cycle durations, in seconds.
func WithCycleBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.cycleBuckets = buckets
		}
	}
}

// Manager owns the registry and every collector. It implements the
// coordinator's and the grader's recorder interfaces.
type Manager struct {
	namespace    string
	cycleBuckets []float64
	registry     *prometheus.Registry

	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	fixturesMonitored prometheus.Gauge
	alertsSent        *prometheus.CounterVec
	fixtureFailures   *prometheus.CounterVec
	pendingRollbacks  prometheus.Gauge

	settlements   *prometheus.CounterVec
	pendingAlerts prometheus.Gauge

	feedRequests *prometheus.CounterVec
}

// NewManager creates a Manager on a fresh registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:    "cornerwatch",
		cycleBuckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		registry:     prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Poll cycles by outcome",
	}, []string{"outcome"})

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Poll cycle duration",
		Buckets:   m.cycleBuckets,
	})

	m.fixturesMonitored = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "fixtures_monitored",
		Help:      "Fixtures inside the monitoring stage",
	})

	m.alertsSent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered by tier",
	}, []string{"tier"})

	m.fixtureFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "fixture_failures_total",
		Help:      "Per-fixture failures by stage and error kind",
	}, []string{"stage", "kind"})

	m.pendingRollbacks = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "monitor",
		Name:      "pending_rollbacks",
		Help:      "Recorded alerts whose notification failed and whose row is not yet removed",
	})

	m.settlements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "grader",
		Name:      "settlements_total",
		Help:      "Settled alerts by tier and result",
	}, []string{"tier", "result"})

	m.pendingAlerts = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "grader",
		Name:      "pending_alerts",
		Help:      "Alerts left unsettled by the last grading pass",
	})

	m.feedRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "feed",
		Name:      "requests_total",
		Help:      "Provider requests by endpoint and error kind",
	}, []string{"endpoint", "kind"})
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) CycleCompleted(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Manager) FixturesMonitored(n int) {
	m.fixturesMonitored.Set(float64(n))
}

func (m *Manager) AlertSent(tier models.Tier) {
	m.alertsSent.WithLabelValues(string(tier)).Inc()
}

func (m *Manager) FixtureFailed(stage string, err error) {
	m.fixtureFailures.WithLabelValues(stage, models.ErrorKind(err)).Inc()
}

func (m *Manager) PendingRollbacks(n int) {
	m.pendingRollbacks.Set(float64(n))
}

func (m *Manager) Settled(tier models.Tier, result models.Result) {
	m.settlements.WithLabelValues(string(tier), string(result)).Inc()
}

func (m *Manager) PendingAlerts(n int) {
	m.pendingAlerts.Set(float64(n))
}

// ObserveFeed counts one provider request. It matches feed.Observer.
func (m *Manager) ObserveFeed(endpoint string, err error) {
	m.feedRequests.WithLabelValues(endpoint, models.ErrorKind(err)).Inc()
}
