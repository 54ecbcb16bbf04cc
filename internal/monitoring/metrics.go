// Package monitoring holds the Prometheus collectors and the retention
// sweeper.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formguard"

// Metrics groups the service collectors on a private registry. All methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	submissions   *prometheus.CounterVec
	scores        prometheus.Histogram
	reasons       *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifyResults *prometheus.CounterVec
	notifyDropped prometheus.Counter
	swept         *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by pipeline outcome.",
		}, []string{"outcome"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_score",
			Help:      "Risk scores of scored submissions.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 15},
		}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_reasons_total",
			Help:      "Reason tags attached to scored submissions.",
		}, []string{"tag"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts that passed the dedupe gate, by kind.",
		}, []string{"kind"}),
		notifyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		}, []string{"result"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_rows_total",
			Help:      "Rows removed by the retention sweep, by table.",
		}, []string{"table"}),
	}
	m.registry.MustRegister(
		m.submissions, m.scores, m.reasons, m.alerts, m.notifyResults, m.notifyDropped, m.swept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSubmission records a pipeline outcome. Scores and reasons are only
// recorded for scored submissions.
func (m *Metrics) ObserveSubmission(outcome string, scored bool, score int, tags []string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
	if !scored {
		return
	}
	m.scores.Observe(float64(score))
	for _, tag := range tags {
		m.reasons.WithLabelValues(tag).Inc()
	}
}

// AlertSent counts an alert of kind that passed the dedupe gate.
func (m *Metrics) AlertSent(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

// NotifyResult counts one delivery attempt chain.
func (m *Metrics) NotifyResult(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifyResults.WithLabelValues(result).Inc()
}

// NotifyDropped counts a notification rejected by a full queue.
func (m *Metrics) NotifyDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

// Swept adds rows removed from table.
func (m *Metrics) Swept(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(table).Add(float64(n))
}
