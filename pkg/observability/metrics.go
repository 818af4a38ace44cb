// Package observability exposes application metrics for operational
// alerting around degraded behavior.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics handles application metrics and monitoring. A nil *Metrics is
// valid and records nothing, which keeps tests and small tools quiet.
type Metrics struct {
	registry *prometheus.Registry

	opDuration       *prometheus.HistogramVec
	degradedRetrieve prometheus.Counter
	failOpenCommits  prometheus.Counter
	nliFallbacks     prometheus.Counter
	repairRetries    *prometheus.CounterVec
	reasonerFailures prometheus.Counter
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	const namespace = "memcore"

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		degradedRetrieve: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that completed with at least one search stage unavailable.",
		}),
		failOpenCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_commits_total",
			Help:      "Writes committed without a completed consistency check.",
		}),
		nliFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nli_fallback_total",
			Help:      "NLI classifications substituted with the Unrelated fallback.",
		}),
		repairRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_repair_retries_total",
			Help:      "Corrective retries after malformed model output.",
		}, []string{"operation"}),
		reasonerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoner_item_failures_total",
			Help:      "Relation/inference items dropped due to collaborator failures.",
		}),
	}
}

// Handler returns the scrape endpoint for this metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation records one core operation's duration and status.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.opDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordDegradedRetrieval counts a retrieval that lost a search stage.
func (m *Metrics) RecordDegradedRetrieval() {
	if m == nil {
		return
	}
	m.degradedRetrieve.Inc()
}

// RecordFailOpenCommit counts a write that bypassed the consistency check.
func (m *Metrics) RecordFailOpenCommit() {
	if m == nil {
		return
	}
	m.failOpenCommits.Inc()
}

// RecordNLIFallback counts classifications replaced by the fallback label.
func (m *Metrics) RecordNLIFallback(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nliFallbacks.Add(float64(n))
}

// RecordRepairRetry counts one corrective model retry.
func (m *Metrics) RecordRepairRetry(operation string) {
	if m == nil {
		return
	}
	m.repairRetries.WithLabelValues(operation).Inc()
}

// RecordReasonerFailure counts one dropped reasoning item.
func (m *Metrics) RecordReasonerFailure() {
	if m == nil {
		return
	}
	m.reasonerFailures.Inc()
}
