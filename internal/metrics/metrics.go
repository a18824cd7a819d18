// Package metrics exposes rule, load and maintenance counters to Prometheus.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests can build as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	ruleEvaluations *prometheus.CounterVec
	ruleDuration    *prometheus.HistogramVec
	persistFailures prometheus.Counter
	loads           *prometheus.CounterVec
	maintenance     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New registers every collector under namespace.
func New(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by table and outcome.",
		}, []string{"table", "status"}),
		ruleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_duration_seconds",
			Help:      "Wall time of one rule evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"check_type"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_persist_failures_total",
			Help:      "Outcomes that could not be written to quality_metrics.",
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_recorded_total",
			Help:      "Load history entries by table and status.",
		}, []string{"table", "status"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_objects_total",
			Help:      "Objects refreshed or analyzed, by operation and result.",
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	r.registry.MustRegister(
		r.ruleEvaluations,
		r.ruleDuration,
		r.persistFailures,
		r.loads,
		r.maintenance,
		r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveRule(table, checkType, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.ruleEvaluations.WithLabelValues(table, status).Inc()
	r.ruleDuration.WithLabelValues(checkType).Observe(d.Seconds())
}

func (r *Recorder) PersistFailed() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

func (r *Recorder) ObserveLoad(table, status string) {
	if r == nil {
		return
	}
	r.loads.WithLabelValues(table, status).Inc()
}

// ObserveMaintenance counts one object; result is "ok" or "failed".
func (r *Recorder) ObserveMaintenance(op, result string) {
	if r == nil {
		return
	}
	r.maintenance.WithLabelValues(op, result).Inc()
}

func (r *Recorder) ObserveRequest(route, code string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, code).Inc()
}
