// Package metrics exposes Prometheus collectors for the risk monitor.
// Collectors are registered on the default registry and served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// evaluationCycles counts evaluation cycles by outcome.
	evaluationCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_evaluation_cycles_total",
		Help: "Evaluation cycles by outcome",
	}, []string{"outcome"})

	// evaluationDuration tracks committed cycle latency.
	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "risk_evaluation_cycle_duration_seconds",
		Help:    "Evaluation cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// studentsEvaluated counts per-student evaluations by result.
	studentsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_students_evaluated_total",
		Help: "Per-student evaluations by result",
	}, []string{"result"})

	// alertsEmitted counts alerts raised or refreshed by priority.
	alertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_alerts_total",
		Help: "Alerts by action and priority",
	}, []string{"action", "priority"})

	// alertDeliveries counts delivery attempts by channel and result.
	alertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_alert_deliveries_total",
		Help: "Alert delivery attempts by channel and result",
	}, []string{"channel", "result"})

	// populationRisk is the latest dashboard distribution.
	populationRisk = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "risk_population_students",
		Help: "Students per overall risk level in the latest dashboard",
	}, []string{"level"})

	// eventsPublished counts domain events by type.
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_events_published_total",
		Help: "Domain events published by type",
	}, []string{"event_type"})

	// eventHandlerDuration tracks event handler latency.
	eventHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_event_handler_duration_seconds",
		Help:    "Event handler duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type", "result"})

	// jobRuns counts scheduler job runs.
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_scheduler_job_runs_total",
		Help: "Scheduler job runs by job and result",
	}, []string{"job", "result"})

	// httpRequests tracks API latency.
	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveCycle records a finished evaluation cycle.
func ObserveCycle(evaluated, failed int, duration time.Duration, err error) {
	if err != nil {
		evaluationCycles.WithLabelValues("failed").Inc()
		return
	}
	evaluationCycles.WithLabelValues("committed").Inc()
	evaluationDuration.Observe(duration.Seconds())
	studentsEvaluated.WithLabelValues("success").Add(float64(evaluated))
	studentsEvaluated.WithLabelValues("failure").Add(float64(failed))
}

// AlertEmitted records a raised or refreshed alert.
func AlertEmitted(action, priority string) {
	alertsEmitted.WithLabelValues(action, priority).Inc()
}

// AlertDelivered records a delivery attempt.
func AlertDelivered(channel string, ok bool) {
	alertDeliveries.WithLabelValues(channel, result(ok)).Inc()
}

// SetPopulation updates the risk distribution gauges.
func SetPopulation(high, medium, low int) {
	populationRisk.WithLabelValues("high").Set(float64(high))
	populationRisk.WithLabelValues("medium").Set(float64(medium))
	populationRisk.WithLabelValues("low").Set(float64(low))
}

// EventPublished records a published domain event.
func EventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// EventHandled records an event handler execution.
func EventHandled(eventType string, duration time.Duration, ok bool) {
	eventHandlerDuration.WithLabelValues(eventType, result(ok)).Observe(duration.Seconds())
}

// JobRun records a scheduler job run.
func JobRun(job string, ok bool) {
	jobRuns.WithLabelValues(job, result(ok)).Inc()
}

// HTTPRequest records an API request.
func HTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, statusClass(status)).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
