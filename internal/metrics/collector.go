// Package metrics provides Prometheus instrumentation for the broker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes as reported by the gateway.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Collector owns every metric the broker exports. All collectors register
// against the registry passed to NewCollector, so tests can use isolated
// registries.
type Collector struct {
	requestsTotal       *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	queueDepth      prometheus.Gauge
	admissionsTotal prometheus.Counter
	rejectionsTotal prometheus.Counter
	skippedTotal    prometheus.Counter

	generationDuration *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Name:      "requests_total",
			Help:      "Total generation requests by outcome",
		},
		[]string{"outcome"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting in the admission queue",
		},
	)

	c.admissionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broker",
			Name:      "admissions_total",
			Help:      "Tasks accepted into the admission queue",
		},
	)

	c.rejectionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broker",
			Name:      "rejections_total",
			Help:      "Requests shed because the admission queue was full",
		},
	)

	c.skippedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broker",
			Name:      "tasks_skipped_total",
			Help:      "Dequeued tasks skipped because their caller had already timed out",
		},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker",
			Name:      "generation_duration_seconds",
			Help:      "Engine generation duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"status"},
	)

	return c
}

// RequestFinished counts one gateway request with its final outcome.
func (c *Collector) RequestFinished(outcome string) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// TaskAdmitted records an enqueue and the resulting queue depth.
func (c *Collector) TaskAdmitted(depth int) {
	c.admissionsTotal.Inc()
	c.queueDepth.Set(float64(depth))
}

// TaskRejected records a request shed at admission.
func (c *Collector) TaskRejected() {
	c.rejectionsTotal.Inc()
}

// TaskDequeued records the queue depth after the worker took a task.
func (c *Collector) TaskDequeued(depth int) {
	c.queueDepth.Set(float64(depth))
}

// TaskSkipped records a task dropped at dequeue because it was cancelled.
func (c *Collector) TaskSkipped() {
	c.skippedTotal.Inc()
}

// ObserveGeneration records one engine call.
func (c *Collector) ObserveGeneration(elapsed time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.generationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}
