// Package metrics exposes pipeline counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

const namespace = "civic_pipeline"

// Collector holds every metric the pipeline records. Each Collector owns its
// registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	submissions       prometheus.Counter
	pipelineOutcomes  *prometheus.CounterVec
	pipelineDuration  prometheus.Histogram
	transitions       *prometheus.CounterVec
	collaboratorCalls *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	deadLetters       *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	hotspotRuns       *prometheus.CounterVec
	hotspotsActive    prometheus.Gauge
	configVersion     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

// NewCollector creates a new collector with process and Go runtime metrics registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		submissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "complaints_submitted_total",
			Help:      "Total number of accepted complaint submissions",
		}),
		pipelineOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Pipeline runs by terminal status",
		}, []string{"status"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed status transitions",
		}, []string{"from", "to"}),
		collaboratorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Collaborator calls by result",
		}, []string{"collaborator", "result"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collaborator_breaker_state",
			Help:      "Circuit breaker state per collaborator (0 closed, 1 half-open, 2 open)",
		}, []string{"collaborator"}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Collaborator calls that exhausted their retries",
		}, []string{"collaborator"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Side-effect events handed to the transport",
		}, []string{"type", "result"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the notifier queue was full",
		}),
		hotspotRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hotspot_runs_total",
			Help:      "Hotspot detection runs by result",
		}, []string{"result"}),
		hotspotsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hotspots_active",
			Help:      "Hotspots in ACTIVE status after the last run",
		}),
		configVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "department_config_version",
			Help:      "Version of the department mapping snapshot in use",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Instrument wraps next with request counting
func (c *Collector) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(c.httpRequests, next)
}

func (c *Collector) Submitted() { c.submissions.Inc() }

func (c *Collector) PipelineFinished(status string, took time.Duration) {
	c.pipelineOutcomes.WithLabelValues(status).Inc()
	c.pipelineDuration.Observe(took.Seconds())
}

func (c *Collector) Transition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) CollaboratorCall(collaborator string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.collaboratorCalls.WithLabelValues(collaborator, result).Inc()
}

// BreakerChanged matches resilience.StateListener
func (c *Collector) BreakerChanged(name string, from, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	c.breakerState.WithLabelValues(name).Set(v)
}

func (c *Collector) DeadLettered(collaborator string) {
	c.deadLetters.WithLabelValues(collaborator).Inc()
}

func (c *Collector) EventPublished(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.eventsPublished.WithLabelValues(eventType, result).Inc()
}

func (c *Collector) EventDropped() { c.eventsDropped.Inc() }

func (c *Collector) HotspotRun(err error, active int) {
	if err != nil {
		c.hotspotRuns.WithLabelValues("error").Inc()
		return
	}
	c.hotspotRuns.WithLabelValues("ok").Inc()
	c.hotspotsActive.Set(float64(active))
}

func (c *Collector) ConfigVersion(v int64) { c.configVersion.Set(float64(v)) }
