// Package metrics exposes prometheus instrumentation for the
// reconciliation and quota paths.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsProcessed  *prometheus.CounterVec
	ConsumeDecisions *prometheus.CounterVec
	TrialGrants      prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_events_processed_total",
			Help: "Provider events handled, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		ConsumeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_consume_decisions_total",
			Help: "Quota check-and-increment decisions.",
		}, []string{"decision"}),
		TrialGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterline_trial_grants_total",
			Help: "Trial subscriptions granted.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterline_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.ConsumeDecisions,
		m.TrialGrants,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordConsume(decision string) {
	if m == nil {
		return
	}
	m.ConsumeDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordTrialGrant() {
	if m == nil {
		return
	}
	m.TrialGrants.Inc()
}

// GinMiddleware records per-route request counts and latency.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
