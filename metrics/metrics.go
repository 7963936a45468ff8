// Package metrics exposes swap counters and latencies in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "faceswap"

// OutcomeSuccess labels a swap that produced a result.
const OutcomeSuccess = "success"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	swaps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	retries  *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// New registers every collector, including the Go runtime and process ones.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Completed swaps by provider and outcome (success or error kind).",
		}, []string{"provider", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "Wall time from submission to a local result or failure.",
			Buckets:   []float64{1, 3, 6, 10, 20, 30, 60, 90, 120, 180, 240},
		}, []string{"provider"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "swaps_in_flight",
			Help:      "Swaps currently being processed.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resubmissions_total",
			Help:      "Fresh resubmissions after a transport failure or timeout.",
		}, []string{"provider"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.swaps, m.duration, m.inflight, m.retries, m.webhooks,
	)
	return m
}

// SwapStarted marks a swap as in flight.
func (m *Metrics) SwapStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// SwapFinished records the outcome of a swap started with SwapStarted.
func (m *Metrics) SwapFinished(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.swaps.WithLabelValues(provider, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Resubmitted counts one resubmission.
func (m *Metrics) Resubmitted(provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider).Inc()
}

// WebhookDelivered counts one finished delivery attempt sequence.
func (m *Metrics) WebhookDelivered(ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.webhooks.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
