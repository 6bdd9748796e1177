package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks checkout attempts by outcome.
type CheckoutMetrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_requests_total",
		Help: "Checkout attempts partitioned by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "End-to-end checkout latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(requests, duration)
	return &CheckoutMetrics{requests: requests, duration: duration}
}

// Observe records one checkout call.
func (c *CheckoutMetrics) Observe(outcome string, elapsed time.Duration) {
	if c == nil || c.requests == nil {
		return
	}
	c.requests.WithLabelValues(normalizeLabel(outcome)).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// PaymentEventMetrics tracks reconciler deliveries.
type PaymentEventMetrics struct {
	events *prometheus.CounterVec
}

// NewPaymentEventMetrics registers the payment event counter on the provided registerer.
func NewPaymentEventMetrics(reg prometheus.Registerer) *PaymentEventMetrics {
	if reg == nil {
		return &PaymentEventMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Payment event deliveries partitioned by outcome and disposition.",
	}, []string{"outcome", "disposition"})
	reg.MustRegister(events)
	return &PaymentEventMetrics{events: events}
}

// Inc counts one delivery.
func (p *PaymentEventMetrics) Inc(outcome, disposition string) {
	if p == nil || p.events == nil {
		return
	}
	p.events.WithLabelValues(normalizeLabel(outcome), normalizeLabel(disposition)).Inc()
}

// HTTPMetrics tracks request counts and latency per route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP metrics on the provided registerer.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests partitioned by method, route and status.",
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(requests, duration)
	return &HTTPMetrics{requests: requests, duration: duration}
}

// Observe records one request.
func (h *HTTPMetrics) Observe(method, route, status string, elapsed time.Duration) {
	if h == nil || h.requests == nil {
		return
	}
	route = normalizeLabel(route)
	h.requests.WithLabelValues(method, route, status).Inc()
	h.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
