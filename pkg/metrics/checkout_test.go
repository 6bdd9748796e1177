package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCheckoutMetricsCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)
	m.Observe("created", 20*time.Millisecond)
	m.Observe("created", 10*time.Millisecond)
	m.Observe("replayed", time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_requests_total", "outcome", "created"); err != nil || got != 2 {
		t.Fatalf("expected created=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_requests_total", "outcome", "replayed"); err != nil || got != 1 {
		t.Fatalf("expected replayed=1, got %f err=%v", got, err)
	}
	mf := findMetricFamily(mfs, "checkout_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleCount() != 3 {
		t.Fatalf("expected 3 duration samples")
	}
}

func TestPaymentEventMetricsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentEventMetrics(reg)
	m.Inc("succeeded", "applied")
	m.Inc("succeeded", "duplicate")
	m.Inc("", "rejected")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "payment_events_total", "disposition", "duplicate"); err != nil || got != 1 {
		t.Fatalf("expected duplicate=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "payment_events_total", "outcome", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unknown outcome=1, got %f err=%v", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var c *CheckoutMetrics
	c.Observe("created", time.Second)
	var p *PaymentEventMetrics
	p.Inc("failed", "applied")
	NewHTTPMetrics(nil).Observe("GET", "/v1/cart/{id}", "200", time.Millisecond)
}
