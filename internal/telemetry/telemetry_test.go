package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCount(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Admission("admitted")
	m.Admission("admitted")
	m.Admission("capacity_exceeded")
	m.GiftUnlocked(2)
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()

	if got := testutil.ToFloat64(m.admissions.WithLabelValues("admitted")); got != 2 {
		t.Fatalf("admitted = %v", got)
	}
	if got := testutil.ToFloat64(m.giftUnlocks); got != 2 {
		t.Fatalf("gift unlocks = %v", got)
	}
	if got := testutil.ToFloat64(m.subscribers); got != 1 {
		t.Fatalf("subscribers = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Admission("admitted")
	m.CheckIn("checked_in")
	m.TxRetry("admit")
	m.EventDropped("queue_full")
	m.SubscriberAdded()
}

func TestSetupTracingNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "guestlist-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingWithEndpoint(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := SetupTracing(context.Background(), "guestlist-test", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
