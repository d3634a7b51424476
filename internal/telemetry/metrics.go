package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	admissions    *prometheus.CounterVec
	checkIns      *prometheus.CounterVec
	giftUnlocks   prometheus.Counter
	txRetries     *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	subscribers   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestlist",
			Name:      "admissions_total",
			Help:      "Admission attempts by outcome.",
		}, []string{"outcome"}),
		checkIns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestlist",
			Name:      "checkins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		giftUnlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestlist",
			Name:      "gift_unlocks_total",
			Help:      "Gift rules transitioned to UNLOCKED.",
		}),
		txRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestlist",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a transient store error.",
		}, []string{"op"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestlist",
			Name:      "events_dropped_total",
			Help:      "Notification events dropped before delivery.",
		}, []string{"reason"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestlist",
			Name:      "watch_subscribers",
			Help:      "Live list subscriptions on this node.",
		}),
	}
}

func (m *Metrics) Admission(outcome string) {
	if m != nil {
		m.admissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CheckIn(outcome string) {
	if m != nil {
		m.checkIns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) GiftUnlocked(n int) {
	if m != nil && n > 0 {
		m.giftUnlocks.Add(float64(n))
	}
}

func (m *Metrics) TxRetry(op string) {
	if m != nil {
		m.txRetries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}
