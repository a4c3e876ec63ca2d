// Package metrics registers the bridge's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the bridge collectors. A nil *Metrics is a valid
// no-op recorder so tests can skip registration.
type Metrics struct {
	TransfersTotal   *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	SwapsTotal       *prometheus.CounterVec
	SignaturesTotal  prometheus.Counter
	SignatureRounds  prometheus.Histogram
	MessagesTotal    *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	RateLimitedTotal prometheus.Counter
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "transfers_total",
			Help:      "Bridge transfers by terminal status.",
		}, []string{"status"}),
		TransferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "transfer_duration_seconds",
			Help:      "Wall-clock duration of completed transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		SwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "swaps_total",
			Help:      "Atomic swaps by terminal status.",
		}, []string{"status"}),
		SignaturesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "signatures_collected_total",
			Help:      "Validator signatures accepted into collections.",
		}),
		SignatureRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "signature_round_seconds",
			Help:      "Duration of threshold signature rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "messages_total",
			Help:      "Cross-chain messages by outcome.",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "queue_depth",
			Help:      "Pending messages per destination chain.",
		}, []string{"chain"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "rate_limited_total",
			Help:      "Transfer requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.TransfersTotal,
		m.TransferDuration,
		m.SwapsTotal,
		m.SignaturesTotal,
		m.SignatureRounds,
		m.MessagesTotal,
		m.QueueDepth,
		m.RateLimitedTotal,
	)
	return m
}

// ObserveTransfer records a transfer outcome. Safe on a nil receiver.
func (m *Metrics) ObserveTransfer(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		m.TransferDuration.Observe(durationSeconds)
	}
}

// ObserveSwap records a swap outcome. Safe on a nil receiver.
func (m *Metrics) ObserveSwap(status string) {
	if m == nil {
		return
	}
	m.SwapsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimited counts a rejected request. Safe on a nil receiver.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// ObserveSignature counts an accepted signature. Safe on a nil receiver.
func (m *Metrics) ObserveSignature() {
	if m == nil {
		return
	}
	m.SignaturesTotal.Inc()
}

// ObserveMessage records a message outcome. Safe on a nil receiver.
func (m *Metrics) ObserveMessage(status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth updates a chain's pending gauge. Safe on a nil receiver.
func (m *Metrics) SetQueueDepth(chain string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(chain).Set(float64(depth))
}
