// Package metrics holds the engine's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hybridbook"

// Metrics is registered against one registry so tests and multiple engines
// in one process do not collide.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	Swaps           *prometheus.CounterVec
	FilledVolume    *prometheus.CounterVec
	Refunds         *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	JournalSeq      prometheus.Gauge
	OutboxRelayed   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Resting orders placed",
		}, []string{"pool", "side"}),
		OrdersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Resting orders cancelled",
		}, []string{"pool"}),
		Swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "total",
			Help:      "Swaps executed by route (book, curve, hybrid)",
		}, []string{"pool", "side", "route"}),
		FilledVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "filled_base_total",
			Help:      "Base amount filled per venue, in whole units",
		}, []string{"pool", "venue"}),
		Refunds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "improvement_total",
			Help:      "Price improvement outcomes (refund or dust)",
		}, []string{"pool", "outcome"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "errors_total",
			Help:      "Rejected commands by error code",
		}, []string{"op", "code"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Command latency including journal append",
			Buckets:   prometheus.ExponentialBuckets(5e-6, 4, 10),
		}, []string{"op"}),
		JournalSeq: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "last_seq",
			Help:      "Last committed journal sequence",
		}),
		OutboxRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "relayed_total",
			Help:      "Settlement outbox relay attempts by result",
		}, []string{"result"}),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveCommand records latency and, when err is non-nil, its code.
func (m *Metrics) ObserveCommand(op string, start time.Time, code string) {
	m.CommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if code != "" {
		m.Errors.WithLabelValues(op, code).Inc()
	}
}
