package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the registry's Prometheus collectors.
type Metrics struct {
	EventsRouted *prometheus.CounterVec
	Rejected     prometheus.Counter
	Fills        prometheus.Counter
	FilledVolume prometheus.Counter
	Books        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchbook",
			Name:      "events_routed_total",
			Help:      "Feed events accepted by the registry, by kind.",
		}, []string{"kind"}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "matchbook",
			Name:      "operations_rejected_total",
			Help:      "Book operations discarded as invariant violations.",
		}),
		Fills: f.NewCounter(prometheus.CounterOpts{
			Namespace: "matchbook",
			Name:      "fills_total",
			Help:      "Executions between an aggressor and a resting order.",
		}),
		FilledVolume: f.NewCounter(prometheus.CounterOpts{
			Namespace: "matchbook",
			Name:      "filled_volume_total",
			Help:      "Volume traded across all books.",
		}),
		Books: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "matchbook",
			Name:      "books",
			Help:      "Books created so far.",
		}),
	}
}
