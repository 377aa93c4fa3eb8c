package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts message outcomes by kind.
type Metrics struct {
	processed *prometheus.CounterVec
	ignored   *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emap_messages_processed_total",
			Help: "Messages fully applied and committed.",
		}, []string{"kind"}),
		ignored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emap_messages_ignored_total",
			Help: "Messages dropped by design, such as replays and cancellations for unseen events.",
		}, []string{"kind"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emap_messages_failed_total",
			Help: "Messages rolled back with an error, eligible for redelivery.",
		}, []string{"kind"}),
	}
}
