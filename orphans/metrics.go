package orphans

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusOrphansSize     prometheus.Gauge
	prometheusOrphansAdmitted prometheus.Counter
	prometheusOrphansRejected prometheus.Counter
	prometheusOrphansExpired  prometheus.Counter
	prometheusOrphansEvicted  prometheus.Counter
	prometheusOrphansCascaded prometheus.Counter
)

var prometheusMetricsInitialised = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialised {
		return
	}

	prometheusMetricsInitialised = true

	prometheusOrphansSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orphans",
			Name:      "pool_size",
			Help:      "Current number of headers held in the orphan pool",
		},
	)

	prometheusOrphansAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orphans",
			Name:      "admitted_total",
			Help:      "Number of headers admitted to the orphan pool",
		},
	)

	prometheusOrphansRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orphans",
			Name:      "rejected_total",
			Help:      "Number of headers rejected for exceeding the per-peer orphan cap",
		},
	)

	prometheusOrphansExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orphans",
			Name:      "expired_total",
			Help:      "Number of orphan headers expired by TTL",
		},
	)

	prometheusOrphansEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orphans",
			Name:      "evicted_total",
			Help:      "Number of orphan headers evicted to make room under the pool cap",
		},
	)

	prometheusOrphansCascaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orphans",
			Name:      "cascaded_total",
			Help:      "Number of orphan headers re-submitted after their parent was accepted",
		},
	)
}
