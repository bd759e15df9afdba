package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusRelayPendingPeers prometheus.Gauge
	prometheusRelayQueueFlushed prometheus.Counter
	prometheusRelayAnnounced    prometheus.Counter
)

var prometheusMetricsInitialised = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialised {
		return
	}

	prometheusMetricsInitialised = true

	prometheusRelayPendingPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "pending_peers",
			Help:      "Number of peers with a non-empty pending INV queue",
		},
	)

	prometheusRelayQueueFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "queue_flushed_total",
			Help:      "Number of inventory hashes sent across all flush cycles",
		},
	)

	prometheusRelayAnnounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "announced_total",
			Help:      "Number of immediate block announcements relayed",
		},
	)
}
