package connmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusConnmgrPeersConnected    prometheus.Gauge
	prometheusConnmgrInboundConnected  prometheus.Gauge
	prometheusConnmgrOutboundConnected prometheus.Gauge
	prometheusConnmgrDiscouraged       prometheus.Counter
	prometheusConnmgrBanned            prometheus.Counter
	prometheusConnmgrEvicted           prometheus.Counter
	prometheusConnmgrPenaltiesApplied  prometheus.Counter
)

var prometheusMetricsInitialised = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialised {
		return
	}

	prometheusMetricsInitialised = true

	prometheusConnmgrPeersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connmgr",
			Name:      "peers_connected",
			Help:      "Total number of currently connected peers",
		},
	)

	prometheusConnmgrInboundConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connmgr",
			Name:      "inbound_connected",
			Help:      "Number of currently connected inbound peers",
		},
	)

	prometheusConnmgrOutboundConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connmgr",
			Name:      "outbound_connected",
			Help:      "Number of currently connected outbound peers",
		},
	)

	prometheusConnmgrDiscouraged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connmgr",
			Name:      "discouraged_total",
			Help:      "Number of addresses discouraged for crossing the misbehavior threshold",
		},
	)

	prometheusConnmgrBanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connmgr",
			Name:      "banned_total",
			Help:      "Number of explicit Ban calls",
		},
	)

	prometheusConnmgrEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connmgr",
			Name:      "evicted_total",
			Help:      "Number of inbound peers evicted to make room for a new connection",
		},
	)

	prometheusConnmgrPenaltiesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connmgr",
			Name:      "penalties_applied_total",
			Help:      "Number of misbehavior penalties applied across all peers",
		},
	)
}
