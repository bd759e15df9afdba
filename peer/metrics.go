package peer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPeerBytesSent     prometheus.Counter
	prometheusPeerBytesReceived prometheus.Counter
	prometheusPeerMessagesSent  prometheus.Counter
	prometheusPeerMessagesRecv  prometheus.Counter
	prometheusPeerDisconnects   prometheus.Counter
)

var prometheusMetricsInitialised = false

func initPrometheusMetrics() {
	if prometheusMetricsInitialised {
		return
	}

	prometheusMetricsInitialised = true

	prometheusPeerBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent across all peers",
		},
	)

	prometheusPeerBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "bytes_received_total",
			Help:      "Bytes received across all peers",
		},
	)

	prometheusPeerMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "messages_sent_total",
			Help:      "Messages sent across all peers",
		},
	)

	prometheusPeerMessagesRecv = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "messages_received_total",
			Help:      "Messages received across all peers",
		},
	)

	prometheusPeerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "disconnects_total",
			Help:      "Number of peer disconnects",
		},
	)
}
