package netsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusNetsyncHandleHeadersBatchSize prometheus.Histogram
	prometheusNetsyncHandleHeadersDuration  prometheus.Histogram
	prometheusNetsyncHeadersRejected        prometheus.Counter
)

var prometheusMetricsInitialised = false

// initPrometheusMetrics mirrors
// prometheusLegacyNetsyncHandleTxMsgValidate's registration shape: a
// histogram per hot path plus a rejection counter, guarded so repeat
// construction of a Manager never double-registers a collector.
func initPrometheusMetrics() {
	if prometheusMetricsInitialised {
		return
	}

	prometheusMetricsInitialised = true

	prometheusNetsyncHandleHeadersBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "netsync",
			Name:      "handle_headers_batch_size",
			Help:      "Number of headers in each processed HEADERS message",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	prometheusNetsyncHandleHeadersDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "netsync",
			Name:      "handle_headers_duration_seconds",
			Help:      "Time spent processing one HEADERS message",
			Buckets:   prometheus.DefBuckets,
		},
	)

	prometheusNetsyncHeadersRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "headers_rejected_total",
			Help:      "Number of HEADERS batches rejected at any stage of the receipt pipeline",
		},
	)
}
