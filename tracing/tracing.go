// Package tracing provides a thin StartTracing helper matching the call
// shape used throughout the teacher's netsync manager, backed by
// Prometheus histograms rather than an external span collector (headerd
// has no operational surface to ship spans to; see DESIGN.md).
package tracing

import (
	"context"
	"time"

	"github.com/bitcoin-sv/headerd/ulogger"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a tracing span.
type Option func(*options)

type options struct {
	histogram     prometheus.Histogram
	logger        ulogger.Logger
	debugMsg      string
	debugMsgArgs  []interface{}
	logOnComplete bool
}

// WithHistogram records the span's wall-clock duration, in seconds, into h
// when the span ends.
func WithHistogram(h prometheus.Histogram) Option {
	return func(o *options) { o.histogram = h }
}

// WithDebugLogMessage logs format/args at debug level when the span starts.
func WithDebugLogMessage(logger ulogger.Logger, format string, args ...interface{}) Option {
	return func(o *options) {
		o.logger = logger
		o.debugMsg = format
		o.debugMsgArgs = args
	}
}

// StartTracing begins a span named name. It returns the (possibly
// unmodified) context, a stat function reporting elapsed time so far, and a
// deferFn that must be called (typically via defer) to close the span.
func StartTracing(ctx context.Context, name string, opts ...Option) (context.Context, func() time.Duration, func()) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger != nil && o.debugMsg != "" {
		o.logger.Debugf(o.debugMsg, o.debugMsgArgs...)
	}

	start := time.Now()

	stat := func() time.Duration {
		return time.Since(start)
	}

	deferFn := func() {
		if o.histogram != nil {
			o.histogram.Observe(time.Since(start).Seconds())
		}
	}

	return ctx, stat, deferFn
}

// NewHistogram is a small helper taking the same options as the teacher's
// promauto usage in services/validator/metrics.go; unlike promauto, the
// histogram it returns is not registered.
func NewHistogram(namespace, name, help string, buckets []float64) prometheus.Histogram {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}
