// Package middleware provides observability wrappers for the live engine:
// Prometheus metrics and OpenTelemetry tracing around callback dispatch and
// the context lifecycle.
package middleware

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/liveview-go/liveview/pkg/live"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "liveview").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for callback duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "liveview",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for the engine.
type metrics struct {
	callbacksTotal   *prometheus.CounterVec
	callbackDuration prometheus.Histogram
	patchesSent      prometheus.Counter
	activeContexts   prometheus.Gauge
	contextsTotal    prometheus.Counter
}

// globalMetrics is the singleton metrics instance, created on first use so
// repeated middleware construction does not double-register collectors.
var (
	globalMetrics     *metrics
	globalMetricsOnce sync.Once
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		callbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callbacks_total",
			Help:        "Total number of callback dispatches",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		callbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callback_duration_seconds",
			Help:        "Callback dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		patchesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "patches_sent_total",
			Help:        "Total number of patches enqueued for delivery",
			ConstLabels: config.ConstLabels,
		}),

		activeContexts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_contexts",
			Help:        "Number of live contexts currently in the directory",
			ConstLabels: config.ConstLabels,
		}),

		contextsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "contexts_total",
			Help:        "Total number of live contexts published",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func getMetrics(opts []MetricsOption) *metrics {
	globalMetricsOnce.Do(func() {
		config := defaultMetricsConfig()
		for _, opt := range opts {
			opt(&config)
		}
		globalMetrics = initMetrics(config)
	})
	return globalMetrics
}

// Prometheus returns callback middleware recording dispatch counts and
// latency.
func Prometheus(opts ...MetricsOption) live.CallbackMiddleware {
	m := getMetrics(opts)

	return func(next live.CallbackHandler) live.CallbackHandler {
		return func(inv *live.Invocation) error {
			start := time.Now()
			err := next(inv)
			m.callbackDuration.Observe(time.Since(start).Seconds())
			m.callbacksTotal.WithLabelValues(dispatchStatus(err)).Inc()
			return err
		}
	}
}

// InstrumentConfig installs lifecycle and patch hooks on an engine config,
// wrapping any hooks already present.
func InstrumentConfig(cfg *live.Config, opts ...MetricsOption) {
	m := getMetrics(opts)

	prevCreate := cfg.OnContextCreate
	cfg.OnContextCreate = func(c *live.Context) {
		m.activeContexts.Inc()
		m.contextsTotal.Inc()
		if prevCreate != nil {
			prevCreate(c)
		}
	}

	prevClose := cfg.OnContextClose
	cfg.OnContextClose = func(c *live.Context) {
		m.activeContexts.Dec()
		if prevClose != nil {
			prevClose(c)
		}
	}

	prevPatches := cfg.OnPatches
	cfg.OnPatches = func(count int) {
		m.patchesSent.Add(float64(count))
		if prevPatches != nil {
			prevPatches(count)
		}
	}
}

func dispatchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, live.ErrCallbackNotFound):
		return "not_found"
	case errors.Is(err, live.ErrContextClosed):
		return "closed"
	default:
		return "error"
	}
}
