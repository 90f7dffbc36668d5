package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	contractMetricsOnce sync.Once
	contractRegistry    *ContractMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record gateway
// request activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peleon",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peleon",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peleon",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peleon",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	method = labelOrUnknown(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), reason).Inc()
}

// ContractMetrics tracks contract calls and the remote intents they record.
type ContractMetrics struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	intents     *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	paused      prometheus.Gauge
	dispatchLag prometheus.Histogram
}

// Contract returns the lazily-initialised contract metrics registry.
func Contract() *ContractMetrics {
	contractMetricsOnce.Do(func() {
		contractRegistry = &ContractMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "calls_total",
				Help:      "Contract calls segmented by method and error kind (empty on success).",
			}, []string{"method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for contract calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			intents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "intents_total",
				Help:      "Remote intents segmented by kind and status transition.",
			}, []string{"kind", "status"}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "dispatch_queue_depth",
				Help:      "Intents waiting for the dispatcher.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "paused",
				Help:      "Indicates whether the contract is paused (1) or active (0).",
			}),
			dispatchLag: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "peleon",
				Subsystem: "contract",
				Name:      "dispatch_lag_seconds",
				Help:      "Time between intent recording and hand-over to the remote contract.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			}),
		}
		prometheus.MustRegister(
			contractRegistry.calls,
			contractRegistry.latency,
			contractRegistry.intents,
			contractRegistry.queueDepth,
			contractRegistry.paused,
			contractRegistry.dispatchLag,
		)
	})
	return contractRegistry
}

// ObserveCall records one contract call and its error kind.
func (m *ContractMetrics) ObserveCall(method, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	method = labelOrUnknown(method)
	m.calls.WithLabelValues(method, kind).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordIntent counts an intent entering status.
func (m *ContractMetrics) RecordIntent(kind, status string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(status)).Inc()
}

// SetQueueDepth publishes the dispatcher backlog.
func (m *ContractMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetPaused toggles the paused gauge.
func (m *ContractMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// ObserveDispatchLag records how long an intent waited before hand-over.
func (m *ContractMetrics) ObserveDispatchLag(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.dispatchLag.Observe(d.Seconds())
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
