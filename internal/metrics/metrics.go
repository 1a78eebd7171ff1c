// Package metrics provides Prometheus collectors for module lifecycle,
// fallback dispatch and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
)

// Dispatch results.
const (
	ResultSuccess     = "success"
	ResultError       = "error"
	ResultRejected    = "rejected"
	ResultReverted    = "reverted"
	ResultInvalidMode = "invalid_mode"
)

// Recorder is the interface registry components record through.
type Recorder interface {
	RecordLifecycle(moduleType, op string, duration time.Duration, err error)
	RecordDispatch(mode string, duration time.Duration, err error)
	RecordHTTPRequest(route, method string, status int)
}

// Collector owns a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	lifecycleTotal   *prometheus.CounterVec
	lifecycleLatency *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
}

// NewCollector creates a collector. An empty namespace means "modules".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "modules"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "total",
			Help:      "Module install and uninstall operations",
		},
		[]string{"type", "op", "result"},
	)

	c.lifecycleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "duration_seconds",
			Help:      "Time taken by install and uninstall including the module hook",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
		[]string{"type", "op"},
	)

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Fallback dispatches by call mode and outcome",
		},
		[]string{"mode", "result"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time taken to relay a fallback call",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"mode"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	c.registry.MustRegister(
		c.lifecycleTotal,
		c.lifecycleLatency,
		c.dispatchTotal,
		c.dispatchLatency,
		c.httpRequests,
		collectors.NewGoCollector(),
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordLifecycle records one install or uninstall.
func (c *Collector) RecordLifecycle(moduleType, op string, duration time.Duration, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	c.lifecycleTotal.WithLabelValues(moduleType, op, result).Inc()
	c.lifecycleLatency.WithLabelValues(moduleType, op).Observe(duration.Seconds())
}

// RecordDispatch records one fallback dispatch.
func (c *Collector) RecordDispatch(mode string, duration time.Duration, err error) {
	c.dispatchTotal.WithLabelValues(mode, DispatchResult(err)).Inc()
	c.dispatchLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one HTTP request.
func (c *Collector) RecordHTTPRequest(route, method string, status int) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// DispatchResult classifies a dispatch error for the result label.
func DispatchResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case apperrors.IsNoFallbackHandler(err):
		return ResultRejected
	case apperrors.Is(err, apperrors.ErrInvalidCallMode):
		return ResultInvalidMode
	case apperrors.IsReverted(err):
		return ResultReverted
	default:
		return ResultError
	}
}

// NoOpCollector discards all metrics.
type NoOpCollector struct{}

func (NoOpCollector) RecordLifecycle(string, string, time.Duration, error) {}
func (NoOpCollector) RecordDispatch(string, time.Duration, error)          {}
func (NoOpCollector) RecordHTTPRequest(string, string, int)                {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = NoOpCollector{}
)
