// Package metrics exposes per-operation Prometheus metrics for a mount.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
}

// Collector records operation counts, latencies and injected delays.
type Collector struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	injected    *prometheus.HistogramVec
	openHandles prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Namespace: "slowpokefs"}
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "operations_total",
			Help:        "Filesystem operations handled, by result.",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "class", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "operation_duration_seconds",
			Help:        "Time spent in the real filesystem call, excluding injected delay.",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		injected: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "injected_delay_seconds",
			Help:        "Artificial delay added before each operation.",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 2, 3, 4, 5, 10},
		}, []string{"class"}),
		openHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "open_handles",
			Help:        "File and directory handles currently open.",
			ConstLabels: config.ConstLabels,
		}),
	}

	for _, col := range []prometheus.Collector{c.operations, c.duration, c.injected, c.openHandles} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// ObserveOperation records one completed operation.
func (c *Collector) ObserveOperation(op string, class types.OpClass, injected, elapsed time.Duration, err error) {
	c.operations.WithLabelValues(op, class.String(), Result(err)).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	c.injected.WithLabelValues(class.String()).Observe(injected.Seconds())
}

// SetOpenHandles updates the open handle gauge.
func (c *Collector) SetOpenHandles(n int) {
	c.openHandles.Set(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Result labels an operation outcome: "ok" or the lowercase errno name.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name := errnoName(errno); name != "" {
			return name
		}
	}
	return "error"
}

func errnoName(e syscall.Errno) string {
	switch e {
	case syscall.ENOENT:
		return "enoent"
	case syscall.EACCES:
		return "eacces"
	case syscall.EPERM:
		return "eperm"
	case syscall.EEXIST:
		return "eexist"
	case syscall.ENOTDIR:
		return "enotdir"
	case syscall.EISDIR:
		return "eisdir"
	case syscall.ENOTEMPTY:
		return "enotempty"
	case syscall.EBADF:
		return "ebadf"
	case syscall.ENAMETOOLONG:
		return "enametoolong"
	case syscall.EMFILE:
		return "emfile"
	case syscall.EINVAL:
		return "einval"
	case syscall.EIO:
		return "eio"
	}
	return ""
}
