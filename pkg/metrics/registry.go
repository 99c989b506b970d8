// Package metrics bootstraps the optional Prometheus registry a node or
// controller process exposes on pkg/config's MetricsConfig port. The
// registry lifecycle lives here so pkg/metrics/prometheus's collectors
// don't need to know whether metrics are enabled for this process.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide Prometheus registry. Safe to call
// more than once; later calls return the registry created by the first.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called for this
// process. Every collector constructor in pkg/metrics/prometheus checks
// this first and returns nil when false, so callers can unconditionally
// wire a *T into their dependency regardless of whether metrics are
// configured, at zero overhead when they are not.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil if InitRegistry
// was never called.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry's collected metrics in the Prometheus
// exposition format, or 404 if metrics were never enabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.HandlerFunc(http.NotFound)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
