package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meowith/meowith/pkg/metrics"
	"github.com/meowith/meowith/pkg/storagemap"
)

// StoragemapMetrics exposes a controller's Registry as a set of gauges,
// scraped on demand rather than pushed on every heartbeat — the registry
// is already the source of truth, so there's nothing to double-book.
type StoragemapMetrics struct {
	registry *storagemap.Registry
}

// NewStoragemapMetrics returns nil if metrics.InitRegistry was never
// called for this process. The returned value registers two GaugeFuncs
// against reg scoped to the lifetime of the process; there is no Close,
// matching the rest of the cluster's long-lived singletons.
func NewStoragemapMetrics(reg *storagemap.Registry) *StoragemapMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	promReg := metrics.GetRegistry()
	m := &StoragemapMetrics{registry: reg}

	promauto.With(promReg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_storagemap_live_nodes",
		Help: "Number of storage nodes considered live",
	}, func() float64 { return float64(len(m.registry.LiveNodes())) })

	promauto.With(promReg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_storagemap_known_nodes",
		Help: "Number of storage nodes ever registered, live or not",
	}, func() float64 { return float64(len(m.registry.Snapshot())) })

	promauto.With(promReg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_storagemap_liveness_threshold_seconds",
		Help: "Current cluster-wide dead-node cutoff",
	}, func() float64 { return m.registry.LivenessThreshold().Seconds() })

	promauto.With(promReg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_storagemap_free_bytes_total",
		Help: "Sum of free space reported by every live storage node",
	}, func() float64 {
		var total uint64
		for _, n := range m.registry.LiveNodes() {
			total += n.FreeSpace()
		}
		return float64(total)
	})

	return m
}
