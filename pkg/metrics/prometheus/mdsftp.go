package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/metrics"
)

// NewPoolMetrics wires an MDSFTP connection pool's size into two
// GaugeFuncs. Returns without registering anything if metrics are
// disabled for this process.
func NewPoolMetrics(p *mdsftp.Pool) {
	if !metrics.IsEnabled() {
		return
	}
	reg := metrics.GetRegistry()

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_mdsftp_pool_peers",
		Help: "Number of distinct peers the MDSFTP pool holds a connection to",
	}, func() float64 { return float64(p.Stats().Peers) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_mdsftp_pool_connections",
		Help: "Number of open MDSFTP connections across all peers",
	}, func() float64 { return float64(p.Stats().Connections) })
}
