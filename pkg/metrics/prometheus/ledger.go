package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/metrics"
)

// NewLedgerMetrics wires a node's fragment ledger capacity counters into
// two GaugeFuncs, sampled from the ledger at scrape time rather than
// pushed on every mutation. Does nothing if metrics are disabled for this
// process.
func NewLedgerMetrics(l *ledger.Ledger) {
	if !metrics.IsEnabled() {
		return
	}
	reg := metrics.GetRegistry()

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_ledger_used_bytes",
		Help: "Bytes currently committed or reserved in the local fragment ledger",
	}, func() float64 { return float64(l.UsedSpace()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meowith_ledger_available_bytes",
		Help: "Bytes still available to reserve in the local fragment ledger",
	}, func() float64 { return float64(l.AvailableSpace()) })
}
