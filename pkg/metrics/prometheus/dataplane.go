package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meowith/meowith/pkg/metrics"
)

// DataplaneMetrics instruments a storage node's upload/download/delete
// orchestration. A nil *DataplaneMetrics is always safe to call methods
// on, so every dataplane.Service can carry one unconditionally.
type DataplaneMetrics struct {
	operationsTotal  *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
}

// NewDataplaneMetrics returns nil if metrics.InitRegistry was never
// called for this process.
func NewDataplaneMetrics() *DataplaneMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	return &DataplaneMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "meowith_dataplane_operations_total",
				Help: "Total number of upload/download/delete operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),
		operationSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "meowith_dataplane_operation_duration_seconds",
				Help: "Duration of upload/download/delete operations",
				Buckets: []float64{
					0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60,
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "meowith_dataplane_bytes_total",
				Help: "Total bytes uploaded or downloaded",
			},
			[]string{"direction"},
		),
	}
}

// ObserveOperation records an operation's outcome and duration.
func (m *DataplaneMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes records bytes moved in a given direction ("upload" or
// "download").
func (m *DataplaneMetrics) RecordBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}
