package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics registry and standard meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec

	RecordsWritten prometheus.Counter
	BytesWritten   prometheus.Counter
	WriteFailures  *prometheus.CounterVec
	QuotaBytes     prometheus.Gauge
	UsageBytes     prometheus.Gauge
	Running        prometheus.Gauge
}

// NewMetrics creates a custom Prometheus registry with the standard quotafill metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotafill_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotafill_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotafill_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotafill_http_requests_total",
		Help: "Total number of dashboard HTTP requests.",
	}, []string{"path", "code"})

	recordsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quotafill_records_written_total",
		Help: "Records committed to the record store.",
	})

	bytesWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quotafill_bytes_written_total",
		Help: "Payload bytes committed to the record store.",
	})

	writeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotafill_write_failures_total",
		Help: "Writes that ended a fill run.",
	}, []string{"reason"})

	quotaBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quotafill_quota_bytes",
		Help: "Total capacity reported by the last quota estimate.",
	})

	usageBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quotafill_usage_bytes",
		Help: "Used capacity reported by the last quota estimate.",
	})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quotafill_running",
		Help: "1 while a fill run is active.",
	})

	reg.MustRegister(opDuration, opTotal, errorsTotal, httpRequests,
		recordsWritten, bytesWritten, writeFailures, quotaBytes, usageBytes, running)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		ErrorsTotal:       errorsTotal,
		HTTPRequests:      httpRequests,
		RecordsWritten:    recordsWritten,
		BytesWritten:      bytesWritten,
		WriteFailures:     writeFailures,
		QuotaBytes:        quotaBytes,
		UsageBytes:        usageBytes,
		Running:           running,
	}
}
