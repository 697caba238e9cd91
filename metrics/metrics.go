// Package metrics provides Prometheus metrics for accessfs backend operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Byte transfer directions
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// OutcomeOK is the outcome label of a successful operation. Failures use the error kind name.
const OutcomeOK = "ok"

var (
	// Backend operation metrics
	BackendOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessfs_backend_ops_total",
			Help: "Total number of backend operations",
		},
		[]string{"scheme", "operation", "outcome"},
	)

	BackendOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessfs_backend_op_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme", "operation"},
	)

	BackendBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessfs_backend_bytes_total",
			Help: "Total number of bytes moved through readers and writers",
		},
		[]string{"scheme", "direction"}, // direction: "read", "write"
	)
)

// Operation describes one completed accessor call
type Operation struct {
	Scheme   string
	Op       string
	Path     string
	Duration time.Duration
	Outcome  string
}

// Transfer describes bytes moved by one reader or writer
type Transfer struct {
	Scheme    string
	Op        string
	Path      string
	Direction string
	Bytes     int64
}

// Recorder receives instrumentation events. Implementations may fail or panic;
// callers must never let that affect the instrumented operation.
type Recorder interface {
	RecordOperation(op Operation) error
	RecordTransfer(t Transfer) error
}

// PrometheusRecorder records events into the package level collectors
type PrometheusRecorder struct{}

// NewPrometheusRecorder returns the default Recorder
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{}
}

// RecordOperation counts the call and observes its duration. The path is not used as a label.
func (PrometheusRecorder) RecordOperation(op Operation) error {
	BackendOpsTotal.WithLabelValues(op.Scheme, op.Op, op.Outcome).Inc()
	BackendOpDuration.WithLabelValues(op.Scheme, op.Op).Observe(op.Duration.Seconds())
	return nil
}

// RecordTransfer adds the transferred bytes
func (PrometheusRecorder) RecordTransfer(t Transfer) error {
	if t.Bytes <= 0 {
		return nil
	}
	BackendBytesTotal.WithLabelValues(t.Scheme, t.Direction).Add(float64(t.Bytes))
	return nil
}

// Handler exposes the default registry for scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
