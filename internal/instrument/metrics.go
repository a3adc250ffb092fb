package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollout"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds every rollout metric.
type Metrics struct {
	// IntegrationCalls counts StreamService calls.
	// Labels: stream_type, op, status.
	IntegrationCalls *prometheus.CounterVec

	// IntegrationDuration measures StreamService call latency.
	// Labels: stream_type, op.
	IntegrationDuration *prometheus.HistogramVec

	// StorageOps counts var store calls.
	// Labels: op, status.
	StorageOps *prometheus.CounterVec

	// StorageDuration measures var store latency.
	// Labels: op.
	StorageDuration *prometheus.HistogramVec

	// FlowRuns counts finished flow runs.
	// Labels: flow, status.
	FlowRuns *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses a private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		IntegrationCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "calls_total",
			Help:      "StreamService calls by stream type, operation and status.",
		}, []string{"stream_type", "op", "status"}),
		IntegrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "call_duration_seconds",
			Help:      "StreamService call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stream_type", "op"}),
		StorageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "ops_total",
			Help:      "Var store operations by operation and status.",
		}, []string{"op", "status"}),
		StorageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Var store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		FlowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "flow_runs_total",
			Help:      "Finished flow runs by flow and status.",
		}, []string{"flow", "status"}),
	}
}

// ObserveFlowRun counts a finished flow run.
func (m *Metrics) ObserveFlowRun(flowID string, err error) {
	m.FlowRuns.WithLabelValues(flowID, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
