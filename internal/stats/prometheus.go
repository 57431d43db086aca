// Package stats provides the statistics facilities the execution core reports
// to: Prometheus metrics, a sqlite history and a fan-out.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"tensord/internal/backend"
)

var (
	inferRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tensord",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Inference requests handled by the backend, by outcome",
		},
		[]string{"model", "outcome"},
	)

	inferExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tensord",
			Subsystem: "inference",
			Name:      "executions_total",
			Help:      "Successful batched engine executions",
		},
		[]string{"model", "instance"},
	)

	inferBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tensord",
			Subsystem: "inference",
			Name:      "batch_size",
			Help:      "Total batch size per successful execution",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"model"},
	)

	inferComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tensord",
			Subsystem: "inference",
			Name:      "compute_duration_seconds",
			Help:      "Time spent inside the engine per execution",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"model"},
	)

	inferExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tensord",
			Subsystem: "inference",
			Name:      "exec_duration_seconds",
			Help:      "End-to-end execution time including marshalling",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(inferRequestsTotal, inferExecutionsTotal, inferBatchSize, inferComputeDuration, inferExecDuration)
}

// Prometheus reports one model's statistics to the default registry.
type Prometheus struct {
	model string
}

func NewPrometheus(model string) *Prometheus { return &Prometheus{model: model} }

func (p *Prometheus) ReportRequest(_ string, _ backend.Request, success bool, ts backend.Timestamps) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	inferRequestsTotal.WithLabelValues(p.model, outcome).Inc()
	if success {
		inferExecDuration.WithLabelValues(p.model).Observe(ts.ExecEnd.Sub(ts.ExecStart).Seconds())
	}
}

func (p *Prometheus) ReportBatch(instance string, batchSize int, ts backend.Timestamps) {
	inferExecutionsTotal.WithLabelValues(p.model, instance).Inc()
	inferBatchSize.WithLabelValues(p.model).Observe(float64(batchSize))
	inferComputeDuration.WithLabelValues(p.model).Observe(ts.ComputeEnd.Sub(ts.ComputeStart).Seconds())
}

// Forget drops every series of the model, e.g. after unload.
func (p *Prometheus) Forget() {
	labels := prometheus.Labels{"model": p.model}
	inferRequestsTotal.DeletePartialMatch(labels)
	inferExecutionsTotal.DeletePartialMatch(labels)
	inferBatchSize.DeletePartialMatch(labels)
	inferComputeDuration.DeletePartialMatch(labels)
	inferExecDuration.DeletePartialMatch(labels)
}
