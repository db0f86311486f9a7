package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricAuditAppendsTotal     = "audit_appends_total"
	MetricAuditAppendDuration   = "audit_append_duration_seconds"
	MetricAuditLastSequence     = "audit_last_sequence"
	MetricAuditQueueDepth       = "audit_queue_depth"
	MetricAuditDispatchRejected = "audit_dispatch_rejected_total"
)

// Append outcomes used as the "outcome" label
const (
	OutcomeSuccess         = "success"
	OutcomeSinkUnavailable = "sink_unavailable"
	OutcomeTimeout         = "timeout"
	OutcomeMalformed       = "malformed"
)

// Metrics collects recorder and dispatcher metrics.
type Metrics interface {
	ObserveAppend(outcome string, duration time.Duration)
	SetLastSequence(seq int64)
	SetQueueDepth(depth int)
	IncDispatchRejected(reason string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveAppend(string, time.Duration) {}
func (NopMetrics) SetLastSequence(int64)               {}
func (NopMetrics) SetQueueDepth(int)                   {}
func (NopMetrics) IncDispatchRejected(string)          {}

// PrometheusMetrics implements Metrics with Prometheus collectors.
// The collectors are not registered; call Register.
type PrometheusMetrics struct {
	appendsTotal     *prometheus.CounterVec
	appendDuration   *prometheus.HistogramVec
	lastSequence     prometheus.Gauge
	queueDepth       prometheus.Gauge
	dispatchRejected *prometheus.CounterVec
}

// NewPrometheusMetrics creates all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditAppendsTotal,
				Help: "Total number of audit sink appends by outcome",
			},
			[]string{"outcome"},
		),
		appendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricAuditAppendDuration,
				Help:    "Time spent inside the recorder critical section, in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"outcome"},
		),
		lastSequence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricAuditLastSequence,
				Help: "Sequence number of the last accepted audit record",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricAuditQueueDepth,
				Help: "Audit events waiting in the dispatcher queue",
			},
		),
		dispatchRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditDispatchRejected,
				Help: "Audit events the dispatcher refused to enqueue, by reason",
			},
			[]string{"reason"},
		),
	}
}

// Collectors returns every collector owned by m
func (m *PrometheusMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.appendsTotal,
		m.appendDuration,
		m.lastSequence,
		m.queueDepth,
		m.dispatchRejected,
	}
}

// Register registers all metrics with the given registry.
func (m *PrometheusMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *PrometheusMetrics) ObserveAppend(outcome string, duration time.Duration) {
	m.appendsTotal.WithLabelValues(outcome).Inc()
	m.appendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) SetLastSequence(seq int64) {
	m.lastSequence.Set(float64(seq))
}

func (m *PrometheusMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PrometheusMetrics) IncDispatchRejected(reason string) {
	m.dispatchRejected.WithLabelValues(reason).Inc()
}
