// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lra/circuit"
	"lra/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	duplicatesTotal *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec

	// Work metrics
	workTotal    *prometheus.CounterVec
	workDuration *prometheus.HistogramVec

	// Status metrics
	statusTotal *prometheus.CounterVec

	// Recorder metrics
	recorderFailedTotal *prometheus.CounterVec
	circuitState        *prometheus.GaugeVec

	// Recovery metrics
	recoveryScannedTotal prometheus.Counter
	recoveryPassTotal    *prometheus.CounterVec
	recoveryPasses       *prometheus.HistogramVec
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "lra")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "lra",
		Subsystem: "participant",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &PrometheusMetrics{
		requestsTotal:   counter("requests_total", "Complete and compensate requests that created work", "participant", "leg"),
		duplicatesTotal: counter("duplicate_requests_total", "Requests answered from an existing leg", "participant", "leg"),
		rejectedTotal:   counter("rejected_requests_total", "Requests rejected synchronously", "participant", "reason"),

		workTotal: counter("work_total", "Finished completion and compensation work", "participant", "leg", "outcome"),
		workDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "work_duration_seconds",
			Help:      "Business work duration in seconds, excluding the scheduling delay",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"participant", "leg"}),

		statusTotal: counter("status_reported_total", "Status answers by reported value", "participant", "status"),

		recorderFailedTotal: counter("recorder_failures_total", "Failed metric recorder operations", "participant", "op"),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"backend"}),

		recoveryScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "recovery_scanned_total",
			Help:      "Total number of transactions scanned for recovery",
		}),
		recoveryPassTotal: counter("recovery_passes_total", "Recovery passes that resent a request", "participant"),
		recoveryPasses: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "recovery_passes_to_converge",
			Help:      "Recovery passes needed before a transaction reached a terminal status",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}, []string{"participant"}),
	}
}

// Request metrics

func (p *PrometheusMetrics) RequestAccepted(participant, leg string) {
	p.requestsTotal.WithLabelValues(participant, leg).Inc()
}

func (p *PrometheusMetrics) RequestDuplicate(participant, leg string) {
	p.duplicatesTotal.WithLabelValues(participant, leg).Inc()
}

func (p *PrometheusMetrics) RequestRejected(participant, reason string) {
	p.rejectedTotal.WithLabelValues(participant, reason).Inc()
}

// Work metrics

func (p *PrometheusMetrics) WorkSucceeded(participant, leg string, duration time.Duration) {
	p.workTotal.WithLabelValues(participant, leg, "success").Inc()
	p.workDuration.WithLabelValues(participant, leg).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) WorkFailed(participant, leg string, duration time.Duration) {
	p.workTotal.WithLabelValues(participant, leg, "failure").Inc()
	p.workDuration.WithLabelValues(participant, leg).Observe(duration.Seconds())
}

// Status metrics

func (p *PrometheusMetrics) StatusReported(participant, status string) {
	p.statusTotal.WithLabelValues(participant, status).Inc()
}

// Recorder metrics

func (p *PrometheusMetrics) RecorderFailed(participant, op string) {
	p.recorderFailedTotal.WithLabelValues(participant, op).Inc()
}

func (p *PrometheusMetrics) CircuitStateChanged(backend string, state circuit.State) {
	p.circuitState.WithLabelValues(backend).Set(float64(state))
}

// Recovery metrics

func (p *PrometheusMetrics) RecoveryScanned(count int) {
	p.recoveryScannedTotal.Add(float64(count))
}

func (p *PrometheusMetrics) RecoveryPass(participant string) {
	p.recoveryPassTotal.WithLabelValues(participant).Inc()
}

func (p *PrometheusMetrics) RecoveryConverged(participant string, passes int) {
	p.recoveryPasses.WithLabelValues(participant).Observe(float64(passes))
}
