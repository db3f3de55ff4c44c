// Package metrics provides the observability interface for participants.
package metrics

import (
	"time"

	"lra/circuit"
)

// Metrics collects observability data. It is separate from the per-transaction
// recorder: nothing here is read back to answer status queries.
type Metrics interface {
	// Request metrics
	RequestAccepted(participant, leg string)
	RequestDuplicate(participant, leg string)
	RequestRejected(participant, reason string)

	// Work metrics
	WorkSucceeded(participant, leg string, duration time.Duration)
	WorkFailed(participant, leg string, duration time.Duration)

	// Status metrics
	StatusReported(participant, status string)

	// Recorder metrics
	RecorderFailed(participant, op string)
	CircuitStateChanged(backend string, state circuit.State)

	// Recovery metrics
	RecoveryScanned(count int)
	RecoveryPass(participant string)
	RecoveryConverged(participant string, passes int)
}

// NoopMetrics is a no-op implementation of Metrics for testing or when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) RequestAccepted(participant, leg string)                 {}
func (n *NoopMetrics) RequestDuplicate(participant, leg string)                {}
func (n *NoopMetrics) RequestRejected(participant, reason string)              {}
func (n *NoopMetrics) WorkSucceeded(participant, leg string, d time.Duration)  {}
func (n *NoopMetrics) WorkFailed(participant, leg string, d time.Duration)     {}
func (n *NoopMetrics) StatusReported(participant, status string)               {}
func (n *NoopMetrics) RecorderFailed(participant, op string)                   {}
func (n *NoopMetrics) CircuitStateChanged(backend string, state circuit.State) {}
func (n *NoopMetrics) RecoveryScanned(count int)                               {}
func (n *NoopMetrics) RecoveryPass(participant string)                         {}
func (n *NoopMetrics) RecoveryConverged(participant string, passes int)        {}
