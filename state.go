package lra

// ParticipantStatus is the progress a participant reports to the coordinator.
// The string values are the names used on the wire.
type ParticipantStatus string

const (
	// StatusActive indicates neither completion nor compensation has been requested
	StatusActive ParticipantStatus = "Active"
	// StatusCompleting indicates completion work is scheduled or running
	StatusCompleting ParticipantStatus = "Completing"
	// StatusCompleted indicates completion work finished successfully
	StatusCompleted ParticipantStatus = "Completed"
	// StatusCompensating indicates compensation work is scheduled or running
	StatusCompensating ParticipantStatus = "Compensating"
	// StatusCompensated indicates compensation work finished successfully
	StatusCompensated ParticipantStatus = "Compensated"
	// StatusFailedToComplete indicates completion work returned an error
	StatusFailedToComplete ParticipantStatus = "FailedToComplete"
	// StatusFailedToCompensate indicates compensation work returned an error
	StatusFailedToCompensate ParticipantStatus = "FailedToCompensate"
)

// AllStatuses lists every participant status in declaration order.
var AllStatuses = []ParticipantStatus{
	StatusActive,
	StatusCompleting,
	StatusCompleted,
	StatusCompensating,
	StatusCompensated,
	StatusFailedToComplete,
	StatusFailedToCompensate,
}

// String returns the wire name of the status.
func (s ParticipantStatus) String() string {
	return string(s)
}

// ParseStatus converts a wire name into a ParticipantStatus.
func ParseStatus(name string) (ParticipantStatus, bool) {
	for _, s := range AllStatuses {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// validTransitions defines the participant lifecycle.
var validTransitions = map[ParticipantStatus][]ParticipantStatus{
	StatusActive: {
		StatusCompleting,
		StatusCompensating,
	},
	StatusCompleting: {
		StatusCompleted,
		StatusFailedToComplete,
	},
	StatusCompensating: {
		StatusCompensated,
		StatusFailedToCompensate,
	},
	StatusCompleted:          {},
	StatusCompensated:        {},
	StatusFailedToComplete:   {},
	StatusFailedToCompensate: {},
}

// ValidateTransition checks if a participant status transition is valid
func ValidateTransition(from, to ParticipantStatus) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no transition leaves the status.
func IsTerminal(status ParticipantStatus) bool {
	switch status {
	case StatusCompleted, StatusCompensated, StatusFailedToComplete, StatusFailedToCompensate:
		return true
	default:
		return false
	}
}

// IsFailed returns true if the status records a failed work outcome.
func IsFailed(status ParticipantStatus) bool {
	return status == StatusFailedToComplete || status == StatusFailedToCompensate
}

// Leg identifies which half of the protocol a request belongs to.
type Leg int

const (
	// LegComplete is the completion half
	LegComplete Leg = iota
	// LegCompensate is the compensation half
	LegCompensate
)

// String returns the leg name used in keys and logs.
func (l Leg) String() string {
	switch l {
	case LegComplete:
		return "complete"
	case LegCompensate:
		return "compensate"
	default:
		return "unknown"
	}
}

// pending returns the in-flight status of the leg.
func (l Leg) pending() ParticipantStatus {
	if l == LegCompensate {
		return StatusCompensating
	}
	return StatusCompleting
}

// succeeded returns the successful terminal status of the leg.
func (l Leg) succeeded() ParticipantStatus {
	if l == LegCompensate {
		return StatusCompensated
	}
	return StatusCompleted
}

// failed returns the failed terminal status of the leg.
func (l Leg) failed() ParticipantStatus {
	if l == LegCompensate {
		return StatusFailedToCompensate
	}
	return StatusFailedToComplete
}
