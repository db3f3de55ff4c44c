package lra

import (
	"testing"

	"pgregory.net/rapid"
)

// ============================================================================
// Unit Tests for state.go
// Tests ValidateTransition, IsTerminal, IsFailed, ParseStatus and Leg helpers
// ============================================================================

func TestValidateTransition_ValidTransitions(t *testing.T) {
	validTransitions := []struct {
		from ParticipantStatus
		to   ParticipantStatus
	}{
		{StatusActive, StatusCompleting},
		{StatusActive, StatusCompensating},
		{StatusCompleting, StatusCompleted},
		{StatusCompleting, StatusFailedToComplete},
		{StatusCompensating, StatusCompensated},
		{StatusCompensating, StatusFailedToCompensate},
	}

	for _, tt := range validTransitions {
		if !ValidateTransition(tt.from, tt.to) {
			t.Errorf("transition from %s to %s should be valid", tt.from, tt.to)
		}
	}
}

func TestValidateTransition_InvalidTransitions(t *testing.T) {
	invalidTransitions := []struct {
		from ParticipantStatus
		to   ParticipantStatus
	}{
		{StatusActive, StatusCompleted},
		{StatusActive, StatusCompensated},
		{StatusCompleting, StatusCompensated},
		{StatusCompleting, StatusCompensating},
		{StatusCompensating, StatusCompleted},
		{StatusCompleted, StatusCompensating},
		{StatusFailedToComplete, StatusCompleting},
		{StatusCompensated, StatusActive},
	}

	for _, tt := range invalidTransitions {
		if ValidateTransition(tt.from, tt.to) {
			t.Errorf("transition from %s to %s should be invalid", tt.from, tt.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[ParticipantStatus]bool{
		StatusActive:             false,
		StatusCompleting:         false,
		StatusCompensating:       false,
		StatusCompleted:          true,
		StatusCompensated:        true,
		StatusFailedToComplete:   true,
		StatusFailedToCompensate: true,
	}
	for status, want := range terminal {
		if got := IsTerminal(status); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestIsFailed(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusFailedToComplete || s == StatusFailedToCompensate
		if IsFailed(s) != want {
			t.Errorf("IsFailed(%s) = %v, want %v", s, !want, want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, ok := ParseStatus(s.String())
		if !ok || got != s {
			t.Errorf("ParseStatus(%q) = %q, %v", s, got, ok)
		}
	}
	if _, ok := ParseStatus("active"); ok {
		t.Error("status names are case sensitive")
	}
	if _, ok := ParseStatus(""); ok {
		t.Error("empty name should not parse")
	}
}

func TestLeg_Statuses(t *testing.T) {
	if LegComplete.String() != "complete" || LegCompensate.String() != "compensate" {
		t.Errorf("unexpected leg names %q %q", LegComplete, LegCompensate)
	}
	if Leg(7).String() != "unknown" {
		t.Errorf("expected unknown, got %q", Leg(7))
	}
	if LegComplete.pending() != StatusCompleting || LegComplete.succeeded() != StatusCompleted || LegComplete.failed() != StatusFailedToComplete {
		t.Error("completion leg statuses mismatch")
	}
	if LegCompensate.pending() != StatusCompensating || LegCompensate.succeeded() != StatusCompensated || LegCompensate.failed() != StatusFailedToCompensate {
		t.Error("compensation leg statuses mismatch")
	}
}

// ============================================================================
// Property Tests
// ============================================================================

// Terminal statuses have no outgoing transitions, and every non-terminal
// status reaches a terminal one.
func TestProperty_TerminalStatusesAreFinal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(AllStatuses).Draw(rt, "from")
		to := rapid.SampledFrom(AllStatuses).Draw(rt, "to")

		if IsTerminal(from) && ValidateTransition(from, to) {
			rt.Fatalf("terminal status %s has transition to %s", from, to)
		}
		if ValidateTransition(from, to) && from == to {
			rt.Fatalf("self transition allowed for %s", from)
		}
	})
}

// Every leg walks Active -> pending -> terminal along valid transitions.
func TestProperty_LegLifecycleIsValid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		leg := rapid.SampledFrom([]Leg{LegComplete, LegCompensate}).Draw(rt, "leg")
		success := rapid.Bool().Draw(rt, "success")

		end := leg.failed()
		if success {
			end = leg.succeeded()
		}
		if !ValidateTransition(StatusActive, leg.pending()) {
			rt.Fatalf("Active -> %s must be valid", leg.pending())
		}
		if !ValidateTransition(leg.pending(), end) {
			rt.Fatalf("%s -> %s must be valid", leg.pending(), end)
		}
		if !IsTerminal(end) {
			rt.Fatalf("%s must be terminal", end)
		}
		if IsFailed(end) == success {
			rt.Fatalf("IsFailed(%s) mismatch", end)
		}
	})
}
