package lra

import (
	"context"
)

// Participant identifies a unit of business logic enlisted in a saga
type Participant interface {
	// Name returns the participant identity
	Name() string
}

// Completable is implemented by participants with a completion effect.
// OnComplete runs on a deferred worker, never on the coordinator's call path.
type Completable interface {
	OnComplete(ctx context.Context, txID string) error
}

// Compensatable is implemented by participants with a compensation effect.
type Compensatable interface {
	OnCompensate(ctx context.Context, txID string) error
}

// Reportable is implemented by participants that answer status themselves.
// Returning ok=false falls back to the machine's own answer.
type Reportable interface {
	OnStatus(ctx context.Context, txID string, current ParticipantStatus) (status ParticipantStatus, ok bool)
}

// BaseParticipant provides a base implementation of the capability set
// that can be embedded in custom participants
type BaseParticipant struct {
	name string
}

// NewBaseParticipant creates a new BaseParticipant with the given name
func NewBaseParticipant(name string) *BaseParticipant {
	return &BaseParticipant{
		name: name,
	}
}

// Name returns the participant name
func (p *BaseParticipant) Name() string {
	return p.name
}

// OnComplete has no business effect
func (p *BaseParticipant) OnComplete(ctx context.Context, txID string) error {
	return nil
}

// OnCompensate has no business effect
func (p *BaseParticipant) OnCompensate(ctx context.Context, txID string) error {
	return nil
}

// OnStatus defers to the machine
func (p *BaseParticipant) OnStatus(ctx context.Context, txID string, current ParticipantStatus) (ParticipantStatus, bool) {
	return current, false
}

var (
	_ Participant   = (*BaseParticipant)(nil)
	_ Completable   = (*BaseParticipant)(nil)
	_ Compensatable = (*BaseParticipant)(nil)
	_ Reportable    = (*BaseParticipant)(nil)
)

// ParticipantFunc adapts plain functions to the capability set.
// Nil functions have no business effect.
type ParticipantFunc struct {
	ID           string
	CompleteFn   func(ctx context.Context, txID string) error
	CompensateFn func(ctx context.Context, txID string) error
}

// Name returns the participant identity
func (f ParticipantFunc) Name() string {
	return f.ID
}

// OnComplete calls CompleteFn
func (f ParticipantFunc) OnComplete(ctx context.Context, txID string) error {
	if f.CompleteFn == nil {
		return nil
	}
	return f.CompleteFn(ctx, txID)
}

// OnCompensate calls CompensateFn
func (f ParticipantFunc) OnCompensate(ctx context.Context, txID string) error {
	if f.CompensateFn == nil {
		return nil
	}
	return f.CompensateFn(ctx, txID)
}
