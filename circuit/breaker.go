// Package circuit guards a flaky backend so callers fail fast while it is down.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the circuit is open
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until Timeout elapses
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// Threshold is the number of consecutive failures before opening the circuit
	Threshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// HalfOpenMaxReqs is the number of probes allowed, and successes required, in HALF_OPEN
	HalfOpenMaxReqs int
}

// DefaultConfig returns the default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		Threshold:       5,
		Timeout:         30 * time.Second,
		HalfOpenMaxReqs: 1,
	}
}

// Counts holds call statistics
type Counts struct {
	Requests             int64
	TotalFailures        int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
	Rejected             int64
}

// Breaker is an in-memory circuit breaker for one backend.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int

	onChange func(name string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(b *Breaker) {
		b.config = cfg
	}
}

// WithStateChange registers a callback invoked on every state change.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a closed breaker named after the backend it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		config: DefaultConfig(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the guarded backend name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute calls fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			b.counts.Rejected++
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probes = 0
		b.counts.ConsecutiveSuccesses = 0
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.config.HalfOpenMaxReqs {
			b.counts.Rejected++
			return ErrOpen
		}
		b.probes++
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= int64(b.config.HalfOpenMaxReqs) {
			b.transition(StateClosed)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= int64(b.config.Threshold) {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
}

func (b *Breaker) open() {
	b.transition(StateOpen)
	b.openedAt = b.now()
	b.probes = 0
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open circuit whose timeout elapsed
// reports HALF_OPEN; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the circuit and clears statistics.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.counts = Counts{}
	b.probes = 0
}

// Counts returns the current statistics
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}
