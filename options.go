package lra

import (
	"strings"
	"time"
)

// Config holds the configuration for a participant state machine.
type Config struct {
	// Participant identity used as the metric and idempotency key component.
	// It must not contain ':'.
	Participant string

	// Work scheduling
	CompletionDelay   time.Duration // Delay before completion work runs, default 1s
	CompensationDelay time.Duration // Delay before compensation work runs, default 1s
	WorkTimeout       time.Duration // Deadline handed to business work, 0 disables

	// Idempotency configuration
	IdempotencyTTL time.Duration // Idempotency record TTL, default 24h
}

// DefaultConfig returns the default configuration for a participant.
func DefaultConfig() Config {
	return Config{
		Participant:       "participant",
		CompletionDelay:   1 * time.Second,
		CompensationDelay: 1 * time.Second,
		WorkTimeout:       0,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithParticipant sets the participant identity.
func WithParticipant(name string) Option {
	return func(c *Config) {
		c.Participant = name
	}
}

// WithCompletionDelay sets the delay before completion work runs.
func WithCompletionDelay(d time.Duration) Option {
	return func(c *Config) {
		c.CompletionDelay = d
	}
}

// WithCompensationDelay sets the delay before compensation work runs.
func WithCompensationDelay(d time.Duration) Option {
	return func(c *Config) {
		c.CompensationDelay = d
	}
}

// WithDelay sets both work delays.
func WithDelay(d time.Duration) Option {
	return func(c *Config) {
		c.CompletionDelay = d
		c.CompensationDelay = d
	}
}

// WithWorkTimeout sets the deadline handed to business work.
func WithWorkTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WorkTimeout = timeout
	}
}

// WithIdempotencyTTL sets the idempotency record TTL.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.IdempotencyTTL = ttl
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// delay returns the configured delay for the leg.
func (c *Config) delay(leg Leg) time.Duration {
	if leg == LegCompensate {
		return c.CompensationDelay
	}
	return c.CompletionDelay
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Participant == "" || strings.Contains(c.Participant, ":") {
		return ErrInvalidConfig
	}
	if c.CompletionDelay < 0 {
		return ErrInvalidConfig
	}
	if c.CompensationDelay < 0 {
		return ErrInvalidConfig
	}
	if c.WorkTimeout < 0 {
		return ErrInvalidConfig
	}
	if c.IdempotencyTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
