package lra

import "errors"

// Request errors
var (
	// ErrInvalidRequest indicates a malformed or missing transaction identifier
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateRequest marks a request answered from an existing leg.
	// It is never returned to callers; duplicate request events carry it.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrMachineClosed indicates the state machine no longer accepts requests
	ErrMachineClosed = errors.New("participant machine closed")
)

// Work errors
var (
	// ErrWorkFailure indicates the business logic of a completion or compensation failed
	ErrWorkFailure = errors.New("participant work failed")

	// ErrWorkCancelled indicates scheduled work was cancelled before it started
	ErrWorkCancelled = errors.New("participant work cancelled")
)

// Metric errors
var (
	// ErrMetricStore indicates the metric recorder failed
	ErrMetricStore = errors.New("metric store error")
)

// Idempotency errors
var (
	// ErrIdempotencyCheckFailed indicates idempotency check failed
	ErrIdempotencyCheckFailed = errors.New("idempotency check failed")
)

// Store errors
var (
	// ErrStoreOperationFailed indicates a store operation failed
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Config errors
var (
	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)
