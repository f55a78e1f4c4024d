package domain

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy: sentinel errors for contract violations, plus the
// phase-tagged run error the orchestrator rejects completion handles with
// ---------------------------------------------------------------------------

var (
	// ErrSchemaVersionNotFound is returned when activating or reading a
	// schema version that was never registered for the entity.
	ErrSchemaVersionNotFound = errors.New("schema version not found")

	// ErrInvalidCalculatorContract is returned when a calculator registration
	// does not satisfy the required contract. Nothing is stored.
	ErrInvalidCalculatorContract = errors.New("invalid calculator contract")

	// ErrInvalidProviderDescriptor is returned when a provider descriptor is
	// missing one of its required functions. Nothing is stored.
	ErrInvalidProviderDescriptor = errors.New("invalid provider descriptor")

	// ErrUnknownProvider is returned when selecting or calling a provider
	// that was never registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrRetriesExhausted is returned when the gateway ran out of attempts.
	// It always wraps the last underlying failure.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RunError is the terminal error of a failed pipeline run. Phase names the
// stage at which the run died; Err is the underlying cause.
type RunError struct {
	Phase string
	Err   error
}

// Error implements error.
func (e *RunError) Error() string {
	return fmt.Sprintf("run failed in phase %s: %v", e.Phase, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *RunError) Unwrap() error { return e.Err }

// NewRunError tags an underlying stage error with its phase.
func NewRunError(phase string, err error) *RunError {
	return &RunError{Phase: phase, Err: err}
}
