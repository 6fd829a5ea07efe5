package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for plant operations.
var (
	// ErrConfiguration indicates an invalid or missing parameter.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrPhysicsViolation indicates a non-physical or non-finite quantity during a step.
	ErrPhysicsViolation = errors.New("dynamo: physics violation")

	// ErrLimitExceeded indicates a component operating outside its rated envelope.
	ErrLimitExceeded = errors.New("dynamo: component limit exceeded")

	// ErrSyncTimeout indicates a startup or grid-sync phase overran its budget.
	ErrSyncTimeout = errors.New("dynamo: synchronization timeout")

	// ErrInvalidTransition indicates a state machine transition that is not allowed.
	ErrInvalidTransition = errors.New("dynamo: invalid state transition")

	// ErrInvalidCommand indicates a command rejected in the current system state.
	ErrInvalidCommand = errors.New("dynamo: command not allowed in current state")
)

// ConfigurationError names the offending field. Returned before any state is mutated.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a ConfigurationError.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PhysicsViolation reports a NaN, overflow or negative mass/volume found during a step.
type PhysicsViolation struct {
	Step     int
	Time     float64
	Quantity string
	Value    float64
}

func (e *PhysicsViolation) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s = %g", e.Step, e.Time, e.Quantity, e.Value)
}

func (e *PhysicsViolation) Is(target error) bool { return target == ErrPhysicsViolation }

// LimitExceeded is a component envelope breach. It travels as data to the
// fault detector and the emergency system; Step never returns it.
type LimitExceeded struct {
	Component string
	Quantity  string
	Value     float64
	Limit     float64
	Severity  Severity
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("%s %s %.3f exceeds %.3f", e.Component, e.Quantity, e.Value, e.Limit)
}

func (e *LimitExceeded) Is(target error) bool { return target == ErrLimitExceeded }

// SynchronizationTimeout is raised when a startup phase runs past its budget.
type SynchronizationTimeout struct {
	Phase   string
	Elapsed float64
	Budget  float64
}

func (e *SynchronizationTimeout) Error() string {
	return fmt.Sprintf("phase %s exceeded %.1fs budget (elapsed %.1fs)", e.Phase, e.Budget, e.Elapsed)
}

func (e *SynchronizationTimeout) Is(target error) bool { return target == ErrSyncTimeout }

// SimulationError wraps an error with step context.
type SimulationError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// Fatal reports whether err aborts the current step. Limit breaches and sync
// timeouts are routed through the state machine instead.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPhysicsViolation) || errors.Is(err, ErrConfiguration)
}
