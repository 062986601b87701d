package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrLockContention returned when another cycle holds the state lock.
	ErrLockContention = errors.New("state lock is held by another owner")
	// ErrCorruptState persisted state could not be decoded.
	ErrCorruptState = errors.New("persisted state is corrupt")
	// ErrInsufficientData not enough observations to run a computation.
	ErrInsufficientData = errors.New("insufficient data")
)

// DataError missing, stale or implausible input data.
type DataError struct {
	Source string
	Reason string
}

func (e *DataError) Error() string {
	if e.Source == "" {
		return "data error: " + e.Reason
	}
	return fmt.Sprintf("data error from %s: %s", e.Source, e.Reason)
}

// ValidationError rejected state transition or parameter update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// RiskViolation a risk gate blocked a trade.
type RiskViolation struct {
	Rule   string
	Detail string
}

func (e *RiskViolation) Error() string {
	return fmt.Sprintf("risk limit %s exceeded: %s", e.Rule, e.Detail)
}

// ExecutionFailure the execution adapter failed to fill an order.
type ExecutionFailure struct {
	Order Order
	Err   error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution of %s failed: %v", e.Order.String(), e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}
