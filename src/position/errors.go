package position

import "fmt"

// ValidationError marks a position that failed mandatory-field checks.
// Fatal to the single dispatch; the position is marked error.
type ValidationError struct {
	PositionID uint
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("position %d validation failed: %s", e.PositionID, e.Reason)
}

// InsufficientBalanceError marks a dispatch aborted because the
// account balance is zero or under the trader's configured minimum.
type InsufficientBalanceError struct {
	PositionID uint
	Detail     string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("position %d: insufficient balance: %s", e.PositionID, e.Detail)
}

// RollbackError wraps any failure inside the compensating rollback so
// operators see both the rollback step and the original cause.
type RollbackError struct {
	PositionID uint
	Step       string
	Cause      error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of position %d failed at %s: %v", e.PositionID, e.Step, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}
