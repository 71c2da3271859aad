/*
errors.go - Error types for the leave engine

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any write
  2. Calculation errors - configuration that makes a formula undefined
  3. Store errors - missing rows and failed transactions

USAGE:
  Callers branch on categories, not on message text:

    if leave.IsValidation(err) {
        // report to the user, don't retry
    }

SEE ALSO:
  - balance.go: comment validation
  - calculation.go: ErrNoWorkingDays
  - service.go: wraps store failures in ErrTransactionFailed
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidLeaveBalance is returned when a balance violates the comment rules.
	ErrInvalidLeaveBalance = errors.New("invalid leave balance")

	// ErrMissingIdentifier is returned when a lookup is attempted with a zero id.
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrNoWorkingDays is returned when pro-rata is requested for a period
	// with no working days.
	ErrNoWorkingDays = errors.New("absence period has no working days")

	// ErrBalanceNotFound is returned when no balance exists for a triple.
	ErrBalanceNotFound = errors.New("leave balance not found")

	// ErrNotFound is returned by providers when reference data is missing.
	ErrNotFound = errors.New("not found")

	// ErrTransactionFailed is returned when a save could not be committed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInvalidOption is returned when an external option value can't be
	// mapped onto a closed enum.
	ErrInvalidOption = errors.New("invalid option value")

	// ErrInvalidInput is returned when caller input or imported reference data
	// is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidLeaveBalanceError names the violated rule.
type InvalidLeaveBalanceError struct {
	Reason string
}

func (e *InvalidLeaveBalanceError) Error() string {
	return fmt.Sprintf("invalid leave balance: %s", e.Reason)
}

func (e *InvalidLeaveBalanceError) Unwrap() error { return ErrInvalidLeaveBalance }

// MissingIdentifierError names the missing id.
type MissingIdentifierError struct {
	Field string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("missing identifier: %s id is required", e.Field)
}

func (e *MissingIdentifierError) Unwrap() error { return ErrMissingIdentifier }

// NoWorkingDaysError carries the period that has no working days.
type NoWorkingDaysError struct {
	PeriodID int64
}

func (e *NoWorkingDaysError) Error() string {
	return fmt.Sprintf("absence period %d has no working days", e.PeriodID)
}

func (e *NoWorkingDaysError) Unwrap() error { return ErrNoWorkingDays }

// ValidationError provides details about invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidLeaveBalance) ||
		errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound) || errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) && !IsValidation(err)
}
