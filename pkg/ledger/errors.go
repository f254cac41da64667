package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrHoldNotFound         = errors.New("hold not found")
	ErrHoldNotActive        = errors.New("hold not active")
	ErrHoldExpired          = errors.New("hold expired")
	ErrAmountExceedsHold    = errors.New("amount exceeds hold")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCreditType    = errors.New("invalid credit type")
	ErrInvalidHoldID        = errors.New("invalid hold id")
	ErrInvalidReferenceID   = errors.New("invalid reference id")
	ErrInvalidHoldStatus    = errors.New("invalid hold status")
	ErrInvalidSource        = errors.New("invalid transaction source")
	ErrInvalidTTL           = errors.New("invalid ttl minutes")
	ErrInvalidLimit         = errors.New("invalid limit")
	ErrInvalidOffset        = errors.New("invalid offset")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidBalance       = errors.New("invalid balance")
)

// InsufficientCreditsError carries the numbers callers need to render a
// "you have X, need Y" message. It unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Available Credits
	Required  Credits
}

// Error returns the formatted error message.
func (insufficientError InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: available %d, required %d", insufficientError.Available, insufficientError.Required)
}

// Unwrap returns the sentinel so errors.Is(err, ErrInsufficientCredits) holds.
func (insufficientError InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// HoldStateError reports an attempt to settle a hold that is no longer
// active, carrying the terminal status for caller diagnostics. It unwraps to
// ErrHoldNotActive.
type HoldStateError struct {
	HoldID string
	Status HoldStatus
}

// Error returns the formatted error message.
func (stateError HoldStateError) Error() string {
	return fmt.Sprintf("hold not active: hold %s is %s", stateError.HoldID, stateError.Status)
}

// Unwrap returns the sentinel so errors.Is(err, ErrHoldNotActive) holds.
func (stateError HoldStateError) Unwrap() error {
	return ErrHoldNotActive
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
