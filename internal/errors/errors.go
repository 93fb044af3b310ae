// Package errors provides the coded errors shared across the engine.
// Callers branch on the code, never on message text.
package errors

import (
	"errors"
	"fmt"
)

// Domain codes map onto the failure taxonomy of the workflow core.
const (
	ErrCodeGuardViolation     = "guard_violation"
	ErrCodeBudgetViolation    = "budget_violation"
	ErrCodeOrderingViolation  = "ordering_violation"
	ErrCodeConfigurationError = "configuration_error"
	ErrCodeConsistencyFault   = "consistency_fault"
)

// Infrastructure and input-handling codes.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConflict     = "conflict"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeInternal     = "internal"
)

// Error is a coded error. Err carries the wrapped cause, if any.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause to the standard errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with the given code and a formatted message.
func Newf(code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
// Returns nil when err is nil.
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource, e.g. NotFound("requisition", id).
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a rejected input field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid %s: %s", field, message)}
}

// GuardViolation reports a state-transition guard failure. No state has been
// mutated when one is returned.
func GuardViolation(message string) error {
	return &Error{Code: ErrCodeGuardViolation, Message: message}
}

// BudgetViolation reports insufficient remaining funds; the enclosing
// transition rolls back as a unit.
func BudgetViolation(message string) error {
	return &Error{Code: ErrCodeBudgetViolation, Message: message}
}

// OrderingViolation reports a step decided out of turn or re-decided.
func OrderingViolation(message string) error {
	return &Error{Code: ErrCodeOrderingViolation, Message: message}
}

// ConfigurationError reports unusable rule configuration, such as a
// submission for which no rule produces an approval path.
func ConfigurationError(message string) error {
	return &Error{Code: ErrCodeConfigurationError, Message: message}
}

// ConsistencyFault reports a caller-sequencing bug, such as releasing funds
// that were never reserved. Kept distinct from user-facing violations.
func ConsistencyFault(message string) error {
	return &Error{Code: ErrCodeConsistencyFault, Message: message}
}

// CodeOf returns the code of the outermost coded error in err's chain,
// or ErrCodeInternal for uncoded errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func IsGuardViolation(err error) bool     { return hasCode(err, ErrCodeGuardViolation) }
func IsBudgetViolation(err error) bool    { return hasCode(err, ErrCodeBudgetViolation) }
func IsOrderingViolation(err error) bool  { return hasCode(err, ErrCodeOrderingViolation) }
func IsConfigurationError(err error) bool { return hasCode(err, ErrCodeConfigurationError) }
func IsConsistencyFault(err error) bool   { return hasCode(err, ErrCodeConsistencyFault) }
func IsNotFound(err error) bool           { return hasCode(err, ErrCodeNotFound) }
func IsInvalidInput(err error) bool       { return hasCode(err, ErrCodeInvalidInput) }
func IsConflict(err error) bool           { return hasCode(err, ErrCodeConflict) }
func IsUnauthorized(err error) bool       { return hasCode(err, ErrCodeUnauthorized) }
func IsInternal(err error) bool           { return hasCode(err, ErrCodeInternal) }
