/*
errors.go - Error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Every engine operation fails with one of
  a small set of codes; the API boundary turns them into a status and a
  human-readable message.

ERROR CODES:
  validation           Malformed or missing input (blank reason, zero value)
  forbidden            Role, permission or ownership violation
  not_found            Referenced grant or person absent
  invalid_state        Transition not permitted from the current state
  insufficient_balance Redemption exceeds the available balance
  unauthenticated      No resolvable actor
  storage              Backend failure; message is generic, detail is logged

USAGE:
  if errors.Is(err, ledger.ErrForbidden) { ... }

  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) { fmt.Println(ib.Shortfall) }

SEE ALSO:
  - outcome.go: Maps errors to {message} payloads
  - api/handlers.go: Maps codes to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"
)

// Code classifies an engine error.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeForbidden           Code = "forbidden"
	CodeNotFound            Code = "not_found"
	CodeInvalidState        Code = "invalid_state"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeStorage             Code = "storage"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrStorage             = errors.New("storage failure")

	// ErrConcurrentModification is returned by stores when a conditional
	// update finds the row no longer in the expected state.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

var sentinels = map[Code]error{
	CodeValidation:          ErrValidation,
	CodeForbidden:           ErrForbidden,
	CodeNotFound:            ErrNotFound,
	CodeInvalidState:        ErrInvalidState,
	CodeInsufficientBalance: ErrInsufficientBalance,
	CodeUnauthenticated:     ErrUnauthenticated,
	CodeStorage:             ErrStorage,
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is a classified engine error. Message is safe to show to end users.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Errorf builds a classified error with a formatted user-facing message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	errs := []error{sentinels[e.Code]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Person    PersonID
	Kind      Kind
	Available int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s: available %d, requested %d",
		e.Kind.Unit, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf classifies any error. Unclassified errors are storage failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeStorage
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeForbidden, CodeNotFound, CodeInvalidState,
		CodeInsufficientBalance, CodeUnauthenticated:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing grant or person.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
