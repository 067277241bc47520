package ledger

import "errors"

// MsgUnknown is the only message storage failures ever carry.
const MsgUnknown = "an unknown error occurred"

// Outcome is the result payload of a ledger operation: a nil message on
// success, a human-readable message otherwise.
type Outcome struct {
	Message *string `json:"message"`
}

// OutcomeOf converts an operation error into an Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{}
	}
	msg := MessageFor(err)
	return Outcome{Message: &msg}
}

// MessageFor returns the user-facing message for err.
func MessageFor(err error) string {
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) {
		return "not enough " + ib.Kind.Unit + " available"
	}
	var e *Error
	if errors.As(err, &e) && e.Code != CodeStorage && e.Message != "" {
		return e.Message
	}
	return MsgUnknown
}
