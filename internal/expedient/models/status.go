package models

import dErrors "expedients/pkg/domain-errors"

// Status is the payment lifecycle state of an expedient.
//
// Transitions: CREATED -> PAYMENT_SUCCESS | PAYMENT_FAILED. Both payment
// outcomes are terminal.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentSuccess Status = "PAYMENT_SUCCESS"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
)

// ParseStatus constructs a Status from stored or external input.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "status cannot be empty")
	}
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid status: "+s)
	}
	return st, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusPaymentSuccess, StatusPaymentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further status transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaymentSuccess || s == StatusPaymentFailed
}

// CanTransitionTo reports whether next is reachable from s.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusCreated && next.IsTerminal()
}

func (s Status) String() string {
	return string(s)
}
