package lifecycle

import (
	"errors"
	"fmt"

	"rentalBack/internal/rental/fsm"
)

// Error kinds surfaced by the lifecycle layer.
var (
	ErrForbidden  = errors.New("lifecycle: forbidden")
	ErrConflict   = errors.New("lifecycle: conflict")
	ErrNotFound   = errors.New("lifecycle: reservation not found")
	ErrTransport  = errors.New("lifecycle: store unavailable")
	ErrValidation = errors.New("lifecycle: validation failed")
	ErrPayment    = errors.New("lifecycle: payment failed")
)

// Kind classifies a TransitionError.
type Kind int

const (
	KindForbidden Kind = iota + 1
	KindConflict
	KindNotFound
	KindTransport
	KindValidation
	KindPayment
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindPayment:
		return "payment"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindForbidden:
		return ErrForbidden
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindTransport:
		return ErrTransport
	case KindValidation:
		return ErrValidation
	case KindPayment:
		return ErrPayment
	}
	return nil
}

// TransitionError is returned by every Mutator and Service operation.
type TransitionError struct {
	Kind          Kind
	Action        fsm.Action
	ReservationID string
	Reason        string
	Err           error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Action, e.Kind)
	if e.ReservationID != "" {
		msg += " (reservation " + e.ReservationID + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel of the error kind.
func (e *TransitionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry.
func (e *TransitionError) Retryable() bool {
	return e.Kind == KindConflict
}

// KindOf extracts the kind from err, or 0 when err is not a TransitionError.
func KindOf(err error) Kind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

func newError(kind Kind, action fsm.Action, id, reason string, err error) *TransitionError {
	return &TransitionError{Kind: kind, Action: action, ReservationID: id, Reason: reason, Err: err}
}
