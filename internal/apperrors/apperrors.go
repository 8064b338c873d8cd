// Package apperrors classifies failures so a scan run can decide whether to
// skip a unit, record a failed delivery, or abort.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is the run-level class of a failure.
type Kind string

const (
	// Validation: bad or missing input for one unit. Skip the unit.
	Validation Kind = "VALIDATION_ERROR"
	// DataInconsistency: stored data contradicts itself. Log and deactivate.
	DataInconsistency Kind = "DATA_INCONSISTENCY"
	// DeliveryFailure: the SMS transport rejected or timed out.
	DeliveryFailure Kind = "DELIVERY_FAILURE"
	// Infrastructure: the data store is unusable. Abort the run.
	Infrastructure Kind = "INFRASTRUCTURE_ERROR"
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without a cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap attaches kind and op to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or "" when none is classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
