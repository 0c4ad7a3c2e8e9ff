package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoRecord     = errors.New("models: no matching record found")
	ErrUserNotFound = errors.New("models: user not found")
	ErrStaleStatus  = errors.New("models: trip request status changed concurrently")
)

// ErrorKind is the stable, client-visible category of a failure.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation"
	KindUnauthenticated        ErrorKind = "unauthenticated"
	KindAuthorization          ErrorKind = "authorization"
	KindInvalidStateTransition ErrorKind = "invalid_state_transition"
	KindEditNotAllowed         ErrorKind = "edit_not_allowed"
	KindRequestNotApproved     ErrorKind = "request_not_approved"
	KindInvalidApprovalCost    ErrorKind = "invalid_approval_cost"
	KindNotFound               ErrorKind = "not_found"
	KindUnknownUser            ErrorKind = "unknown_user"
	KindNoRecipients           ErrorKind = "no_recipients"
	KindBookingCreationFailed  ErrorKind = "booking_creation_failed"
	KindInternal               ErrorKind = "internal"
)

// Error is a domain failure carrying a stable kind and a human readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func NewValidationError(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorizationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func NewUnknownUserError(userID int) *Error {
	return &Error{Kind: KindUnknownUser, Message: fmt.Sprintf("user %d does not exist", userID)}
}

func NewInvalidStateTransitionError(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		Message: fmt.Sprintf("cannot move trip request from %s to %s", from, to),
	}
}

func NewEditNotAllowedError(status string) *Error {
	return &Error{
		Kind:    KindEditNotAllowed,
		Message: fmt.Sprintf("trip request in status %s can no longer be edited", status),
	}
}

func NewRequestNotApprovedError(status string) *Error {
	return &Error{
		Kind:    KindRequestNotApproved,
		Message: fmt.Sprintf("trip request must be approved before booking, current status is %s", status),
	}
}

func NewInvalidApprovalCostError(raw string) *Error {
	return &Error{
		Kind:    KindInvalidApprovalCost,
		Field:   "approvedCost",
		Message: fmt.Sprintf("approved cost %q must be a finite number greater than zero", raw),
	}
}

func NewNoRecipientsError() *Error {
	return &Error{Kind: KindNoRecipients, Message: "no users match the requested roles"}
}

func NewBookingCreationFailedError(err error) *Error {
	return &Error{Kind: KindBookingCreationFailed, Message: "booking subsystem rejected the booking", Err: err}
}
