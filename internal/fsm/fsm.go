package fsm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a trip request.
type Status string

const (
	StatusPending        Status = "pending"
	StatusUnderReview    Status = "under_review"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusCancelled      Status = "cancelled"
	StatusPendingPayment Status = "pending_payment"
	StatusBooked         Status = "booked"
)

// All lists every status in lifecycle order.
var All = []Status{
	StatusPending,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusCancelled,
	StatusPendingPayment,
	StatusBooked,
}

var ErrInvalidTransition = errors.New("fsm: invalid status transition")

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusUnderReview: {},
		StatusApproved:    {},
		StatusRejected:    {},
		StatusCancelled:   {},
	},
	StatusUnderReview: {
		StatusApproved:  {},
		StatusRejected:  {},
		StatusCancelled: {},
	},
	StatusApproved: {
		StatusPendingPayment: {},
		StatusCancelled:      {},
	},
	StatusPendingPayment: {
		StatusBooked: {},
	},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusBooked:    {},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected,
		StatusCancelled, StatusPendingPayment, StatusBooked:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusBooked:
		return true
	}
	return false
}

// Editable reports whether trip details may still be changed in s.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusUnderReview
}

// Parse converts raw input into a Status.
func Parse(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("fsm: unknown status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether a trip request may move from one status to another.
// Staying in the same non-terminal status is allowed so callers can guard
// side updates (assignment, edits) with the same conditional update.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid() && !from.Terminal()
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Apply moves a trip request to toStatus only if it is still in fromStatus.
// sql.ErrNoRows means another writer changed the status first.
func Apply(ctx context.Context, tx Execer, id string, fromStatus, toStatus Status, now time.Time) error {
	if !CanTransition(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE trip_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(toStatus), now, id, string(fromStatus))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
