package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lankatrips/internal/fsm"
	"lankatrips/internal/metrics"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
)

const maxMutationAttempts = 3

// TripRequestStateMachine validates and applies status transitions. Every
// write is a conditional update on the status the caller observed, so two
// concurrent transitions of one request cannot both succeed.
type TripRequestStateMachine struct {
	Store  TripRequestStore
	Logger Logger
	Now    func() time.Time
}

func NewTripRequestStateMachine(store TripRequestStore, logger Logger, now func() time.Time) *TripRequestStateMachine {
	return &TripRequestStateMachine{Store: store, Logger: loggerOrNop(logger), Now: clockOrDefault(now)}
}

// TransitionInput describes a requested status change.
type TransitionInput struct {
	Actor  models.Actor
	To     fsm.Status
	Note   string
	Review *models.Review
	Reason string

	// Booking replaces the stored booking snapshot along with the transition.
	Booking *models.Booking
}

// Transition loads the request and applies in.
func (m *TripRequestStateMachine) Transition(ctx context.Context, id string, in TransitionInput) (models.TripRequest, error) {
	req, err := loadTripRequest(ctx, m.Store, id)
	if err != nil {
		return models.TripRequest{}, err
	}
	return m.TransitionFrom(ctx, req, in)
}

// TransitionFrom applies in to the already loaded req.
func (m *TripRequestStateMachine) TransitionFrom(ctx context.Context, req models.TripRequest, in TransitionInput) (models.TripRequest, error) {
	if !in.To.Valid() {
		return models.TripRequest{}, models.NewValidationError("status", "unknown status %q", in.To)
	}
	if err := Authorize(in.Actor, actionForTarget(in.To), TripRequestResource(req)); err != nil {
		return models.TripRequest{}, err
	}

	from := req.Status
	if from == in.To || !fsm.CanTransition(from, in.To) {
		return models.TripRequest{}, models.NewInvalidStateTransitionError(string(from), string(in.To))
	}
	if err := checkPreconditions(req, in); err != nil {
		return models.TripRequest{}, err
	}

	now := m.Now()
	comm := newCommunication(in.Actor, communicationTypeFor(in.To), transitionMessage(from, in), now)
	t := repositories.Transition{
		ID:            req.ID,
		From:          from,
		To:            in.To,
		Now:           now,
		Booking:       in.Booking,
		Communication: &comm,
	}
	if in.To == fsm.StatusApproved {
		review := *in.Review
		t.Review = &review
	}
	if in.To == fsm.StatusRejected {
		reason := strings.TrimSpace(in.Reason)
		t.RejectionReason = &reason
	}

	if err := m.Store.ApplyTransition(ctx, t); err != nil {
		if errors.Is(err, models.ErrStaleStatus) {
			metrics.TripRequestConflicts.WithLabelValues(string(in.To)).Inc()
			current, gErr := loadTripRequest(ctx, m.Store, req.ID)
			if gErr != nil {
				return models.TripRequest{}, gErr
			}
			return models.TripRequest{}, models.NewInvalidStateTransitionError(string(current.Status), string(in.To))
		}
		return models.TripRequest{}, fmt.Errorf("apply transition %s -> %s: %w", from, in.To, err)
	}
	metrics.TripRequestTransitions.WithLabelValues(string(from), string(in.To)).Inc()
	m.Logger.Infof("trip request %s: %s -> %s by user %d (%s)", req.ID, from, in.To, in.Actor.UserID, in.Actor.Role)

	req.Status = in.To
	if t.Review != nil {
		req.Review = t.Review
	}
	if t.Booking != nil {
		req.Booking = t.Booking
	}
	if t.RejectionReason != nil {
		req.RejectionReason = *t.RejectionReason
	}
	req.Communications = append(req.Communications, comm)
	req.UpdatedAt = &now
	return req, nil
}

// Mutation changes a request without changing its status.
type Mutation func(req *models.TripRequest, t *repositories.Transition) error

// Mutate applies fn guarded by the current status. When the status moves
// underneath, the request is reloaded and fn is run again against the fresh
// copy. allowed decides whether the status still permits the change.
func (m *TripRequestStateMachine) Mutate(ctx context.Context, actor models.Actor, id string, action Action, allowed func(fsm.Status) error, fn Mutation) (models.TripRequest, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		req, err := loadTripRequest(ctx, m.Store, id)
		if err != nil {
			return models.TripRequest{}, err
		}
		if err := Authorize(actor, action, TripRequestResource(req)); err != nil {
			return models.TripRequest{}, err
		}
		if err := allowed(req.Status); err != nil {
			return models.TripRequest{}, err
		}

		now := m.Now()
		t := repositories.Transition{ID: req.ID, From: req.Status, To: req.Status, Now: now}
		if err := fn(&req, &t); err != nil {
			return models.TripRequest{}, err
		}

		err = m.Store.ApplyTransition(ctx, t)
		if err == nil {
			if t.Communication != nil {
				req.Communications = append(req.Communications, *t.Communication)
			}
			req.UpdatedAt = &now
			return req, nil
		}
		if !errors.Is(err, models.ErrStaleStatus) {
			return models.TripRequest{}, err
		}
		metrics.TripRequestConflicts.WithLabelValues(string(req.Status)).Inc()
		lastErr = err
	}
	return models.TripRequest{}, fmt.Errorf("trip request %s kept changing: %w", id, lastErr)
}

func actionForTarget(to fsm.Status) Action {
	switch to {
	case fsm.StatusApproved:
		return ActionApproveTripRequest
	case fsm.StatusRejected:
		return ActionRejectTripRequest
	case fsm.StatusCancelled:
		return ActionCancelTripRequest
	case fsm.StatusPendingPayment, fsm.StatusBooked:
		return ActionConfirmPayment
	default:
		return ActionReviewTripRequest
	}
}

func checkPreconditions(req models.TripRequest, in TransitionInput) error {
	switch in.To {
	case fsm.StatusUnderReview:
		if req.AssignedTo == nil {
			return models.NewValidationError("assignedTo", "trip request must be assigned to a staff member before review")
		}
	case fsm.StatusApproved:
		if in.Review == nil || !(in.Review.ApprovedCost > 0) {
			return models.NewInvalidApprovalCostError("")
		}
	case fsm.StatusRejected:
		if strings.TrimSpace(in.Reason) == "" {
			return models.NewValidationError("reason", "a rejection reason is required")
		}
	case fsm.StatusPendingPayment:
		return models.NewValidationError("status", "pending_payment is entered only by creating the booking")
	}
	return nil
}

func communicationTypeFor(to fsm.Status) models.CommunicationType {
	switch to {
	case fsm.StatusApproved:
		return models.CommunicationApproval
	case fsm.StatusRejected:
		return models.CommunicationRejection
	case fsm.StatusBooked:
		return models.CommunicationBooking
	default:
		return models.CommunicationStatusChange
	}
}

func transitionMessage(from fsm.Status, in TransitionInput) string {
	msg := fmt.Sprintf("status changed from %s to %s", from, in.To)
	switch {
	case in.To == fsm.StatusRejected:
		msg += ": " + strings.TrimSpace(in.Reason)
	case strings.TrimSpace(in.Note) != "":
		msg += ": " + strings.TrimSpace(in.Note)
	}
	return msg
}

func newCommunication(actor models.Actor, cType models.CommunicationType, message string, now time.Time) models.Communication {
	return models.Communication{
		ID:         uuid.NewString(),
		SentBy:     actor.UserID,
		SentByRole: actor.Role,
		Message:    message,
		Type:       cType,
		SentAt:     now,
	}
}
