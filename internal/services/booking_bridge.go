package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lankatrips/internal/booking"
	"lankatrips/internal/fsm"
	"lankatrips/internal/locks"
	"lankatrips/internal/metrics"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
)

const defaultLockWait = 15 * time.Second

// BookingBridge turns approved trip requests into payable bookings and
// applies payment confirmations reported by the booking subsystem.
type BookingBridge struct {
	Store    TripRequestStore
	Machine  *TripRequestStateMachine
	Client   BookingCreator
	Locker   locks.Locker
	Notifier Notifier
	Logger   Logger
	LockWait time.Duration
}

func NewBookingBridge(store TripRequestStore, machine *TripRequestStateMachine, client BookingCreator, locker locks.Locker, notifier Notifier, logger Logger) *BookingBridge {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &BookingBridge{
		Store:    store,
		Machine:  machine,
		Client:   client,
		Locker:   locker,
		Notifier: notifier,
		Logger:   loggerOrNop(logger),
		LockWait: defaultLockWait,
	}
}

type BookingOutcome struct {
	TripRequest models.TripRequest
	Booking     models.Booking
	Created     bool
	Warnings    []string
}

func bookingLockKey(id string) string {
	return "trip-request:booking:" + id
}

// CreateBooking creates at most one booking per trip request. Calls made
// after a booking exists return it unchanged with Created set to false.
func (b *BookingBridge) CreateBooking(ctx context.Context, actor models.Actor, id string) (BookingOutcome, error) {
	req, err := loadTripRequest(ctx, b.Store, id)
	if err != nil {
		return BookingOutcome{}, err
	}
	if err := Authorize(actor, ActionCreateBooking, TripRequestResource(req)); err != nil {
		return BookingOutcome{}, err
	}
	if out, done, err := existingBooking(req); done {
		return out, err
	}

	wait := b.LockWait
	if wait <= 0 {
		wait = defaultLockWait
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	release, err := b.Locker.Acquire(lockCtx, bookingLockKey(id))
	cancel()
	if err != nil {
		return BookingOutcome{}, fmt.Errorf("acquire booking lock for %s: %w", id, err)
	}
	defer release()

	req, err = loadTripRequest(ctx, b.Store, id)
	if err != nil {
		return BookingOutcome{}, err
	}
	if out, done, err := existingBooking(req); done {
		return out, err
	}
	if req.Review == nil {
		return BookingOutcome{}, fmt.Errorf("trip request %s is approved without a review", id)
	}

	currency := req.Budget.Currency
	if currency == "" {
		currency = "LKR"
	}
	created, err := b.Client.CreateBooking(ctx, booking.CreateBookingRequest{
		TripRequestID: req.ID,
		CustomerID:    req.UserID,
		Title:         req.Title,
		Amount:        req.Review.ApprovedCost,
		Currency:      currency,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Adults:        req.Travelers.Adults,
		Children:      req.Travelers.Children,
		Infants:       req.Travelers.Infants,
	})
	if err != nil {
		metrics.BookingFailures.Inc()
		b.Logger.Errorf("booking subsystem rejected trip request %s: %v", id, err)
		return BookingOutcome{}, models.NewBookingCreationFailedError(err)
	}

	now := b.Machine.Now()
	if created.Amount == 0 {
		created.Amount = req.Review.ApprovedCost
	}
	if created.Currency == "" {
		created.Currency = currency
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	comm := newCommunication(actor, models.CommunicationBooking,
		fmt.Sprintf("booking %s created, awaiting payment of %s %s", created.ID, formatAmount(created.Amount), created.Currency), now)

	attached, err := b.Store.AttachBooking(ctx, id, created, &comm, now)
	if err != nil {
		return BookingOutcome{}, fmt.Errorf("attach booking %s to trip request %s: %w", created.ID, id, err)
	}
	if !attached {
		current, err := loadTripRequest(ctx, b.Store, id)
		if err != nil {
			return BookingOutcome{}, err
		}
		if out, done, err := existingBooking(current); done && err == nil {
			return out, nil
		}
		return BookingOutcome{}, models.NewRequestNotApprovedError(string(current.Status))
	}

	metrics.BookingsCreated.Inc()
	metrics.TripRequestTransitions.WithLabelValues(string(fsm.StatusApproved), string(fsm.StatusPendingPayment)).Inc()
	b.Logger.Infof("trip request %s: booking %s created, awaiting payment", id, created.ID)

	req.Status = fsm.StatusPendingPayment
	req.BookingID = &created.ID
	req.Booking = &created
	req.Communications = append(req.Communications, comm)
	req.UpdatedAt = &now

	warnings := notifyBestEffort(ctx, b.Notifier, b.Logger, NotifyInput{
		UserID:   req.UserID,
		Type:     models.NotificationBookingConfirmed,
		Title:    "Booking created",
		Message:  truncate(fmt.Sprintf("Your booking for %q is ready. Please complete the payment of %s %s.", req.Title, formatAmount(created.Amount), created.Currency), models.MaxNotificationMessage),
		Priority: models.PriorityHigh,
		Data: encodeData(map[string]interface{}{
			"tripRequestId": req.ID,
			"bookingId":     created.ID,
			"amount":        created.Amount,
			"currency":      created.Currency,
			"paymentUrl":    created.PaymentURL,
		}),
	})
	return BookingOutcome{TripRequest: req, Booking: created, Created: true, Warnings: warnings}, nil
}

// existingBooking reports whether req already decides the CreateBooking
// result: a stored booking or a status that cannot be booked.
func existingBooking(req models.TripRequest) (BookingOutcome, bool, error) {
	if req.BookingID != nil {
		out := BookingOutcome{TripRequest: req}
		if req.Booking != nil {
			out.Booking = *req.Booking
		} else {
			out.Booking = models.Booking{ID: *req.BookingID}
		}
		return out, true, nil
	}
	if req.Status != fsm.StatusApproved {
		return BookingOutcome{}, true, models.NewRequestNotApprovedError(string(req.Status))
	}
	return BookingOutcome{}, false, nil
}

type paymentResult int

const (
	paymentUnknown paymentResult = iota
	paymentSucceeded
	paymentFailed
)

func classifyPayment(status string) paymentResult {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "succeeded", "paid", "done", "approved":
		return paymentSucceeded
	case "failure", "failed", "cancelled", "canceled", "rejected", "error":
		return paymentFailed
	}
	return paymentUnknown
}

// ConfirmPayment applies a payment result for bookingID. A repeated success
// for a booked request is accepted without changes.
func (b *BookingBridge) ConfirmPayment(ctx context.Context, bookingID, status string) (Outcome, error) {
	result := classifyPayment(status)
	if result == paymentUnknown {
		return Outcome{}, models.NewValidationError("status", "unknown payment status %q", status)
	}

	req, err := b.Store.GetByBookingID(ctx, bookingID)
	if errors.Is(err, models.ErrNoRecord) {
		return Outcome{}, models.NewNotFoundError("booking", bookingID)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := Authorize(models.SystemActor, ActionConfirmPayment, TripRequestResource(req)); err != nil {
		return Outcome{}, err
	}

	snapshot := models.Booking{ID: bookingID}
	if req.Booking != nil {
		snapshot = *req.Booking
	}

	switch result {
	case paymentSucceeded:
		if req.Status == fsm.StatusBooked {
			return Outcome{TripRequest: req}, nil
		}
		snapshot.Status = "paid"
		updated, err := b.Machine.TransitionFrom(ctx, req, TransitionInput{
			Actor:   models.SystemActor,
			To:      fsm.StatusBooked,
			Note:    "payment for booking " + bookingID + " confirmed",
			Booking: &snapshot,
		})
		if err != nil {
			// A duplicate success that lost the race finds the request booked.
			if models.KindOf(err) == models.KindInvalidStateTransition {
				if current, gErr := loadTripRequest(ctx, b.Store, req.ID); gErr == nil && current.Status == fsm.StatusBooked {
					return Outcome{TripRequest: current}, nil
				}
			}
			return Outcome{}, err
		}
		warnings := notifyBestEffort(ctx, b.Notifier, b.Logger, NotifyInput{
			UserID:   updated.UserID,
			Type:     models.NotificationPaymentSuccess,
			Title:    "Payment received",
			Message:  truncate(fmt.Sprintf("Payment for %q was received. Your trip is booked.", updated.Title), models.MaxNotificationMessage),
			Priority: models.PriorityHigh,
			Data:     encodeData(map[string]string{"tripRequestId": updated.ID, "bookingId": bookingID}),
		})
		return Outcome{TripRequest: updated, Warnings: warnings}, nil

	default:
		if req.Status != fsm.StatusPendingPayment {
			return Outcome{}, models.NewInvalidStateTransitionError(string(req.Status), string(fsm.StatusPendingPayment))
		}
		now := b.Machine.Now()
		snapshot.Status = "payment_failed"
		comm := newCommunication(models.SystemActor, models.CommunicationBooking,
			fmt.Sprintf("payment for booking %s failed (%s)", bookingID, strings.ToLower(strings.TrimSpace(status))), now)
		err := b.Store.ApplyTransition(ctx, repositories.Transition{
			ID:            req.ID,
			From:          fsm.StatusPendingPayment,
			To:            fsm.StatusPendingPayment,
			Now:           now,
			Booking:       &snapshot,
			Communication: &comm,
		})
		if errors.Is(err, models.ErrStaleStatus) {
			metrics.TripRequestConflicts.WithLabelValues(string(fsm.StatusPendingPayment)).Inc()
			current, gErr := loadTripRequest(ctx, b.Store, req.ID)
			if gErr != nil {
				return Outcome{}, gErr
			}
			return Outcome{}, models.NewInvalidStateTransitionError(string(current.Status), string(fsm.StatusPendingPayment))
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("record failed payment for booking %s: %w", bookingID, err)
		}
		req.Booking = &snapshot
		req.Communications = append(req.Communications, comm)
		req.UpdatedAt = &now

		warnings := notifyBestEffort(ctx, b.Notifier, b.Logger, NotifyInput{
			UserID:   req.UserID,
			Type:     models.NotificationPaymentFailed,
			Title:    "Payment failed",
			Message:  truncate(fmt.Sprintf("Payment for %q did not go through. You can retry from your booking.", req.Title), models.MaxNotificationMessage),
			Priority: models.PriorityUrgent,
			Data:     encodeData(map[string]string{"tripRequestId": req.ID, "bookingId": bookingID}),
		})
		return Outcome{TripRequest: req, Warnings: warnings}, nil
	}
}
