package services

import (
	"context"
	"errors"
	"time"

	"lankatrips/internal/booking"
	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
)

// Logger provides the logging the services need. *zap.SugaredLogger satisfies it.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type TripRequestStore interface {
	Create(ctx context.Context, req models.TripRequest) (models.TripRequest, error)
	GetByID(ctx context.Context, id string) (models.TripRequest, error)
	GetByBookingID(ctx context.Context, bookingID string) (models.TripRequest, error)
	List(ctx context.Context, filter models.TripRequestFilter) ([]models.TripRequest, int, error)
	ApplyTransition(ctx context.Context, t repositories.Transition) error
	AttachBooking(ctx context.Context, id string, b models.Booking, comm *models.Communication, now time.Time) (bool, error)
	AppendCommunication(ctx context.Context, id string, comm models.Communication) error
	CountByStatus(ctx context.Context) (map[fsm.Status]int, error)
	Delete(ctx context.Context, id string) error
}

type NotificationStore interface {
	Create(ctx context.Context, n models.Notification) (models.Notification, error)
	List(ctx context.Context, userID int, filter models.NotificationFilter) (models.NotificationPage, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	MarkRead(ctx context.Context, userID int, ids []string, now time.Time) (int, error)
	Delete(ctx context.Context, userID int, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// UserDirectory resolves marketplace users for authorization and targeting.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int) (models.User, error)
	ListUserIDsByRoles(ctx context.Context, roles []string) ([]int, error)
}

// BookingCreator is the Booking/Payment subsystem.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req booking.CreateBookingRequest) (models.Booking, error)
}

// Mailer relays staff emails to customers.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier creates a single notification for a lifecycle event.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (models.Notification, error)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return now
}

// loadTripRequest maps a missing row to a not_found domain error.
func loadTripRequest(ctx context.Context, store TripRequestStore, id string) (models.TripRequest, error) {
	req, err := store.GetByID(ctx, id)
	if errors.Is(err, models.ErrNoRecord) {
		return models.TripRequest{}, models.NewNotFoundError("trip request", id)
	}
	return req, err
}
