package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripRequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_request_transitions_total",
			Help: "Applied trip request status transitions",
		},
		[]string{"from", "to"},
	)

	TripRequestConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_request_conflicts_total",
			Help: "Transitions rejected because another writer changed the status first",
		},
		[]string{"to"},
	)

	BookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trip_request_bookings_created_total",
			Help: "Bookings created from approved trip requests",
		},
	)

	BookingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trip_request_booking_failures_total",
			Help: "Booking subsystem rejections",
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications stored for users",
		},
		[]string{"type"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_failures_total",
			Help: "Notifications that could not be stored",
		},
		[]string{"type"},
	)

	NotificationsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_removed_total",
			Help: "Notifications removed by periodic cleanup",
		},
		[]string{"reason"},
	)
)
