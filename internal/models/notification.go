package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationBookingConfirmed   NotificationType = "booking_confirmed"
	NotificationBookingCancelled   NotificationType = "booking_cancelled"
	NotificationTripRequest        NotificationType = "trip_request"
	NotificationVehicleApproved    NotificationType = "vehicle_approved"
	NotificationTourApproved       NotificationType = "tour_approved"
	NotificationHotelApproved      NotificationType = "hotel_approved"
	NotificationPaymentSuccess     NotificationType = "payment_success"
	NotificationPaymentFailed      NotificationType = "payment_failed"
	NotificationSystemAnnouncement NotificationType = "system_announcement"
	NotificationGeneral            NotificationType = "general"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationBookingConfirmed, NotificationBookingCancelled, NotificationTripRequest,
		NotificationVehicleApproved, NotificationTourApproved, NotificationHotelApproved,
		NotificationPaymentSuccess, NotificationPaymentFailed, NotificationSystemAnnouncement,
		NotificationGeneral:
		return true
	}
	return false
}

const (
	MaxNotificationTitle   = 100
	MaxNotificationMessage = 500
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    int              `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	IsRead    bool             `json:"isRead"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	Priority  Priority         `json:"priority"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NotificationFilter selects a page of a user's notifications.
type NotificationFilter struct {
	Page       int
	Limit      int
	UnreadOnly bool
	Type       NotificationType
	Priority   Priority
}

// NotificationPage is one newest-first page of notifications.
type NotificationPage struct {
	Items       []Notification `json:"items"`
	Total       int            `json:"total"`
	UnreadCount int            `json:"unreadCount"`
	Page        int            `json:"page"`
	Limit       int            `json:"limit"`
}
