package models

import "time"

// Booking is the payable reservation created by the booking subsystem.
type Booking struct {
	ID         string    `json:"id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	PaymentURL string    `json:"paymentUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
