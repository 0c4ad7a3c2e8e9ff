package booking

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lankatrips/internal/models"
)

// Client talks to the marketplace Booking/Payment subsystem.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	merchantID  string
	secret      string
	callbackURL string
}

// NewClient constructs a booking subsystem client.
func NewClient(httpClient *http.Client, baseURL, merchantID, secret, callbackURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		merchantID:  merchantID,
		secret:      secret,
		callbackURL: callbackURL,
	}
}

// CreateBookingRequest describes the payable booking derived from an approved trip request.
type CreateBookingRequest struct {
	TripRequestID string    `json:"tripRequestId"`
	CustomerID    int       `json:"customerId"`
	Title         string    `json:"title"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	Adults        int       `json:"adults"`
	Children      int       `json:"children"`
	Infants       int       `json:"infants"`
}

// APIError is returned when the booking subsystem answers with a failure.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("booking: unexpected status %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("booking: unexpected status %s", e.Status)
}

// CreateBooking creates a booking. The trip request id is sent as the
// idempotency key so the subsystem returns the same booking on retries.
func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (models.Booking, error) {
	payload := map[string]interface{}{
		"merchant_id":     c.merchantID,
		"trip_request_id": req.TripRequestID,
		"customer_id":     req.CustomerID,
		"description":     req.Title,
		"amount":          req.Amount,
		"currency":        req.Currency,
		"start_date":      req.StartDate.Format("2006-01-02"),
		"end_date":        req.EndDate.Format("2006-01-02"),
		"travelers": map[string]int{
			"adults":   req.Adults,
			"children": req.Children,
			"infants":  req.Infants,
		},
		"callback_url": c.callbackURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.Booking{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return models.Booking{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TripRequestID)
	httpReq.Header.Set("X-Signature", Sign(body, c.secret))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.Booking{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return models.Booking{}, err
	}
	if resp.StatusCode >= 300 {
		return models.Booking{}, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(raw))}
	}

	var apiResp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Booking struct {
			ID         string  `json:"id"`
			Amount     float64 `json:"amount"`
			Currency   string  `json:"currency"`
			Status     string  `json:"status"`
			PaymentURL string  `json:"paymentUrl"`
		} `json:"booking"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return models.Booking{}, fmt.Errorf("booking: decode response: %w", err)
	}
	if !apiResp.Success {
		return models.Booking{}, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: apiResp.Message}
	}
	if apiResp.Booking.ID == "" {
		return models.Booking{}, errors.New("booking: response without booking id")
	}

	status := apiResp.Booking.Status
	if status == "" {
		status = "pending_payment"
	}
	return models.Booking{
		ID:         apiResp.Booking.ID,
		Amount:     apiResp.Booking.Amount,
		Currency:   apiResp.Booking.Currency,
		Status:     status,
		PaymentURL: apiResp.Booking.PaymentURL,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
