package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lankatrips/internal/booking"
	"lankatrips/internal/models"
	"lankatrips/internal/services"
)

// PaymentCallbackHandler receives payment results from the booking subsystem.
type PaymentCallbackHandler struct {
	Bridge        *services.BookingBridge
	WebhookSecret string
	Log           *zap.Logger
}

func (h *PaymentCallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.Log, r, models.NewValidationError("body", "unreadable callback body"))
		return
	}
	if !booking.VerifyHMAC(raw, r.Header.Get("X-Signature"), h.WebhookSecret) {
		writeError(w, h.Log, r, &models.Error{Kind: models.KindUnauthenticated, Message: "invalid callback signature"})
		return
	}

	var payload struct {
		BookingID string `json:"bookingId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&payload); err != nil {
		writeError(w, h.Log, r, models.NewValidationError("body", "invalid callback body: %v", err))
		return
	}
	if strings.TrimSpace(payload.BookingID) == "" {
		writeError(w, h.Log, r, models.NewValidationError("bookingId", "missing bookingId"))
		return
	}

	out, err := h.Bridge.ConfirmPayment(r.Context(), payload.BookingID, payload.Status)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if h.Log != nil {
		h.Log.Info("payment callback applied",
			zap.String("booking_id", payload.BookingID),
			zap.String("status", payload.Status),
			zap.String("trip_request_id", out.TripRequest.ID))
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"bookingId":     payload.BookingID,
		"tripRequestId": out.TripRequest.ID,
		"tripStatus":    out.TripRequest.Status,
	}, warningsMeta(out.Warnings))
}
