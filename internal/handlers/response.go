package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"lankatrips/internal/models"
)

// Envelope is the wrapper of every JSON response.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Meta  *Meta       `json:"meta,omitempty"`
	Error *APIError   `json:"error,omitempty"`
}

// Meta carries pagination and side effect warnings.
type Meta struct {
	Page     int      `json:"page,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Total    *int     `json:"total,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type APIError struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Field   string           `json:"field,omitempty"`
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation, models.KindInvalidApprovalCost:
		return http.StatusBadRequest
	case models.KindUnauthenticated:
		return http.StatusUnauthorized
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindNotFound, models.KindUnknownUser:
		return http.StatusNotFound
	case models.KindInvalidStateTransition, models.KindEditNotAllowed, models.KindRequestNotApproved:
		return http.StatusConflict
	case models.KindNoRecipients:
		return http.StatusUnprocessableEntity
	case models.KindBookingCreationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeData(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	if meta != nil && meta.Total == nil && meta.Page == 0 && len(meta.Warnings) == 0 {
		meta = nil
	}
	writeJSON(w, status, Envelope{Data: data, Meta: meta})
}

func warningsMeta(warnings []string) *Meta {
	if len(warnings) == 0 {
		return nil
	}
	return &Meta{Warnings: warnings}
}

// writeError maps err to its HTTP status. Errors without a domain kind are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, log *zap.Logger, r *http.Request, err error) {
	err = classifyDBError(err)

	var derr *models.Error
	if !errors.As(err, &derr) {
		if log != nil {
			log.Error("request failed", zap.String("method", r.Method), zap.String("uri", r.URL.RequestURI()), zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, Envelope{Error: &APIError{
			Kind:    models.KindInternal,
			Message: "an unexpected error occurred",
		}})
		return
	}

	status := statusForKind(derr.Kind)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.String("method", r.Method), zap.String("uri", r.URL.RequestURI()), zap.Error(err))
	}
	message := derr.Message
	if derr.Kind == models.KindBookingCreationFailed && derr.Err != nil {
		message += ": " + derr.Err.Error()
	}
	writeJSON(w, status, Envelope{Error: &APIError{Kind: derr.Kind, Message: message, Field: derr.Field}})
}
