package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lankatrips/internal/models"
	"lankatrips/internal/services"
)

type NotificationHandler struct {
	Dispatcher *services.NotificationDispatcher
	Validator  *RequestValidator
	Log        *zap.Logger
}

func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	filter := models.NotificationFilter{
		Type:     models.NotificationType(strings.TrimSpace(r.URL.Query().Get("type"))),
		Priority: models.Priority(strings.TrimSpace(r.URL.Query().Get("priority"))),
	}
	var err error
	if filter.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if filter.UnreadOnly, err = queryBool(r, "unreadOnly"); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	page, err := h.Dispatcher.List(r.Context(), actor.UserID, filter)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"notifications": page.Items,
		"unreadCount":   page.UnreadCount,
	}, &Meta{Page: page.Page, Limit: page.Limit, Total: &page.Total})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Dispatcher.UnreadCount(r.Context(), actorFromRequest(r).UserID)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unreadCount": count}, nil)
}

// MarkRead marks the listed notifications read, or every unread one when
// notificationIds is omitted. An empty list changes nothing.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NotificationIDs *[]string `json:"notificationIds" validate:"omitempty,max=500,dive,required,max=64"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, h.Log, r, err)
			return
		}
		if err := h.Validator.Validate(body); err != nil {
			writeError(w, h.Log, r, err)
			return
		}
	}
	var ids []string
	if body.NotificationIDs != nil {
		ids = append([]string{}, *body.NotificationIDs...)
	}

	changed, err := h.Dispatcher.MarkRead(r.Context(), actorFromRequest(r).UserID, ids)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"updated": changed}, nil)
}

func (h *NotificationHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := getParam(r, "id")
	if err := h.Dispatcher.Delete(r.Context(), actorFromRequest(r).UserID, id); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true}, nil)
}

type sendNotificationBody struct {
	UserID    int             `json:"userId" validate:"required,gt=0"`
	Type      string          `json:"type" validate:"required"`
	Title     string          `json:"title" validate:"required,max=100"`
	Message   string          `json:"message" validate:"required,max=500"`
	Data      json.RawMessage `json:"data"`
	Priority  string          `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	ExpiresAt *time.Time      `json:"expiresAt"`
}

type broadcastBody struct {
	Type      string          `json:"type" validate:"required"`
	Title     string          `json:"title" validate:"required,max=100"`
	Message   string          `json:"message" validate:"required,max=500"`
	Data      json.RawMessage `json:"data"`
	Priority  string          `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	UserRoles []string        `json:"userRoles" validate:"omitempty,dive,oneof=customer staff hotel_owner admin"`
}

func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body sendNotificationBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	n, err := h.Dispatcher.Send(r.Context(), actorFromRequest(r), services.NotifyInput{
		UserID:    body.UserID,
		Type:      models.NotificationType(body.Type),
		Title:     body.Title,
		Message:   body.Message,
		Data:      body.Data,
		Priority:  models.Priority(body.Priority),
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusCreated, n, nil)
}

func (h *NotificationHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	res, err := h.Dispatcher.Broadcast(r.Context(), actorFromRequest(r), services.BroadcastInput{
		Type:     models.NotificationType(body.Type),
		Title:    body.Title,
		Message:  body.Message,
		Data:     body.Data,
		Priority: models.Priority(body.Priority),
		Roles:    body.UserRoles,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}
