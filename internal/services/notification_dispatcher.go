package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lankatrips/internal/metrics"
	"lankatrips/internal/models"
)

const (
	defaultBroadcastBatchSize   = 100
	defaultBroadcastConcurrency = 8
)

// NotifyInput is one notification addressed to a single user.
type NotifyInput struct {
	UserID    int
	Type      models.NotificationType
	Title     string
	Message   string
	Data      json.RawMessage
	Priority  models.Priority
	ExpiresAt *time.Time
}

// BroadcastInput is a notification fanned out to every user in Roles, or to
// every user when Roles is empty.
type BroadcastInput struct {
	Type     models.NotificationType
	Title    string
	Message  string
	Data     json.RawMessage
	Priority models.Priority
	Roles    []string
}

// BroadcastFailure records a recipient whose notification was not stored.
type BroadcastFailure struct {
	UserID int    `json:"userId"`
	Error  string `json:"error"`
}

type BroadcastResult struct {
	SentCount int                `json:"sentCount"`
	Failures  []BroadcastFailure `json:"failures"`
}

type NotificationDispatcher struct {
	Store       NotificationStore
	Users       UserDirectory
	Logger      Logger
	Now         func() time.Time
	BatchSize   int
	Concurrency int
}

func NewNotificationDispatcher(store NotificationStore, users UserDirectory, logger Logger, now func() time.Time) *NotificationDispatcher {
	return &NotificationDispatcher{
		Store:       store,
		Users:       users,
		Logger:      loggerOrNop(logger),
		Now:         clockOrDefault(now),
		BatchSize:   defaultBroadcastBatchSize,
		Concurrency: defaultBroadcastConcurrency,
	}
}

// Notify stores a notification for an existing user.
func (d *NotificationDispatcher) Notify(ctx context.Context, in NotifyInput) (models.Notification, error) {
	n, err := d.build(in.Type, in.Title, in.Message, in.Data, in.Priority, in.ExpiresAt)
	if err != nil {
		return models.Notification{}, err
	}
	if _, err := d.Users.GetUserByID(ctx, in.UserID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return models.Notification{}, models.NewUnknownUserError(in.UserID)
		}
		return models.Notification{}, fmt.Errorf("lookup user %d: %w", in.UserID, err)
	}
	n.UserID = in.UserID
	return d.store(ctx, n)
}

// Send is the admin-only form of Notify.
func (d *NotificationDispatcher) Send(ctx context.Context, actor models.Actor, in NotifyInput) (models.Notification, error) {
	if err := Authorize(actor, ActionSendNotification, Resource{}); err != nil {
		return models.Notification{}, err
	}
	return d.Notify(ctx, in)
}

// Broadcast creates one notification per matching user. Recipients are
// written in batches with bounded concurrency and a failed write never
// stops the others.
func (d *NotificationDispatcher) Broadcast(ctx context.Context, actor models.Actor, in BroadcastInput) (BroadcastResult, error) {
	if err := Authorize(actor, ActionBroadcast, Resource{}); err != nil {
		return BroadcastResult{}, err
	}
	template, err := d.build(in.Type, in.Title, in.Message, in.Data, in.Priority, nil)
	if err != nil {
		return BroadcastResult{}, err
	}
	roles := models.NormalizeSet(in.Roles)
	for _, role := range roles {
		if !models.ValidRole(role) {
			return BroadcastResult{}, models.NewValidationError("userRoles", "unknown role %q", role)
		}
	}

	ids, err := d.Users.ListUserIDsByRoles(ctx, roles)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("resolve broadcast recipients: %w", err)
	}
	if len(ids) == 0 {
		return BroadcastResult{}, models.NewNoRecipientsError()
	}

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBroadcastBatchSize
	}
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = defaultBroadcastConcurrency
	}

	var (
		mu     sync.Mutex
		result = BroadcastResult{Failures: []BroadcastFailure{}}
	)
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var g errgroup.Group
		g.SetLimit(concurrency)
		for _, userID := range ids[start:end] {
			userID := userID
			g.Go(func() error {
				n := template
				n.ID = uuid.NewString()
				n.UserID = userID
				_, err := d.store(ctx, n)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failures = append(result.Failures, BroadcastFailure{UserID: userID, Error: err.Error()})
					return nil
				}
				result.SentCount++
				return nil
			})
		}
		_ = g.Wait()
	}

	d.Logger.Infof("broadcast %s to %d users: %d sent, %d failed", in.Type, len(ids), result.SentCount, len(result.Failures))
	return result, nil
}

// MarkRead marks the given unread notifications of userID as read, or all of
// them when ids is nil. It returns how many changed.
func (d *NotificationDispatcher) MarkRead(ctx context.Context, userID int, ids []string) (int, error) {
	if ids == nil {
		return d.Store.MarkRead(ctx, userID, nil, d.Now())
	}
	selected := models.NormalizeSet(ids)
	if len(selected) == 0 {
		return 0, nil
	}
	return d.Store.MarkRead(ctx, userID, selected, d.Now())
}

func (d *NotificationDispatcher) UnreadCount(ctx context.Context, userID int) (int, error) {
	return d.Store.UnreadCount(ctx, userID)
}

func (d *NotificationDispatcher) List(ctx context.Context, userID int, filter models.NotificationFilter) (models.NotificationPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return models.NotificationPage{}, models.NewValidationError("type", "unknown notification type %q", filter.Type)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return models.NotificationPage{}, models.NewValidationError("priority", "unknown priority %q", filter.Priority)
	}
	return d.Store.List(ctx, userID, filter)
}

// Delete removes one of the caller's notifications. Another user's
// notification is reported as missing.
func (d *NotificationDispatcher) Delete(ctx context.Context, userID int, id string) error {
	err := d.Store.Delete(ctx, userID, id)
	if errors.Is(err, models.ErrNoRecord) {
		return models.NewNotFoundError("notification", id)
	}
	return err
}

func (d *NotificationDispatcher) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := d.Store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	metrics.NotificationsRemoved.WithLabelValues("expired").Add(float64(n))
	return n, nil
}

func (d *NotificationDispatcher) PurgeRead(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := d.Store.DeleteReadBefore(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	metrics.NotificationsRemoved.WithLabelValues("read").Add(float64(n))
	return n, nil
}

func (d *NotificationDispatcher) build(nType models.NotificationType, title, message string, data json.RawMessage, priority models.Priority, expiresAt *time.Time) (models.Notification, error) {
	if !nType.Valid() {
		return models.Notification{}, models.NewValidationError("type", "unknown notification type %q", nType)
	}
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > models.MaxNotificationTitle {
		return models.Notification{}, models.NewValidationError("title", "title must be 1 to %d characters", models.MaxNotificationTitle)
	}
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > models.MaxNotificationMessage {
		return models.Notification{}, models.NewValidationError("message", "message must be 1 to %d characters", models.MaxNotificationMessage)
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return models.Notification{}, models.NewValidationError("priority", "unknown priority %q", priority)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 {
		if data[0] != '{' || !json.Valid(data) {
			return models.Notification{}, models.NewValidationError("data", "data must be a JSON object")
		}
	}

	now := d.Now()
	if expiresAt != nil && !expiresAt.After(now) {
		return models.Notification{}, models.NewValidationError("expiresAt", "expiresAt must be in the future")
	}
	return models.Notification{
		ID:        uuid.NewString(),
		Type:      nType,
		Title:     title,
		Message:   message,
		Data:      data,
		Priority:  priority,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

func (d *NotificationDispatcher) store(ctx context.Context, n models.Notification) (models.Notification, error) {
	created, err := d.Store.Create(ctx, n)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(string(n.Type)).Inc()
		return models.Notification{}, fmt.Errorf("store notification for user %d: %w", n.UserID, err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	return created, nil
}

// notifyBestEffort sends a lifecycle notification and turns a failure into a
// warning for the response instead of an error.
func notifyBestEffort(ctx context.Context, notifier Notifier, logger Logger, in NotifyInput) []string {
	if notifier == nil {
		return nil
	}
	if _, err := notifier.Notify(ctx, in); err != nil {
		logger.Warnf("%s notification for user %d failed: %v", in.Type, in.UserID, err)
		return []string{fmt.Sprintf("%s notification could not be delivered", in.Type)}
	}
	return nil
}

// encodeData marshals lifecycle payloads that are built from known types.
func encodeData(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
