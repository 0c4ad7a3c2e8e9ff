package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"lankatrips/internal/models"
)

type NotificationRepository struct {
	DB *sql.DB
}

const notificationColumns = `id, user_id, type, title, message, data, is_read, read_at, priority, expires_at, created_at`

func (r *NotificationRepository) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	query := `
        INSERT INTO notifications (id, user_id, type, title, message, data, is_read, priority, expires_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
    `
	var data interface{}
	if len(n.Data) > 0 {
		data = []byte(n.Data)
	}
	_, err := r.DB.ExecContext(ctx, query,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data,
		string(n.Priority), nullTime(n.ExpiresAt), n.CreatedAt,
	)
	if err != nil {
		return models.Notification{}, err
	}
	n.IsRead = false
	n.ReadAt = nil
	return n, nil
}

// List returns a newest-first page of the user's notifications together with
// the number of matching rows and the user's overall unread count.
func (r *NotificationRepository) List(ctx context.Context, userID int, filter models.NotificationFilter) (models.NotificationPage, error) {
	page, limit, offset := models.Paginate(filter.Page, filter.Limit)

	parts := []string{"user_id = ?"}
	args := []interface{}{userID}
	if filter.UnreadOnly {
		parts = append(parts, "is_read = 0")
	}
	if filter.Type != "" {
		parts = append(parts, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Priority != "" {
		parts = append(parts, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	where := " WHERE " + strings.Join(parts, " AND ")

	result := models.NotificationPage{Items: []models.Notification{}, Page: page, Limit: limit}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`+where, args...).Scan(&result.Total); err != nil {
		return models.NotificationPage{}, err
	}
	unread, err := r.UnreadCount(ctx, userID)
	if err != nil {
		return models.NotificationPage{}, err
	}
	result.UnreadCount = unread

	query := `SELECT ` + notificationColumns + ` FROM notifications` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return models.NotificationPage{}, err
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return models.NotificationPage{}, err
		}
		result.Items = append(result.Items, n)
	}
	if err := rows.Err(); err != nil {
		return models.NotificationPage{}, err
	}
	return result, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}

// MarkRead flags the user's unread notifications as read. With no ids every
// unread notification of the user is affected. Rows that are already read
// keep their original read_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID int, ids []string, now time.Time) (int, error) {
	query := `UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0`
	args := []interface{}{now, userID}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Delete removes a notification owned by userID.
func (r *NotificationRepository) Delete(ctx context.Context, userID int, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNoRecord
	}
	return nil
}

func (r *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	return int(rows), err
}

func (r *NotificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE is_read = 1 AND read_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	return int(rows), err
}

func scanNotification(row rowScanner) (models.Notification, error) {
	var (
		n                 models.Notification
		nType, priority   string
		data              []byte
		readAt, expiresAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.UserID, &nType, &n.Title, &n.Message, &data, &n.IsRead, &readAt, &priority, &expiresAt, &n.CreatedAt); err != nil {
		return models.Notification{}, err
	}
	n.Type = models.NotificationType(nType)
	n.Priority = models.Priority(priority)
	if len(data) > 0 {
		n.Data = append([]byte(nil), data...)
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
