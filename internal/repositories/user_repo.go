package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"lankatrips/internal/models"
)

// UserRepository is a read-only view over the marketplace users table.
type UserRepository struct {
	DB *sql.DB
}

func (r *UserRepository) GetUserByID(ctx context.Context, id int) (models.User, error) {
	var (
		user         models.User
		phone, email sql.NullString
		updatedAt    sql.NullTime
	)
	query := `
        SELECT id, name, phone, email, role, created_at, updated_at
        FROM users
        WHERE id = ?
    `
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Name, &phone, &email, &user.Role, &user.CreatedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, models.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	user.Phone = phone.String
	user.Email = email.String
	if updatedAt.Valid {
		t := updatedAt.Time
		user.UpdatedAt = &t
	}
	return user, nil
}

// ListUserIDsByRoles returns the ids of users whose role is in roles, or of
// every user when roles is empty.
func (r *UserRepository) ListUserIDsByRoles(ctx context.Context, roles []string) ([]int, error) {
	query := `SELECT id FROM users`
	var args []interface{}
	if len(roles) > 0 {
		query += ` WHERE role IN (?` + strings.Repeat(", ?", len(roles)-1) + `)`
		for _, role := range roles {
			args = append(args, role)
		}
	}
	query += ` ORDER BY id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
