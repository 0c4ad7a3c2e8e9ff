package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
)

type TripRequestRepository struct {
	DB *sql.DB
}

// Transition describes one atomic change of a trip request. The status
// check-and-set, the optional column updates and the communication row are
// written in a single transaction.
type Transition struct {
	ID              string
	From            fsm.Status
	To              fsm.Status
	Now             time.Time
	Review          *models.Review
	RejectionReason *string
	AssignedTo      *int
	Priority        *models.Priority
	Details         *models.TripDetails
	Booking         *models.Booking
	Communication   *models.Communication
}

const tripRequestColumns = `
        id, user_id, title, description, tags, start_date, end_date,
        adults, children, infants, min_budget, max_budget, currency,
        destinations, preferences, contact_info, status, priority,
        review, rejection_reason, assigned_to, booking_id, booking,
        created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TripRequestRepository) Create(ctx context.Context, req models.TripRequest) (models.TripRequest, error) {
	tags, destinations, preferences, contact, err := marshalDetails(req.Details())
	if err != nil {
		return models.TripRequest{}, err
	}

	query := `
        INSERT INTO trip_requests (id, user_id, title, description, tags, start_date, end_date,
            adults, children, infants, min_budget, max_budget, currency,
            destinations, preferences, contact_info, status, priority, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = r.DB.ExecContext(ctx, query,
		req.ID, req.UserID, req.Title, req.Description, tags, req.StartDate, req.EndDate,
		req.Travelers.Adults, req.Travelers.Children, req.Travelers.Infants,
		nullFloat(req.Budget.Min), nullFloat(req.Budget.Max), req.Budget.Currency,
		destinations, preferences, contact, string(req.Status), string(req.Priority), req.CreatedAt,
	)
	if err != nil {
		return models.TripRequest{}, err
	}
	req.Communications = []models.Communication{}
	return req, nil
}

func (r *TripRequestRepository) GetByID(ctx context.Context, id string) (models.TripRequest, error) {
	query := `SELECT ` + tripRequestColumns + ` FROM trip_requests WHERE id = ?`
	req, err := scanTripRequest(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripRequest{}, models.ErrNoRecord
	}
	if err != nil {
		return models.TripRequest{}, err
	}

	comms, err := r.ListCommunications(ctx, id)
	if err != nil {
		return models.TripRequest{}, err
	}
	req.Communications = comms
	return req, nil
}

func (r *TripRequestRepository) GetByBookingID(ctx context.Context, bookingID string) (models.TripRequest, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM trip_requests WHERE booking_id = ?`, bookingID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripRequest{}, models.ErrNoRecord
	}
	if err != nil {
		return models.TripRequest{}, err
	}
	return r.GetByID(ctx, id)
}

// List returns one newest-first page of trip requests and the total number of matches.
func (r *TripRequestRepository) List(ctx context.Context, filter models.TripRequestFilter) ([]models.TripRequest, int, error) {
	var (
		args  []interface{}
		parts []string
	)

	if filter.UserID != nil {
		parts = append(parts, "AND user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Status != "" {
		parts = append(parts, "AND status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		parts = append(parts, "AND priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.AssignedTo != nil {
		parts = append(parts, "AND assigned_to = ?")
		args = append(args, *filter.AssignedTo)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		parts = append(parts, "AND (title LIKE ? OR description LIKE ?)")
		args = append(args, "%"+s+"%", "%"+s+"%")
	}
	where := " WHERE 1=1 " + strings.Join(parts, " ")

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trip_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	_, limit, offset := models.Paginate(filter.Page, filter.Limit)
	query := `SELECT ` + tripRequestColumns + ` FROM trip_requests` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := []models.TripRequest{}
	for rows.Next() {
		req, err := scanTripRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ApplyTransition performs t atomically. models.ErrStaleStatus means the
// request was no longer in t.From when the update ran.
func (r *TripRequestRepository) ApplyTransition(ctx context.Context, t Transition) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fsm.Apply(ctx, tx, t.ID, t.From, t.To, t.Now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrStaleStatus
		}
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	if t.Review != nil {
		review, mErr := json.Marshal(t.Review)
		if mErr != nil {
			return mErr
		}
		sets = append(sets, "review = ?")
		args = append(args, review)
	}
	if t.RejectionReason != nil {
		sets = append(sets, "rejection_reason = ?")
		args = append(args, *t.RejectionReason)
	}
	if t.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *t.AssignedTo)
	}
	if t.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*t.Priority))
	}
	if t.Details != nil {
		tags, destinations, preferences, contact, mErr := marshalDetails(*t.Details)
		if mErr != nil {
			return mErr
		}
		sets = append(sets,
			"title = ?", "description = ?", "tags = ?", "start_date = ?", "end_date = ?",
			"adults = ?", "children = ?", "infants = ?", "min_budget = ?", "max_budget = ?", "currency = ?",
			"destinations = ?", "preferences = ?", "contact_info = ?")
		d := t.Details
		args = append(args,
			d.Title, d.Description, tags, d.StartDate, d.EndDate,
			d.Travelers.Adults, d.Travelers.Children, d.Travelers.Infants,
			nullFloat(d.Budget.Min), nullFloat(d.Budget.Max), d.Budget.Currency,
			destinations, preferences, contact)
	}
	if t.Booking != nil {
		snapshot, mErr := json.Marshal(t.Booking)
		if mErr != nil {
			return mErr
		}
		sets = append(sets, "booking = ?")
		args = append(args, snapshot)
	}
	if len(sets) > 0 {
		query := `UPDATE trip_requests SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		if _, err = tx.ExecContext(ctx, query, append(args, t.ID)...); err != nil {
			return err
		}
	}

	if t.Communication != nil {
		if err = insertCommunication(ctx, tx, t.ID, *t.Communication); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AttachBooking moves an approved request without a booking to
// pending_payment and stores the booking in one conditional update. It
// reports false when another caller already attached a booking or the
// request left the approved status.
func (r *TripRequestRepository) AttachBooking(ctx context.Context, id string, booking models.Booking, comm *models.Communication, now time.Time) (attached bool, err error) {
	snapshot, err := json.Marshal(booking)
	if err != nil {
		return false, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !attached {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
        UPDATE trip_requests
        SET status = ?, booking_id = ?, booking = ?, updated_at = ?
        WHERE id = ? AND status = ? AND booking_id IS NULL`,
		string(fsm.StatusPendingPayment), booking.ID, snapshot, now, id, string(fsm.StatusApproved))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if comm != nil {
		if err = insertCommunication(ctx, tx, id, *comm); err != nil {
			return false, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// AppendCommunication adds one entry to the log. Entries are never updated or removed.
func (r *TripRequestRepository) AppendCommunication(ctx context.Context, id string, comm models.Communication) error {
	return insertCommunication(ctx, r.DB, id, comm)
}

func (r *TripRequestRepository) ListCommunications(ctx context.Context, id string) ([]models.Communication, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, sent_by, sent_by_role, message, type, sent_at
        FROM trip_request_communications
        WHERE trip_request_id = ?
        ORDER BY sent_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comms := []models.Communication{}
	for rows.Next() {
		var (
			c     models.Communication
			cType string
		)
		if err := rows.Scan(&c.ID, &c.SentBy, &c.SentByRole, &c.Message, &cType, &c.SentAt); err != nil {
			return nil, err
		}
		c.Type = models.CommunicationType(cType)
		comms = append(comms, c)
	}
	return comms, rows.Err()
}

func (r *TripRequestRepository) CountByStatus(ctx context.Context) (map[fsm.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM trip_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[fsm.Status]int, len(fsm.All))
	for _, s := range fsm.All {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[fsm.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *TripRequestRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM trip_requests WHERE id = ?`, id)
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

func insertCommunication(ctx context.Context, db fsm.Execer, tripRequestID string, c models.Communication) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO trip_request_communications (id, trip_request_id, sent_by, sent_by_role, message, type, sent_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, tripRequestID, c.SentBy, c.SentByRole, c.Message, string(c.Type), c.SentAt)
	return err
}

func scanTripRequest(row rowScanner) (models.TripRequest, error) {
	var (
		req                                      models.TripRequest
		tags, destinations, preferences, contact []byte
		review, booking                          []byte
		minBudget, maxBudget                     sql.NullFloat64
		rejection                                sql.NullString
		assignedTo                               sql.NullInt64
		bookingID                                sql.NullString
		updatedAt                                sql.NullTime
		status, priority                         string
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.Title, &req.Description, &tags, &req.StartDate, &req.EndDate,
		&req.Travelers.Adults, &req.Travelers.Children, &req.Travelers.Infants,
		&minBudget, &maxBudget, &req.Budget.Currency,
		&destinations, &preferences, &contact, &status, &priority,
		&review, &rejection, &assignedTo, &bookingID, &booking,
		&req.CreatedAt, &updatedAt,
	)
	if err != nil {
		return models.TripRequest{}, err
	}

	req.Status = fsm.Status(status)
	req.Priority = models.Priority(priority)
	if minBudget.Valid {
		v := minBudget.Float64
		req.Budget.Min = &v
	}
	if maxBudget.Valid {
		v := maxBudget.Float64
		req.Budget.Max = &v
	}
	if rejection.Valid {
		req.RejectionReason = rejection.String
	}
	if assignedTo.Valid {
		v := int(assignedTo.Int64)
		req.AssignedTo = &v
	}
	if bookingID.Valid {
		v := bookingID.String
		req.BookingID = &v
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		req.UpdatedAt = &t
	}

	if err := unmarshalColumn("tags", tags, &req.Tags); err != nil {
		return models.TripRequest{}, err
	}
	if err := unmarshalColumn("destinations", destinations, &req.Destinations); err != nil {
		return models.TripRequest{}, err
	}
	if err := unmarshalColumn("preferences", preferences, &req.Preferences); err != nil {
		return models.TripRequest{}, err
	}
	if err := unmarshalColumn("contact_info", contact, &req.ContactInfo); err != nil {
		return models.TripRequest{}, err
	}
	if len(review) > 0 {
		req.Review = &models.Review{}
		if err := unmarshalColumn("review", review, req.Review); err != nil {
			return models.TripRequest{}, err
		}
	}
	if len(booking) > 0 {
		req.Booking = &models.Booking{}
		if err := unmarshalColumn("booking", booking, req.Booking); err != nil {
			return models.TripRequest{}, err
		}
	}
	return req, nil
}

func marshalDetails(d models.TripDetails) (tags, destinations, preferences, contact []byte, err error) {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Destinations == nil {
		d.Destinations = []models.Destination{}
	}
	if tags, err = json.Marshal(d.Tags); err != nil {
		return
	}
	if destinations, err = json.Marshal(d.Destinations); err != nil {
		return
	}
	if preferences, err = json.Marshal(d.Preferences); err != nil {
		return
	}
	contact, err = json.Marshal(d.ContactInfo)
	return
}

func unmarshalColumn(name string, raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
