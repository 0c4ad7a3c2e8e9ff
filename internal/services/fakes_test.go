package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lankatrips/internal/booking"
	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type memTripStore struct {
	mu       sync.Mutex
	requests map[string]models.TripRequest
	// failApply makes ApplyTransition return errStore once set.
	failApply bool
	// beforeApply runs once at the start of the next ApplyTransition.
	beforeApply func()
}

var errStore = errors.New("store unavailable")

func newMemTripStore(reqs ...models.TripRequest) *memTripStore {
	s := &memTripStore{requests: make(map[string]models.TripRequest)}
	for _, r := range reqs {
		if r.Communications == nil {
			r.Communications = []models.Communication{}
		}
		s.requests[r.ID] = r
	}
	return s
}

func cloneRequest(r models.TripRequest) models.TripRequest {
	r.Communications = append([]models.Communication(nil), r.Communications...)
	return r
}

func (s *memTripStore) Create(_ context.Context, req models.TripRequest) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Communications = []models.Communication{}
	s.requests[req.ID] = req
	return cloneRequest(req), nil
}

func (s *memTripStore) GetByID(_ context.Context, id string) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.TripRequest{}, models.ErrNoRecord
	}
	return cloneRequest(r), nil
}

func (s *memTripStore) GetByBookingID(_ context.Context, bookingID string) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.BookingID != nil && *r.BookingID == bookingID {
			return cloneRequest(r), nil
		}
	}
	return models.TripRequest{}, models.ErrNoRecord
}

func (s *memTripStore) List(_ context.Context, filter models.TripRequestFilter) ([]models.TripRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TripRequest
	for _, r := range s.requests {
		if filter.UserID != nil && r.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && r.Priority != filter.Priority {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (s *memTripStore) ApplyTransition(_ context.Context, t repositories.Transition) error {
	s.mu.Lock()
	hook := s.beforeApply
	s.beforeApply = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApply {
		return errStore
	}
	r, ok := s.requests[t.ID]
	if !ok || r.Status != t.From {
		return models.ErrStaleStatus
	}
	r.Status = t.To
	now := t.Now
	r.UpdatedAt = &now
	if t.Review != nil {
		review := *t.Review
		r.Review = &review
	}
	if t.RejectionReason != nil {
		r.RejectionReason = *t.RejectionReason
	}
	if t.AssignedTo != nil {
		a := *t.AssignedTo
		r.AssignedTo = &a
	}
	if t.Priority != nil {
		r.Priority = *t.Priority
	}
	if t.Details != nil {
		r.ApplyDetails(*t.Details)
	}
	if t.Booking != nil {
		b := *t.Booking
		r.Booking = &b
	}
	if t.Communication != nil {
		r.Communications = append(r.Communications, *t.Communication)
	}
	s.requests[t.ID] = r
	return nil
}

func (s *memTripStore) AttachBooking(_ context.Context, id string, b models.Booking, comm *models.Communication, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != fsm.StatusApproved || r.BookingID != nil {
		return false, nil
	}
	r.Status = fsm.StatusPendingPayment
	bookingID := b.ID
	r.BookingID = &bookingID
	r.Booking = &b
	r.UpdatedAt = &now
	if comm != nil {
		r.Communications = append(r.Communications, *comm)
	}
	s.requests[id] = r
	return true, nil
}

func (s *memTripStore) AppendCommunication(_ context.Context, id string, comm models.Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.ErrNoRecord
	}
	r.Communications = append(r.Communications, comm)
	s.requests[id] = r
	return nil
}

func (s *memTripStore) CountByStatus(context.Context) (map[fsm.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[fsm.Status]int)
	for _, r := range s.requests {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *memTripStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return models.ErrNoRecord
	}
	delete(s.requests, id)
	return nil
}

func (s *memTripStore) get(id string) models.TripRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRequest(s.requests[id])
}

type memNotificationStore struct {
	mu        sync.Mutex
	items     []models.Notification
	failUsers map[int]bool
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{failUsers: make(map[int]bool)}
}

func (s *memNotificationStore) Create(_ context.Context, n models.Notification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers[n.UserID] {
		return models.Notification{}, errStore
	}
	s.items = append(s.items, n)
	return n, nil
}

func (s *memNotificationStore) List(_ context.Context, userID int, filter models.NotificationFilter) (models.NotificationPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, limit, offset := models.Paginate(filter.Page, filter.Limit)
	var matched []models.Notification
	unread := 0
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if n.UserID != userID {
			continue
		}
		if !n.IsRead {
			unread++
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		matched = append(matched, n)
	}
	result := models.NotificationPage{Items: []models.Notification{}, Total: len(matched), UnreadCount: unread, Page: page, Limit: limit}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		result.Items = matched[offset:end]
	}
	return result, nil
}

func (s *memNotificationStore) UnreadCount(_ context.Context, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.UserID == userID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *memNotificationStore) MarkRead(_ context.Context, userID int, ids []string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	changed := 0
	for i, item := range s.items {
		if item.UserID != userID || item.IsRead {
			continue
		}
		if len(ids) > 0 && !selected[item.ID] {
			continue
		}
		readAt := now
		s.items[i].IsRead = true
		s.items[i].ReadAt = &readAt
		changed++
	}
	return changed, nil
}

func (s *memNotificationStore) Delete(_ context.Context, userID int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id && item.UserID == userID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return models.ErrNoRecord
}

func (s *memNotificationStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return s.remove(func(n models.Notification) bool { return n.ExpiresAt != nil && !n.ExpiresAt.After(now) }), nil
}

func (s *memNotificationStore) DeleteReadBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.remove(func(n models.Notification) bool { return n.IsRead && n.ReadAt != nil && n.ReadAt.Before(cutoff) }), nil
}

func (s *memNotificationStore) remove(match func(models.Notification) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	removed := 0
	for _, n := range s.items {
		if match(n) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return removed
}

func (s *memNotificationStore) forUser(userID int) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type memUsers struct {
	users map[int]models.User
}

func newMemUsers(users ...models.User) *memUsers {
	d := &memUsers{users: make(map[int]models.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memUsers) GetUserByID(_ context.Context, id int) (models.User, error) {
	u, ok := d.users[id]
	if !ok {
		return models.User{}, models.ErrUserNotFound
	}
	return u, nil
}

func (d *memUsers) ListUserIDsByRoles(_ context.Context, roles []string) ([]int, error) {
	var ids []int
	for id, u := range d.users {
		if len(roles) == 0 {
			ids = append(ids, id)
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Ints(ids)
	return ids, nil
}

type fakeBookingClient struct {
	calls int32
	delay time.Duration
	err   error

	mu       sync.Mutex
	requests []booking.CreateBookingRequest
}

func (c *fakeBookingClient) CreateBooking(_ context.Context, req booking.CreateBookingRequest) (models.Booking, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.err != nil {
		return models.Booking{}, c.err
	}
	return models.Booking{
		ID:         "bk-" + req.TripRequestID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     "pending_payment",
		PaymentURL: "https://pay.example.lk/bk-" + req.TripRequestID,
	}, nil
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, NotifyInput) (models.Notification, error) {
	return models.Notification{}, errStore
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject+"|"+body)
	return nil
}

// Test actors and users.
var (
	customer      = models.Actor{UserID: 7, Role: models.RoleCustomer}
	otherCustomer = models.Actor{UserID: 8, Role: models.RoleCustomer}
	staff         = models.Actor{UserID: 3, Role: models.RoleStaff}
	admin         = models.Actor{UserID: 1, Role: models.RoleAdmin}
)

func testUsers() *memUsers {
	return newMemUsers(
		models.User{ID: 1, Name: "Admin", Email: "admin@lankatrips.lk", Role: models.RoleAdmin},
		models.User{ID: 3, Name: "Nimal", Email: "nimal@lankatrips.lk", Role: models.RoleStaff},
		models.User{ID: 7, Name: "Ayesha", Email: "ayesha@example.com", Role: models.RoleCustomer},
		models.User{ID: 8, Name: "Kasun", Role: models.RoleCustomer},
	)
}

func floatPtr(v float64) *float64 { return &v }

func kandyGalleDetails() models.TripDetails {
	start := testNow.AddDate(0, 3, 0)
	return models.TripDetails{
		Title:       "Kandy and Galle",
		Description: "Temple of the Tooth, then the fort",
		Tags:        []string{"culture", "beach", "culture"},
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 5),
		Travelers:   models.Travelers{Adults: 2, Children: 1},
		Budget:      models.Budget{Min: floatPtr(50000), Max: floatPtr(200000), Currency: "LKR"},
		Destinations: []models.Destination{
			{Name: "Kandy", Duration: 2, Activities: []string{"temple", "tea"}},
			{Name: "Galle", Duration: 3, Activities: []string{"fort"}},
		},
		Preferences: models.Preferences{Accommodation: "boutique", Transportation: "private_car", MealPlan: "breakfast"},
		ContactInfo: models.ContactInfo{Phone: "771234567", CountryCode: "+94", PreferredContactMethod: "email", Timezone: "Asia/Colombo"},
	}
}

func storedRequest(id string, status fsm.Status) models.TripRequest {
	req := models.TripRequest{
		ID:        id,
		UserID:    customer.UserID,
		Status:    status,
		Priority:  models.PriorityMedium,
		CreatedAt: testNow.Add(-time.Hour),
	}
	req.ApplyDetails(kandyGalleDetails())
	return req
}

type harness struct {
	store    *memTripStore
	notes    *memNotificationStore
	users    *memUsers
	client   *fakeBookingClient
	mailer   *fakeMailer
	machine  *TripRequestStateMachine
	notifier *NotificationDispatcher
	approval *ApprovalEngine
	bridge   *BookingBridge
	trips    *TripRequestService
}

func newHarness(reqs ...models.TripRequest) *harness {
	h := &harness{
		store:  newMemTripStore(reqs...),
		notes:  newMemNotificationStore(),
		users:  testUsers(),
		client: &fakeBookingClient{},
		mailer: &fakeMailer{},
	}
	h.machine = NewTripRequestStateMachine(h.store, nil, fixedClock)
	h.notifier = NewNotificationDispatcher(h.notes, h.users, nil, fixedClock)
	h.approval = NewApprovalEngine(h.machine, h.notifier, nil)
	h.bridge = NewBookingBridge(h.store, h.machine, h.client, nil, h.notifier, nil)
	h.trips = NewTripRequestService(h.store, h.users, h.machine, h.approval, h.notifier, h.mailer, nil)
	return h
}
