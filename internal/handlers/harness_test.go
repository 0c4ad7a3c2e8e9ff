package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
	"lankatrips/internal/services"
)

var handlerNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// tripStore keeps trip requests in memory. Methods the handler tests never
// reach fall through to the nil embedded interface.
type tripStore struct {
	services.TripRequestStore

	mu       sync.Mutex
	requests map[string]models.TripRequest
}

func newTripStore(reqs ...models.TripRequest) *tripStore {
	s := &tripStore{requests: make(map[string]models.TripRequest)}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *tripStore) Create(_ context.Context, req models.TripRequest) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Communications = []models.Communication{}
	s.requests[req.ID] = req
	return req, nil
}

func (s *tripStore) GetByID(_ context.Context, id string) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return models.TripRequest{}, models.ErrNoRecord
	}
	return r, nil
}

func (s *tripStore) GetByBookingID(_ context.Context, bookingID string) (models.TripRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.BookingID != nil && *r.BookingID == bookingID {
			return r, nil
		}
	}
	return models.TripRequest{}, models.ErrNoRecord
}

func (s *tripStore) ApplyTransition(_ context.Context, t repositories.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[t.ID]
	if !ok || r.Status != t.From {
		return models.ErrStaleStatus
	}
	r.Status = t.To
	if t.Review != nil {
		r.Review = t.Review
	}
	if t.RejectionReason != nil {
		r.RejectionReason = *t.RejectionReason
	}
	if t.Booking != nil {
		r.Booking = t.Booking
	}
	if t.Communication != nil {
		r.Communications = append(r.Communications, *t.Communication)
	}
	s.requests[t.ID] = r
	return nil
}

type users map[int]models.User

func (u users) GetUserByID(_ context.Context, id int) (models.User, error) {
	user, ok := u[id]
	if !ok {
		return models.User{}, models.ErrUserNotFound
	}
	return user, nil
}

func (u users) ListUserIDsByRoles(_ context.Context, roles []string) ([]int, error) {
	var ids []int
	for id, user := range u {
		if len(roles) == 0 || slices.Contains(roles, user.Role) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []services.NotifyInput
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, in services.NotifyInput) (models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return models.Notification{}, n.err
	}
	n.sent = append(n.sent, in)
	return models.Notification{ID: "n-1", UserID: in.UserID, Type: in.Type}, nil
}

var (
	customerActor = models.Actor{UserID: 7, Role: models.RoleCustomer}
	staffActor    = models.Actor{UserID: 3, Role: models.RoleStaff}
)

type testEnv struct {
	store    *tripStore
	notifier *recordingNotifier
	trips    *TripRequestHandler
	payments *PaymentCallbackHandler
}

func newTestEnv(reqs ...models.TripRequest) *testEnv {
	store := newTripStore(reqs...)
	notifier := &recordingNotifier{}
	dir := users{
		3: {ID: 3, Name: "Nimal", Role: models.RoleStaff},
		7: {ID: 7, Name: "Ayesha", Email: "ayesha@example.com", Role: models.RoleCustomer},
	}
	clock := func() time.Time { return handlerNow }

	machine := services.NewTripRequestStateMachine(store, nil, clock)
	approval := services.NewApprovalEngine(machine, notifier, nil)
	bridge := services.NewBookingBridge(store, machine, nil, nil, notifier, nil)
	svc := services.NewTripRequestService(store, dir, machine, approval, notifier, nil, nil)

	return &testEnv{
		store:    store,
		notifier: notifier,
		trips: &TripRequestHandler{
			Service:   svc,
			Approval:  approval,
			Bridge:    bridge,
			Validator: NewRequestValidator(),
		},
		payments: &PaymentCallbackHandler{Bridge: bridge, WebhookSecret: "whsec"},
	}
}

func pendingRequest(id string) models.TripRequest {
	start := handlerNow.AddDate(0, 3, 0)
	return models.TripRequest{
		ID:             id,
		UserID:         customerActor.UserID,
		Title:          "Kandy and Galle",
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 5),
		Travelers:      models.Travelers{Adults: 2},
		Budget:         models.Budget{Currency: "LKR"},
		Destinations:   []models.Destination{{Name: "Kandy", Duration: 2}, {Name: "Galle", Duration: 3}},
		Status:         fsm.StatusPending,
		Priority:       models.PriorityMedium,
		Communications: []models.Communication{},
		CreatedAt:      handlerNow.Add(-time.Hour),
	}
}

// serve runs h with actor in the context and ":id" set the way pat sets it.
func serve(h http.HandlerFunc, actor models.Actor, method, target, id string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	if id != "" {
		target += "?:id=" + id
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  *Meta           `json:"meta"`
	Error *APIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
