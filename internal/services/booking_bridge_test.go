package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lankatrips/internal/booking"
	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
)

func approvedRequest(id string, cost float64) models.TripRequest {
	req := storedRequest(id, fsm.StatusApproved)
	req.Review = &models.Review{ApprovedCost: cost, ReviewedBy: staff.UserID, ReviewedAt: testNow}
	return req
}

func TestBookingBridge_KandyGalleScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	created, err := h.trips.Create(ctx, customer, kandyGalleDetails())
	require.NoError(t, err)
	assert.Equal(t, fsm.StatusPending, created.Status)
	assert.Equal(t, []string{"beach", "culture"}, created.Tags)

	_, err = h.trips.Assign(ctx, staff, created.ID, staff.UserID, models.PriorityHigh)
	require.NoError(t, err)
	_, err = h.trips.UpdateStatus(ctx, staff, created.ID, fsm.StatusUnderReview, "")
	require.NoError(t, err)
	_, err = h.approval.Approve(ctx, staff, created.ID, ApproveInput{ApprovedCost: "180000"})
	require.NoError(t, err)

	out, err := h.bridge.CreateBooking(ctx, customer, created.ID)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, 180000.0, out.Booking.Amount)
	assert.Equal(t, "LKR", out.Booking.Currency)
	assert.Equal(t, fsm.StatusPendingPayment, out.TripRequest.Status)

	require.Len(t, h.client.requests, 1)
	sent := h.client.requests[0]
	assert.Equal(t, created.ID, sent.TripRequestID)
	assert.Equal(t, 2, sent.Adults)
	assert.Equal(t, 1, sent.Children)

	confirmed, err := h.bridge.ConfirmPayment(ctx, out.Booking.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, fsm.StatusBooked, confirmed.TripRequest.Status)

	stored := h.store.get(created.ID)
	assert.Equal(t, fsm.StatusBooked, stored.Status)
	require.NotNil(t, stored.Booking)
	assert.Equal(t, "paid", stored.Booking.Status)

	var types []models.NotificationType
	for _, n := range h.notes.forUser(customer.UserID) {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, models.NotificationBookingConfirmed)
	assert.Contains(t, types, models.NotificationPaymentSuccess)
}

func TestBookingBridge_CreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("second call returns the stored booking", func(t *testing.T) {
		h := newHarness(approvedRequest("tr-1", 180000))
		first, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
		require.NoError(t, err)
		second, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
		require.NoError(t, err)

		assert.True(t, first.Created)
		assert.False(t, second.Created)
		assert.Equal(t, first.Booking.ID, second.Booking.ID)
		assert.Equal(t, int32(1), atomic.LoadInt32(&h.client.calls))
	})

	t.Run("requests that are not approved cannot be booked", func(t *testing.T) {
		for _, status := range []fsm.Status{fsm.StatusPending, fsm.StatusUnderReview, fsm.StatusRejected, fsm.StatusCancelled} {
			h := newHarness(storedRequest("tr-1", status))
			_, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
			assert.Equal(t, models.KindRequestNotApproved, models.KindOf(err), status)
			assert.Zero(t, atomic.LoadInt32(&h.client.calls))
		}
	})

	t.Run("other customers cannot book", func(t *testing.T) {
		h := newHarness(approvedRequest("tr-1", 1000))
		_, err := h.bridge.CreateBooking(ctx, otherCustomer, "tr-1")
		assert.Equal(t, models.KindAuthorization, models.KindOf(err))
	})

	t.Run("booking subsystem failure leaves the request approved", func(t *testing.T) {
		h := newHarness(approvedRequest("tr-1", 1000))
		h.client.err = errors.New("payment gateway down")

		_, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
		assert.Equal(t, models.KindBookingCreationFailed, models.KindOf(err))
		assert.Contains(t, err.Error(), "payment gateway down")

		stored := h.store.get("tr-1")
		assert.Equal(t, fsm.StatusApproved, stored.Status)
		assert.Nil(t, stored.BookingID)
	})
}

type zeroAmountClient struct {
	*fakeBookingClient
}

func (c zeroAmountClient) CreateBooking(ctx context.Context, req booking.CreateBookingRequest) (models.Booking, error) {
	b, err := c.fakeBookingClient.CreateBooking(ctx, req)
	b.Amount = 0
	b.Currency = ""
	return b, err
}

func TestBookingBridge_MissingAmountUsesApprovedCost(t *testing.T) {
	h := newHarness(approvedRequest("tr-1", 180000))
	h.bridge.Client = zeroAmountClient{h.client}

	out, err := h.bridge.CreateBooking(context.Background(), customer, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, 180000.0, out.Booking.Amount)
	assert.Equal(t, "LKR", out.Booking.Currency)

	stored := h.store.get("tr-1")
	require.NotNil(t, stored.Booking)
	assert.Equal(t, 180000.0, stored.Booking.Amount)
	require.Len(t, stored.Communications, 1)
	assert.Contains(t, stored.Communications[0].Message, "180000 LKR")
}

func TestBookingBridge_ConcurrentCreateBookingCreatesOne(t *testing.T) {
	h := newHarness(approvedRequest("tr-1", 180000))
	h.client.delay = 10 * time.Millisecond
	ctx := context.Background()

	const callers = 12
	var (
		wg  sync.WaitGroup
		ids = make(chan string, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
			if err != nil {
				t.Errorf("CreateBooking: %v", err)
				return
			}
			ids <- out.Booking.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]int)
	for id := range ids {
		seen[id]++
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, callers, seen["bk-tr-1"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.client.calls))
	assert.Equal(t, fsm.StatusPendingPayment, h.store.get("tr-1").Status)
}

func TestBookingBridge_LostAttachReturnsWinner(t *testing.T) {
	h := newHarness(approvedRequest("tr-1", 5000))
	ctx := context.Background()

	// Another API instance attaches its booking while our external call is in flight.
	winner := models.Booking{ID: "bk-winner", Amount: 5000, Currency: "LKR", Status: "pending_payment"}
	h.bridge.Client = &hookedClient{fakeBookingClient: h.client, after: func() {
		ok, err := h.store.AttachBooking(ctx, "tr-1", winner, nil, testNow)
		require.NoError(t, err)
		require.True(t, ok)
	}}

	out, err := h.bridge.CreateBooking(ctx, customer, "tr-1")
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, "bk-winner", out.Booking.ID)
	assert.Equal(t, "bk-winner", *h.store.get("tr-1").BookingID)
}

type hookedClient struct {
	*fakeBookingClient
	after func()
}

func (c *hookedClient) CreateBooking(ctx context.Context, req booking.CreateBookingRequest) (models.Booking, error) {
	b, err := c.fakeBookingClient.CreateBooking(ctx, req)
	c.after()
	return b, err
}

func TestBookingBridge_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	pendingPayment := func() models.TripRequest {
		req := approvedRequest("tr-1", 1000)
		req.Status = fsm.StatusPendingPayment
		id := "bk-1"
		req.BookingID = &id
		req.Booking = &models.Booking{ID: id, Amount: 1000, Currency: "LKR", Status: "pending_payment"}
		return req
	}

	t.Run("repeated success is a no-op", func(t *testing.T) {
		h := newHarness(pendingPayment())
		_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "success")
		require.NoError(t, err)
		out, err := h.bridge.ConfirmPayment(ctx, "bk-1", "SUCCEEDED")
		require.NoError(t, err)
		assert.Equal(t, fsm.StatusBooked, out.TripRequest.Status)
		assert.Len(t, h.store.get("tr-1").Communications, 1)
		assert.Len(t, h.notes.forUser(customer.UserID), 1)
	})

	t.Run("failure keeps pending payment", func(t *testing.T) {
		h := newHarness(pendingPayment())
		out, err := h.bridge.ConfirmPayment(ctx, "bk-1", "failed")
		require.NoError(t, err)
		assert.Equal(t, fsm.StatusPendingPayment, out.TripRequest.Status)

		stored := h.store.get("tr-1")
		assert.Equal(t, fsm.StatusPendingPayment, stored.Status)
		assert.Equal(t, "payment_failed", stored.Booking.Status)
		notes := h.notes.forUser(customer.UserID)
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationPaymentFailed, notes[0].Type)
	})

	t.Run("concurrent duplicate success is a no-op", func(t *testing.T) {
		h := newHarness(pendingPayment())
		// The other delivery commits between our read and our write.
		h.store.beforeApply = func() {
			_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "paid")
			require.NoError(t, err)
		}

		out, err := h.bridge.ConfirmPayment(ctx, "bk-1", "success")
		require.NoError(t, err)
		assert.Equal(t, fsm.StatusBooked, out.TripRequest.Status)
		assert.Len(t, h.store.get("tr-1").Communications, 1)
		assert.Len(t, h.notes.forUser(customer.UserID), 1)
	})

	t.Run("failure racing a success keeps the paid booking", func(t *testing.T) {
		h := newHarness(pendingPayment())
		h.store.beforeApply = func() {
			_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "paid")
			require.NoError(t, err)
		}

		_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "failed")
		assert.Equal(t, models.KindInvalidStateTransition, models.KindOf(err))

		stored := h.store.get("tr-1")
		assert.Equal(t, fsm.StatusBooked, stored.Status)
		assert.Equal(t, "paid", stored.Booking.Status)
		require.Len(t, stored.Communications, 1)
		assert.Contains(t, stored.Communications[0].Message, "confirmed")
		notes := h.notes.forUser(customer.UserID)
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationPaymentSuccess, notes[0].Type)
	})

	t.Run("failure is not recorded when the write fails", func(t *testing.T) {
		h := newHarness(pendingPayment())
		h.store.failApply = true

		_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "failed")
		require.Error(t, err)

		stored := h.store.get("tr-1")
		assert.Equal(t, "pending_payment", stored.Booking.Status)
		assert.Empty(t, stored.Communications)
		assert.Empty(t, h.notes.forUser(customer.UserID))
	})

	t.Run("unknown status", func(t *testing.T) {
		h := newHarness(pendingPayment())
		_, err := h.bridge.ConfirmPayment(ctx, "bk-1", "maybe")
		assert.Equal(t, models.KindValidation, models.KindOf(err))
	})

	t.Run("unknown booking", func(t *testing.T) {
		h := newHarness(pendingPayment())
		_, err := h.bridge.ConfirmPayment(ctx, "bk-404", "paid")
		assert.Equal(t, models.KindNotFound, models.KindOf(err))
	})
}
