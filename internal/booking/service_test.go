package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
	"github.com/ariefcatur/hotel-booking-core/internal/ledger"
	"github.com/ariefcatur/hotel-booking-core/internal/payment"
	"github.com/ariefcatur/hotel-booking-core/internal/pricing"
)

var testNow = time.Date(2025, time.July, 15, 10, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d) }

// trackingLedger records releases next to the other side effects.
type trackingLedger struct {
	*ledger.MemoryLedger
	rec *recorder
}

func (l trackingLedger) Release(ctx context.Context, id string) error {
	l.rec.add("release:" + id)
	return l.MemoryLedger.Release(ctx, id)
}

type fixture struct {
	svc    *Service
	repo   *mockRepo
	ledger *ledger.MemoryLedger
	scorer *mockScorer
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rooms := mockRooms{
		"room-1": {ID: "room-1", HotelID: "hotel-1", BasePrice: 100, Capacity: 2},
		"room-2": {ID: "room-2", HotelID: "hotel-1", BasePrice: 250, Capacity: 4},
	}
	f := &fixture{
		repo:   newMockRepo(),
		ledger: ledger.NewMemoryLedger("room-1", "room-2").WithClock(func() time.Time { return testNow }),
		scorer: &mockScorer{},
		rec:    &recorder{},
	}
	f.svc = NewService(Deps{
		Rooms:    rooms,
		Repo:     f.repo,
		Ledger:   trackingLedger{MemoryLedger: f.ledger, rec: f.rec},
		Pricer:   pricing.NewEngine("request"),
		Scorer:   f.scorer,
		Events:   f.rec,
		Cache:    f.rec,
		Producer: "booking-test",
		Now:      func() time.Time { return testNow },
	})
	f.svc.SetPaymentAborter(f.rec)
	return f
}

func (f *fixture) request(t *testing.T, user string, in, out int) Booking {
	t.Helper()
	b, err := f.svc.RequestBooking(context.Background(), Request{UserID: user, RoomID: "room-1", CheckIn: day(in), CheckOut: day(out), Guests: 1})
	require.NoError(t, err)
	return b
}

func TestRequestBooking_PricesWithDemandAndSeason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// six committed stays in the trailing window
	for i := 0; i < 6; i++ {
		c, err := f.ledger.Reserve(ctx, ledger.Hold{RoomID: "room-1", CheckIn: day(40 + 2*i), CheckOut: day(41 + 2*i)})
		require.NoError(t, err)
		require.NoError(t, f.ledger.Commit(ctx, c.ID))
	}

	b := f.request(t, "u1", 3, 6)

	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, PaymentPending, b.PaymentStatus)
	assert.Equal(t, int64(133), b.PricePerNight)
	assert.Equal(t, 3, b.Nights)
	assert.Equal(t, int64(399), b.TotalPrice)

	r, ok := f.ledger.Get(b.ReservationID)
	require.True(t, ok)
	assert.Equal(t, ledger.StateProvisional, r.State)
	assert.Equal(t, b.ID, r.BookingID)
	assert.Equal(t, 1, f.rec.published())
}

func TestRequestBooking_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		reason Reason
	}{
		{"zero guests", Request{UserID: "u1", RoomID: "room-1", CheckIn: day(1), CheckOut: day(2), Guests: 0}, InvalidGuests},
		{"checkout before checkin", Request{UserID: "u1", RoomID: "room-1", CheckIn: day(3), CheckOut: day(2), Guests: 1}, InvalidDates},
		{"same day", Request{UserID: "u1", RoomID: "room-1", CheckIn: day(3), CheckOut: day(3), Guests: 1}, InvalidDates},
		{"in the past", Request{UserID: "u1", RoomID: "room-1", CheckIn: testNow.AddDate(0, 0, -2), CheckOut: testNow, Guests: 1}, InvalidDates},
		{"too many guests", Request{UserID: "u1", RoomID: "room-1", CheckIn: day(1), CheckOut: day(2), Guests: 3}, CapacityExceeded},
		{"unknown room", Request{UserID: "u1", RoomID: "room-9", CheckIn: day(1), CheckOut: day(2), Guests: 1}, RoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.RequestBooking(context.Background(), tt.req)
			rej, ok := AsRejection(err)
			require.True(t, ok, "want rejection, got %v", err)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Zero(t, f.repo.count())
			assert.Empty(t, f.ledger.Live("room-1"))
		})
	}
}

func TestRequestBooking_OverlapIsRoomUnavailable(t *testing.T) {
	f := newFixture(t)
	f.request(t, "u1", 1, 4)

	_, err := f.svc.RequestBooking(context.Background(), Request{UserID: "u2", RoomID: "room-1", CheckIn: day(2), CheckOut: day(5), Guests: 1})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, RoomUnavailable, rej.Reason)
	assert.Equal(t, 1, f.repo.count())

	// back to back is fine
	f.request(t, "u2", 4, 6)
}

func TestRequestBooking_ConcurrentSameDates(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.RequestBooking(context.Background(),
				Request{UserID: "u1", RoomID: "room-1", CheckIn: day(10), CheckOut: day(12), Guests: 2})
		}(i)
	}
	wg.Wait()

	var admitted, unavailable int
	for _, err := range results {
		if err == nil {
			admitted++
			continue
		}
		if rej, ok := AsRejection(err); ok && rej.Reason == RoomUnavailable {
			unavailable++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, unavailable)
}

func TestRequestBooking_PersistFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.repo.FailCreate = true

	_, err := f.svc.RequestBooking(context.Background(), Request{UserID: "u1", RoomID: "room-1", CheckIn: day(1), CheckOut: day(2), Guests: 1})
	require.ErrorIs(t, err, errMockStorage)
	_, isRejection := AsRejection(err)
	assert.False(t, isRejection)
	assert.Empty(t, f.ledger.Live("room-1"))
}

func TestRequestBooking_ScorerFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.scorer.Err = errors.New("history unavailable")

	_, err := f.svc.RequestBooking(context.Background(), Request{UserID: "u1", RoomID: "room-1", CheckIn: day(1), CheckOut: day(2), Guests: 1})
	require.Error(t, err)
	assert.Empty(t, f.ledger.Live("room-1"))
}

func TestRequestBooking_RecordsAssessment(t *testing.T) {
	f := newFixture(t)
	f.scorer.Result = fraud.Assessment{Score: 50, Suspicious: true, Reasons: []string{fraud.ReasonVelocity, fraud.ReasonNewHotel}}

	b := f.request(t, "u1", 1, 2)
	assert.True(t, b.Suspicious)
	assert.Equal(t, 50, b.RiskScore)
	assert.Equal(t, f.scorer.Result, f.repo.assessment[b.ID])
}

func TestOnPaymentTerminal_SucceededIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.request(t, "u1", 1, 3)

	require.NoError(t, f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeSucceeded))
	published := f.rec.published()
	require.NoError(t, f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeSucceeded))

	got, _ := f.repo.Get(ctx, b.ID)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	r, _ := f.ledger.Get(b.ReservationID)
	assert.Equal(t, ledger.StateCommitted, r.State)
	assert.Equal(t, published, f.rec.published())

	var last events.BookingStateChangedPayload
	require.NoError(t, json.Unmarshal(f.rec.envs[len(f.rec.envs)-1].Payload, &last))
	assert.Equal(t, "confirmed", last.Status)
	assert.Equal(t, "paid", last.PaymentStatus)
}

func TestOnPaymentTerminal_ExpiredFreesTheRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.request(t, "u1", 1, 3)

	require.NoError(t, f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeExpired))
	require.NoError(t, f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeExpired))

	got, _ := f.repo.Get(ctx, b.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, PaymentFailed, got.PaymentStatus)

	again := f.request(t, "u2", 1, 3)
	assert.Equal(t, StatusPending, again.Status)
}

func TestOnPaymentTerminal_SuccessAfterCancelIsNotPayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.request(t, "u1", 1, 3)

	_, err := f.svc.Cancel(ctx, b.ID, Actor{ID: "u1"})
	require.NoError(t, err)

	err = f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeSucceeded)
	assert.ErrorIs(t, err, payment.ErrBookingNotPayable)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Given another user When cancelling Then forbidden", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(t, "u1", 1, 3)
		_, err := f.svc.Cancel(ctx, b.ID, Actor{ID: "u2"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("Given pending booking When owner cancels Then attempt aborted before release", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(t, "u1", 1, 3)
		f.rec.calls = nil

		got, err := f.svc.Cancel(ctx, b.ID, Actor{ID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		require.GreaterOrEqual(t, len(f.rec.calls), 2)
		assert.Equal(t, "abort:"+b.ID+":"+payment.ReasonUserCancelled, f.rec.calls[0])
		assert.Equal(t, "release:"+b.ReservationID, f.rec.calls[1])
		assert.Empty(t, f.ledger.Live("room-1"))
	})

	t.Run("Given confirmed booking When admin cancels Then cancelled and released", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(t, "u1", 1, 3)
		require.NoError(t, f.svc.OnPaymentTerminal(ctx, b.ID, payment.OutcomeSucceeded))

		got, err := f.svc.Cancel(ctx, b.ID, Actor{ID: "ops", Admin: true})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
		assert.Empty(t, f.ledger.Live("room-1"))
	})

	t.Run("Given cancelled booking When cancelled again Then invalid transition", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(t, "u1", 1, 3)
		_, err := f.svc.Cancel(ctx, b.ID, Actor{ID: "u1"})
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, b.ID, Actor{ID: "u1"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCancelAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.request(t, "u1", 1, 3)
	f.repo.bookings[old.ID] = func(b Booking) Booking { b.CreatedAt = testNow.Add(-2 * time.Hour); return b }(old)
	fresh := f.request(t, "u2", 5, 6)

	n, err := f.svc.CancelAbandoned(ctx, testNow.Add(-45*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.repo.Get(ctx, old.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	got, _ = f.repo.Get(ctx, fresh.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestPayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.request(t, "u1", 1, 3)

	ref, err := f.svc.Payable(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ref.Pending)
	assert.Equal(t, b.TotalPrice, ref.Amount)

	_, err = f.svc.Payable(ctx, "missing")
	assert.ErrorIs(t, err, payment.ErrBookingNotFound)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusConfirmed, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
}
