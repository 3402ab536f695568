package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
	"github.com/ariefcatur/hotel-booking-core/internal/ledger"
	"github.com/ariefcatur/hotel-booking-core/internal/postgres/pgtest"
)

type pgFixture struct {
	repo   *Repo
	rooms  *RoomRepo
	ledger *ledger.PGLedger
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	db := pgtest.Open(t)
	pgtest.Room(t, db, "room-1")
	return &pgFixture{repo: &Repo{DB: db}, rooms: &RoomRepo{DB: db}, ledger: ledger.NewPGLedger(db, zaptest.NewLogger(t))}
}

// insert reserves the stay and writes the booking row on top of it.
func (f *pgFixture) insert(t *testing.T, id, user string, in int, created time.Time, a fraud.Assessment) Booking {
	t.Helper()
	ctx := context.Background()
	c, err := f.ledger.Reserve(ctx, ledger.Hold{RoomID: "room-1", BookingID: id, CheckIn: day(in), CheckOut: day(in + 2)})
	require.NoError(t, err)

	b := Booking{
		ID: id, UserID: user, RoomID: "room-1", HotelID: "hotel-1", ReservationID: c.ID,
		CheckIn: day(in), CheckOut: day(in + 2), Guests: 2,
		PricePerNight: 100, Nights: 2, TotalPrice: 200,
		Status: StatusPending, PaymentStatus: PaymentPending, CreatedAt: created,
	}
	require.NoError(t, f.repo.Create(ctx, b, a))
	return b
}

func TestRepo_CreateGet(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	f.insert(t, "bk-1", "u1", 1, time.Now(), fraud.Assessment{Score: 40, Suspicious: false, Reasons: []string{"velocity"}})

	t.Run("Given a stored booking Then it reads back with its assessment", func(t *testing.T) {
		got, err := f.repo.Get(ctx, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.True(t, got.CheckIn.Equal(day(1)))
		assert.Equal(t, int64(200), got.TotalPrice)
		assert.Equal(t, StatusPending, got.Status)
		assert.Equal(t, 40, got.RiskScore)
		assert.Equal(t, []string{"velocity"}, got.RiskReasons)
	})

	t.Run("Given no assessment reasons Then an empty list is stored", func(t *testing.T) {
		f.insert(t, "bk-2", "u1", 10, time.Now(), fraud.Assessment{})
		got, err := f.repo.Get(ctx, "bk-2")
		require.NoError(t, err)
		assert.Empty(t, got.RiskReasons)
	})

	t.Run("Given an unknown id Then ErrNotFound", func(t *testing.T) {
		_, err := f.repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Given a room Then the mirror is readable", func(t *testing.T) {
		rm, err := f.rooms.Room(ctx, "room-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), rm.BasePrice)

		_, err = f.rooms.Room(ctx, "nope")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	f.insert(t, "bk-1", "u1", 1, time.Now(), fraud.Assessment{})

	t.Run("Given pending When confirmed from pending Then applied once", func(t *testing.T) {
		ok, err := f.repo.UpdateStatus(ctx, "bk-1", StatusPending, StatusConfirmed, PaymentPaid)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.repo.UpdateStatus(ctx, "bk-1", StatusPending, StatusCancelled, PaymentFailed)
		require.NoError(t, err)
		assert.False(t, ok)

		got, _ := f.repo.Get(ctx, "bk-1")
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, PaymentPaid, got.PaymentStatus)
	})

	t.Run("Given a disallowed edge Then ErrInvalidTransition", func(t *testing.T) {
		_, err := f.repo.UpdateStatus(ctx, "bk-1", StatusCancelled, StatusConfirmed, PaymentPaid)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRepo_AbandonedPending(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	old := time.Now().Add(-2 * time.Hour)

	f.insert(t, "bk-old", "u1", 1, old, fraud.Assessment{})
	f.insert(t, "bk-paying", "u1", 5, old, fraud.Assessment{})
	f.insert(t, "bk-new", "u1", 10, time.Now(), fraud.Assessment{})

	_, err := f.repo.DB.Exec(ctx, `
		INSERT INTO payment_attempts(id, booking_id, provider, phone_number, amount, status, expires_at)
		VALUES ('att-1', 'bk-paying', 'provider-a', '+237670000001', 200, 'code_issued', now() + interval '10 minutes')`)
	require.NoError(t, err)

	got, err := f.repo.AbandonedPending(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bk-old", got[0].ID)
}

func TestRepo_UserHistory(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	now := time.Now()

	f.insert(t, "bk-1", "u1", 1, now.Add(-48*time.Hour), fraud.Assessment{})
	f.insert(t, "bk-2", "u1", 5, now.Add(-time.Hour), fraud.Assessment{})
	f.insert(t, "bk-3", "u2", 10, now, fraud.Assessment{})

	h, err := f.repo.UserHistory(ctx, "u1", now.Add(-24*time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, h.CountSince)
	require.Len(t, h.Recent, 2)
	assert.Equal(t, "hotel-1", h.Recent[0].HotelID)
	assert.Equal(t, int64(200), h.Recent[0].TotalPrice)
}
