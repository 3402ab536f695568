// Package pgtest gives integration tests a migrated, empty database.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

// EnvDSN names the database the integration tests own. Every table in it is
// truncated, so it must never point at a shared database.
const EnvDSN = "POSTGRES_TEST_DSN"

// held for the whole test so packages running in parallel take turns
const lockKey = 7201

// Open returns a pool on a migrated schema with every table emptied. The
// test is skipped when EnvDSN is unset.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	ctx := context.Background()

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
		conn.Release()
	})

	m, err := postgres.NewMigrator(pool, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))

	_, err = pool.Exec(ctx, `TRUNCATE payment_attempts, fraud_assessments, bookings, reservations, rooms CASCADE`)
	require.NoError(t, err)
	return pool
}

// Room inserts a room at 100 a night for two guests.
func Room(t testing.TB, db *pgxpool.Pool, id string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO rooms(id, hotel_id, base_price, capacity) VALUES ($1, 'hotel-1', 100, 2)`, id)
	require.NoError(t, err)
}

// BookingRow is the minimum needed to satisfy the booking foreign keys.
type BookingRow struct {
	ID        string
	UserID    string
	RoomID    string
	CheckIn   time.Time // the stay is one night
	Status    string    // defaults to pending
	CreatedAt time.Time // defaults to now
}

// Booking inserts b with a matching reservation behind it and returns the
// reservation id.
func Booking(t testing.TB, db *pgxpool.Pool, b BookingRow) string {
	t.Helper()
	if b.Status == "" {
		b.Status = "pending"
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.UserID == "" {
		b.UserID = "u1"
	}
	ctx := context.Background()
	resID := uuid.NewString()
	out := b.CheckIn.AddDate(0, 0, 1)

	_, err := db.Exec(ctx, `
		INSERT INTO reservations(id, room_id, booking_id, check_in, check_out, state)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		resID, b.RoomID, b.ID, b.CheckIn, out, reservationState(b.Status))
	require.NoError(t, err, "seed reservation for %s", b.ID)

	_, err = db.Exec(ctx, `
		INSERT INTO bookings(id, user_id, room_id, hotel_id, reservation_id, check_in, check_out, guests,
		                     price_per_night, nights, total_price, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, 'hotel-1', $4, $5, $6, 1, 100, 1, 100, $7, 'pending', $8, $8)`,
		b.ID, b.UserID, b.RoomID, resID, b.CheckIn, out, b.Status, b.CreatedAt)
	require.NoError(t, err, "seed booking %s", b.ID)
	return resID
}

func reservationState(bookingStatus string) string {
	switch bookingStatus {
	case "cancelled":
		return "released"
	case "pending":
		return "provisional"
	}
	return "committed"
}
