package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

type Repo struct{ DB *pgxpool.Pool }

const selectBooking = `
	SELECT b.id, b.user_id, b.room_id, b.hotel_id, b.reservation_id, b.check_in, b.check_out,
	       b.guests, b.price_per_night, b.nights, b.total_price, b.status, b.payment_status,
	       COALESCE(f.score, 0), COALESCE(f.suspicious, false), COALESCE(f.reasons, '{}'),
	       b.created_at, b.updated_at
	FROM bookings b
	LEFT JOIN fraud_assessments f ON f.booking_id = b.id`

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.UserID, &b.RoomID, &b.HotelID, &b.ReservationID, &b.CheckIn, &b.CheckOut,
		&b.Guests, &b.PricePerNight, &b.Nights, &b.TotalPrice, &b.Status, &b.PaymentStatus,
		&b.RiskScore, &b.Suspicious, &b.RiskReasons,
		&b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// Create inserts the booking and its assessment in one transaction.
func (r *Repo) Create(ctx context.Context, b Booking, a fraud.Assessment) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO bookings(id, user_id, room_id, hotel_id, reservation_id, check_in, check_out, guests,
		                     price_per_night, nights, total_price, status, payment_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		b.ID, b.UserID, b.RoomID, b.HotelID, b.ReservationID, b.CheckIn, b.CheckOut, b.Guests,
		b.PricePerNight, b.Nights, b.TotalPrice, b.Status, b.PaymentStatus, b.CreatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO fraud_assessments(booking_id, user_id, score, suspicious, reasons)
		VALUES ($1,$2,$3,$4,$5)`,
		b.ID, b.UserID, a.Score, a.Suspicious, reasons); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, selectBooking+` WHERE b.id = $1`, id))
	if postgres.IsNoRows(err) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, pay PaymentStatus) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE bookings SET status = $3, payment_status = $4, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to, pay)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) AbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	rows, err := r.DB.Query(ctx, selectBooking+`
		WHERE b.status = 'pending' AND b.created_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM payment_attempts p
		      WHERE p.booking_id = b.id AND p.status IN ('initiated', 'code_issued', 'verifying'))
		ORDER BY b.created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UserHistory feeds the fraud scorer.
func (r *Repo) UserHistory(ctx context.Context, userID string, since time.Time, limit int) (fraud.History, error) {
	var h fraud.History
	if err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&h.CountSince); err != nil {
		return fraud.History{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT hotel_id, total_price, created_at FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return fraud.History{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p fraud.PastBooking
		if err := rows.Scan(&p.HotelID, &p.TotalPrice, &p.CreatedAt); err != nil {
			return fraud.History{}, err
		}
		h.Recent = append(h.Recent, p)
	}
	return h, rows.Err()
}

// RoomRepo reads the rooms mirror maintained by the catalog service.
type RoomRepo struct{ DB *pgxpool.Pool }

func (r *RoomRepo) Room(ctx context.Context, id string) (Room, error) {
	var rm Room
	err := r.DB.QueryRow(ctx, `SELECT id, hotel_id, base_price, capacity FROM rooms WHERE id = $1`, id).
		Scan(&rm.ID, &rm.HotelID, &rm.BasePrice, &rm.Capacity)
	if postgres.IsNoRows(err) {
		return Room{}, ErrRoomNotFound
	}
	return rm, err
}
