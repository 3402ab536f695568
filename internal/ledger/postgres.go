package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

// PGLedger serialises reservations per room with a row lock on rooms, the same
// way stock is locked per product before it is decremented.
type PGLedger struct {
	DB     *pgxpool.Pool
	Logger *zap.Logger
}

func NewPGLedger(db *pgxpool.Pool, logger *zap.Logger) *PGLedger {
	return &PGLedger{DB: db, Logger: logger}
}

func (l *PGLedger) Reserve(ctx context.Context, h Hold) (Claim, error) {
	if err := validate(h); err != nil {
		return Claim{}, err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Claim{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roomID string
	if err := tx.QueryRow(ctx, `SELECT id FROM rooms WHERE id=$1 FOR UPDATE`, h.RoomID).Scan(&roomID); err != nil {
		if postgres.IsNoRows(err) {
			return Claim{}, ErrRoomNotFound
		}
		return Claim{}, fmt.Errorf("lock room: %w", err)
	}

	var (
		conflictID              string
		conflictIn, conflictOut time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, check_in, check_out FROM reservations
		WHERE room_id = $1 AND state IN ('provisional', 'committed')
		  AND check_in < $3 AND $2 < check_out
		ORDER BY check_in
		LIMIT 1`, h.RoomID, h.CheckIn, h.CheckOut).Scan(&conflictID, &conflictIn, &conflictOut)
	switch {
	case err == nil:
		return Claim{}, &OverlapError{RoomID: h.RoomID, Conflicting: conflictID, CheckIn: conflictIn, CheckOut: conflictOut}
	case !postgres.IsNoRows(err):
		return Claim{}, fmt.Errorf("overlap check: %w", err)
	}

	var recent int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE room_id = $1 AND state = 'committed' AND created_at >= $2`,
		h.RoomID, h.DemandSince).Scan(&recent); err != nil {
		return Claim{}, fmt.Errorf("count demand: %w", err)
	}

	r := Reservation{
		ID:        uuid.NewString(),
		RoomID:    h.RoomID,
		BookingID: h.BookingID,
		CheckIn:   h.CheckIn,
		CheckOut:  h.CheckOut,
		State:     StateProvisional,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO reservations(id, room_id, booking_id, check_in, check_out, state)
		VALUES ($1, $2, $3, $4, $5, 'provisional')
		RETURNING created_at, updated_at`,
		r.ID, r.RoomID, r.BookingID, r.CheckIn, r.CheckOut).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if postgres.IsExclusionViolation(err) {
			l.Logger.Error("reservation overlap passed the room lock",
				zap.Bool("audit", true),
				zap.String("room_id", h.RoomID),
				zap.String("booking_id", h.BookingID),
				zap.Time("check_in", h.CheckIn),
				zap.Time("check_out", h.CheckOut),
				zap.Error(err))
			return Claim{}, fmt.Errorf("%w: room %s", ErrInvariantViolation, h.RoomID)
		}
		return Claim{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, err
	}
	return Claim{Reservation: r, RecentCommitted: recent}, nil
}

func (l *PGLedger) Commit(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var state State
	if err := tx.QueryRow(ctx, `SELECT state FROM reservations WHERE id=$1 FOR UPDATE`, reservationID).Scan(&state); err != nil {
		if postgres.IsNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("lock reservation: %w", err)
	}
	switch state {
	case StateCommitted:
		return nil
	case StateReleased:
		return ErrReleased
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET state='committed', updated_at=now() WHERE id=$1`, reservationID); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Release(ctx context.Context, reservationID string) error {
	ct, err := l.DB.Exec(ctx, `
		UPDATE reservations SET state = 'released', updated_at = now()
		WHERE id = $1 AND state <> 'released'`, reservationID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := l.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, reservationID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// ReleaseOrphans frees live reservations older than cutoff whose booking row
// was never written or was cancelled without a release.
func (l *PGLedger) ReleaseOrphans(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := l.DB.Query(ctx, `
		UPDATE reservations r SET state = 'released', updated_at = now()
		WHERE r.state IN ('provisional', 'committed') AND r.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.reservation_id = r.id AND b.status <> 'cancelled')
		RETURNING r.id`, cutoff)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("release orphans: %w", err)
	}
	return ids, nil
}
