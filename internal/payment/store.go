package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

type PGStore struct{ DB *pgxpool.Pool }

const selectAttempt = `
	SELECT id, booking_id, provider, phone_number, amount, status,
	       COALESCE(provider_ref, ''), COALESCE(display_code, ''), COALESCE(failure_reason, ''),
	       expires_at, created_at, updated_at
	FROM payment_attempts`

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a       Attempt
		expires pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.BookingID, &a.Provider, &a.Phone, &a.Amount, &a.Status,
		&a.ProviderRef, &a.DisplayCode, &a.FailureReason,
		&expires, &a.CreatedAt, &a.UpdatedAt)
	if expires.Valid {
		a.ExpiresAt = expires.Time
	}
	return a, err
}

func scanAttempts(rows pgx.Rows) ([]Attempt, error) {
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, a Attempt) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_attempts(id, booking_id, provider, phone_number, amount, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		a.ID, a.BookingID, a.Provider, a.Phone, a.Amount, a.Status, a.ExpiresAt, a.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrAttemptInProgress
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.DB.QueryRow(ctx, selectAttempt+` WHERE id = $1`, id))
	if postgres.IsNoRows(err) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *PGStore) GetByProviderRef(ctx context.Context, provider, ref string) (Attempt, error) {
	a, err := scanAttempt(s.DB.QueryRow(ctx, selectAttempt+` WHERE provider = $1 AND provider_ref = $2`, provider, ref))
	if postgres.IsNoRows(err) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *PGStore) Transition(ctx context.Context, id string, from []Status, to Status, u Update) (Attempt, bool, error) {
	froms := make([]string, 0, len(from))
	for _, f := range from {
		if CanTransition(f, to) {
			froms = append(froms, string(f))
		}
	}
	var expires *time.Time
	if !u.ExpiresAt.IsZero() {
		expires = &u.ExpiresAt
	}

	a, err := scanAttempt(s.DB.QueryRow(ctx, `
		UPDATE payment_attempts SET
		    status         = $3,
		    provider_ref   = COALESCE(NULLIF($4, ''), provider_ref),
		    display_code   = COALESCE(NULLIF($5, ''), display_code),
		    failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
		    expires_at     = COALESCE($7, expires_at),
		    updated_at     = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING id, booking_id, provider, phone_number, amount, status,
		          COALESCE(provider_ref, ''), COALESCE(display_code, ''), COALESCE(failure_reason, ''),
		          expires_at, created_at, updated_at`,
		id, froms, string(to), u.ProviderRef, u.DisplayCode, u.FailureReason, expires))
	if err == nil {
		return a, true, nil
	}
	if !postgres.IsNoRows(err) {
		return Attempt{}, false, fmt.Errorf("transition attempt: %w", err)
	}
	cur, err := s.Get(ctx, id)
	return cur, false, err
}

func (s *PGStore) Active(ctx context.Context, bookingID string) (Attempt, bool, error) {
	a, err := scanAttempt(s.DB.QueryRow(ctx, selectAttempt+`
		WHERE booking_id = $1 AND status IN ('initiated', 'code_issued', 'verifying')`, bookingID))
	if postgres.IsNoRows(err) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, err
	}
	return a, true, nil
}

func (s *PGStore) CountIssued(ctx context.Context, bookingID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM payment_attempts
		WHERE booking_id = $1 AND provider_ref IS NOT NULL`, bookingID).Scan(&n)
	return n, err
}

func (s *PGStore) Stale(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	rows, err := s.DB.Query(ctx, selectAttempt+`
		WHERE status IN ('initiated', 'code_issued', 'verifying') AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}

func (s *PGStore) SucceededUnsettled(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT a.id, a.booking_id, a.provider, a.phone_number, a.amount, a.status,
		       COALESCE(a.provider_ref, ''), COALESCE(a.display_code, ''), COALESCE(a.failure_reason, ''),
		       a.expires_at, a.created_at, a.updated_at
		FROM payment_attempts a
		JOIN bookings b ON b.id = a.booking_id
		WHERE a.status = 'succeeded' AND b.status = 'pending'
		ORDER BY a.updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}
