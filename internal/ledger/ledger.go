package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateProvisional State = "provisional"
	StateCommitted   State = "committed"
	StateReleased    State = "released"
)

// Live reports whether the record still claims its interval.
func (s State) Live() bool { return s == StateProvisional || s == StateCommitted }

type Reservation struct {
	ID        string
	RoomID    string
	BookingID string
	CheckIn   time.Time // inclusive
	CheckOut  time.Time // exclusive
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hold is a request to claim [CheckIn, CheckOut) on a room.
type Hold struct {
	RoomID    string
	BookingID string
	CheckIn   time.Time
	CheckOut  time.Time
	// DemandSince bounds the committed-reservation count returned with the claim.
	DemandSince time.Time
}

// Claim is the outcome of a successful Reserve.
type Claim struct {
	Reservation
	// RecentCommitted counts committed reservations on the room created since
	// Hold.DemandSince, read under the same room lock as the overlap check.
	RecentCommitted int
}

var (
	ErrOverlap            = errors.New("ledger: interval overlaps a live reservation")
	ErrNotFound           = errors.New("ledger: reservation not found")
	ErrRoomNotFound       = errors.New("ledger: room not found")
	ErrReleased           = errors.New("ledger: reservation already released")
	ErrInvalidInterval    = errors.New("ledger: check-out must be after check-in")
	ErrInvariantViolation = errors.New("ledger: overlapping live reservations detected")
)

// OverlapError names the live reservation that blocked a Reserve.
type OverlapError struct {
	RoomID      string
	Conflicting string
	CheckIn     time.Time
	CheckOut    time.Time
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("ledger: room %s already held %s..%s by reservation %s",
		e.RoomID, e.CheckIn.Format(time.DateOnly), e.CheckOut.Format(time.DateOnly), e.Conflicting)
}

func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }

// Overlaps uses half-open intervals: back-to-back stays do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Ledger owns the per-room interval set. Reserve is atomic per room.
type Ledger interface {
	Reserve(ctx context.Context, h Hold) (Claim, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

func validate(h Hold) error {
	if !h.CheckOut.After(h.CheckIn) {
		return ErrInvalidInterval
	}
	return nil
}
