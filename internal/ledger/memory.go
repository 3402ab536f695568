package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger keeps the interval set in process. Each room has its own
// mutex, so reserves on different rooms never contend. Nothing survives a
// restart; deployed processes use PGLedger and this one backs the booking
// and ledger unit tests.
type MemoryLedger struct {
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomBook
	byID  map[string]*roomBook
	known map[string]bool // nil means any room id is accepted
}

type roomBook struct {
	mu   sync.Mutex
	recs map[string]*Reservation
}

func NewMemoryLedger(roomIDs ...string) *MemoryLedger {
	l := &MemoryLedger{
		now:   time.Now,
		rooms: map[string]*roomBook{},
		byID:  map[string]*roomBook{},
	}
	if len(roomIDs) > 0 {
		l.known = make(map[string]bool, len(roomIDs))
		for _, id := range roomIDs {
			l.known[id] = true
		}
	}
	return l
}

// WithClock replaces the clock used for CreatedAt; tests only.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) room(roomID string) (*roomBook, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.known != nil && !l.known[roomID] {
		return nil, false
	}
	rb, ok := l.rooms[roomID]
	if !ok {
		rb = &roomBook{recs: map[string]*Reservation{}}
		l.rooms[roomID] = rb
	}
	return rb, true
}

func (l *MemoryLedger) owner(reservationID string) (*roomBook, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rb, ok := l.byID[reservationID]
	return rb, ok
}

func (l *MemoryLedger) Reserve(ctx context.Context, h Hold) (Claim, error) {
	if err := validate(h); err != nil {
		return Claim{}, err
	}
	if err := ctx.Err(); err != nil {
		return Claim{}, err
	}
	rb, ok := l.room(h.RoomID)
	if !ok {
		return Claim{}, ErrRoomNotFound
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	recent := 0
	for _, r := range rb.recs {
		if r.State.Live() && Overlaps(r.CheckIn, r.CheckOut, h.CheckIn, h.CheckOut) {
			return Claim{}, &OverlapError{RoomID: h.RoomID, Conflicting: r.ID, CheckIn: r.CheckIn, CheckOut: r.CheckOut}
		}
		if r.State == StateCommitted && !r.CreatedAt.Before(h.DemandSince) {
			recent++
		}
	}

	now := l.now()
	r := &Reservation{
		ID:        uuid.NewString(),
		RoomID:    h.RoomID,
		BookingID: h.BookingID,
		CheckIn:   h.CheckIn,
		CheckOut:  h.CheckOut,
		State:     StateProvisional,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rb.recs[r.ID] = r

	l.mu.Lock()
	l.byID[r.ID] = rb
	l.mu.Unlock()

	return Claim{Reservation: *r, RecentCommitted: recent}, nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	rb, ok := l.owner(reservationID)
	if !ok {
		return ErrNotFound
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	r := rb.recs[reservationID]
	switch r.State {
	case StateCommitted:
		return nil
	case StateReleased:
		return ErrReleased
	}
	r.State = StateCommitted
	r.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	rb, ok := l.owner(reservationID)
	if !ok {
		return ErrNotFound
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	r := rb.recs[reservationID]
	if r.State != StateReleased {
		r.State = StateReleased
		r.UpdatedAt = l.now()
	}
	return nil
}

// Get returns a copy of the record.
func (l *MemoryLedger) Get(reservationID string) (Reservation, bool) {
	rb, ok := l.owner(reservationID)
	if !ok {
		return Reservation{}, false
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return *rb.recs[reservationID], true
}

// Live returns the live reservations of a room.
func (l *MemoryLedger) Live(roomID string) []Reservation {
	rb, ok := l.room(roomID)
	if !ok {
		return nil
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	var out []Reservation
	for _, r := range rb.recs {
		if r.State.Live() {
			out = append(out, *r)
		}
	}
	return out
}
