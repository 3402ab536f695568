package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
)

var errMockStorage = errors.New("mock storage error")

type mockRepo struct {
	mu         sync.Mutex
	bookings   map[string]Booking
	assessment map[string]fraud.Assessment
	FailCreate bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{bookings: map[string]Booking{}, assessment: map[string]fraud.Assessment{}}
}

func (m *mockRepo) Create(_ context.Context, b Booking, a fraud.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate {
		return errMockStorage
	}
	m.bookings[b.ID] = b
	m.assessment[b.ID] = a
	return nil
}

func (m *mockRepo) Get(_ context.Context, id string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id string, from, to Status, pay PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status, b.PaymentStatus = to, pay
	m.bookings[id] = b
	return true, nil
}

func (m *mockRepo) AbandonedPending(_ context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.CreatedAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

type mockRooms map[string]Room

func (m mockRooms) Room(_ context.Context, id string) (Room, error) {
	r, ok := m[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r, nil
}

type mockScorer struct {
	Result fraud.Assessment
	Err    error
}

func (m *mockScorer) Assess(context.Context, fraud.Request) (fraud.Assessment, error) {
	return m.Result, m.Err
}

// recorder captures side effects in call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
	envs  []events.Envelope
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Publish(_ context.Context, topic string, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) Invalidate(_ context.Context, bookingID string) error {
	r.add("invalidate:" + bookingID)
	return nil
}

func (r *recorder) AbortActive(_ context.Context, bookingID, reason string) error {
	r.add("abort:" + bookingID + ":" + reason)
	return nil
}

func (r *recorder) published() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}
