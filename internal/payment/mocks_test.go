package payment

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/mobilemoney"
)

type memStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	order    []string
}

func newMemStore() *memStore { return &memStore{attempts: map[string]Attempt{}} }

func (m *memStore) Create(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.attempts {
		if x.BookingID == a.BookingID && x.Status.Active() {
			return ErrAttemptInProgress
		}
	}
	m.attempts[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memStore) GetByProviderRef(_ context.Context, provider, ref string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.Provider == provider && a.ProviderRef == ref {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *memStore) Transition(_ context.Context, id string, from []Status, to Status, u Update) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false, ErrAttemptNotFound
	}
	match := false
	for _, f := range from {
		if a.Status == f && CanTransition(f, to) {
			match = true
		}
	}
	if !match {
		return a, false, nil
	}
	a.Status = to
	if u.ProviderRef != "" {
		a.ProviderRef = u.ProviderRef
	}
	if u.DisplayCode != "" {
		a.DisplayCode = u.DisplayCode
	}
	if u.FailureReason != "" {
		a.FailureReason = u.FailureReason
	}
	if !u.ExpiresAt.IsZero() {
		a.ExpiresAt = u.ExpiresAt
	}
	m.attempts[id] = a
	return a, true, nil
}

func (m *memStore) Active(_ context.Context, bookingID string) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.BookingID == bookingID && a.Status.Active() {
			return a, true, nil
		}
	}
	return Attempt{}, false, nil
}

func (m *memStore) CountIssued(_ context.Context, bookingID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.BookingID == bookingID && a.ProviderRef != "" {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Stale(_ context.Context, now time.Time, limit int) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, id := range m.order {
		a := m.attempts[id]
		if a.Status.Active() && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SucceededUnsettled(context.Context, int) ([]Attempt, error) { return nil, nil }

// fakeBookings keeps just enough booking state to exercise the sequence rules.
type fakeBookings struct {
	mu       sync.Mutex
	refs     map[string]BookingRef
	outcomes []Outcome
	closed   map[string]bool // bookings that refuse a late success
}

func newFakeBookings(refs ...BookingRef) *fakeBookings {
	f := &fakeBookings{refs: map[string]BookingRef{}, closed: map[string]bool{}}
	for _, r := range refs {
		f.refs[r.ID] = r
	}
	return f
}

func (f *fakeBookings) Payable(_ context.Context, id string) (BookingRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refs[id]
	if !ok {
		return BookingRef{}, ErrBookingNotFound
	}
	return r, nil
}

func (f *fakeBookings) OnPaymentTerminal(_ context.Context, id string, o Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[id] && o == OutcomeSucceeded {
		return ErrBookingNotPayable
	}
	f.outcomes = append(f.outcomes, o)
	r := f.refs[id]
	r.Pending = false
	f.refs[id] = r
	return nil
}

func (f *fakeBookings) reported() []Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outcome(nil), f.outcomes...)
}

type fakeGateway struct {
	name      string
	issueErr  error
	confirm   bool
	confirmEr error
	callback  mobilemoney.Callback
	cbErr     error
	n         int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) IssueCode(_ context.Context, req mobilemoney.IssueRequest) (mobilemoney.Issued, error) {
	if g.issueErr != nil {
		return mobilemoney.Issued{}, g.issueErr
	}
	g.n++
	return mobilemoney.Issued{ProviderRef: req.Reference + "-ref", DisplayCode: "*126*1#"}, nil
}

func (g *fakeGateway) ConfirmCode(context.Context, string, string) (bool, error) {
	return g.confirm, g.confirmEr
}

func (g *fakeGateway) ParseCallback(http.Header, []byte) (mobilemoney.Callback, error) {
	return g.callback, g.cbErr
}

type capture struct {
	mu     sync.Mutex
	topics []string
	envs   []events.Envelope
}

func (c *capture) Publish(_ context.Context, topic string, env events.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.envs = append(c.envs, env)
	return nil
}

func (c *capture) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.topics {
		if t == topic {
			n++
		}
	}
	return n
}
