package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/mobilemoney"
)

// Update carries the fields a transition may set.
type Update struct {
	ProviderRef   string
	DisplayCode   string
	FailureReason string
	ExpiresAt     time.Time
}

type Store interface {
	// Create fails with ErrAttemptInProgress if the booking has an active attempt.
	Create(ctx context.Context, a Attempt) error
	Get(ctx context.Context, id string) (Attempt, error)
	GetByProviderRef(ctx context.Context, provider, ref string) (Attempt, error)
	// Transition moves the attempt to `to` only if it is currently in one of
	// from. The bool reports whether this call won.
	Transition(ctx context.Context, id string, from []Status, to Status, u Update) (Attempt, bool, error)
	Active(ctx context.Context, bookingID string) (Attempt, bool, error)
	// CountIssued counts attempts of the booking that reached the payer.
	CountIssued(ctx context.Context, bookingID string) (int, error)
	Stale(ctx context.Context, now time.Time, limit int) ([]Attempt, error)
	// SucceededUnsettled lists succeeded attempts whose booking is still pending.
	SucceededUnsettled(ctx context.Context, limit int) ([]Attempt, error)
}

type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	RetryWindow time.Duration
	CountryCode string

	// IssueDeadline bounds how long an attempt may stay initiated.
	IssueDeadline time.Duration
}

const defaultIssueDeadline = 5 * time.Minute

type Orchestrator struct {
	cfg      Config
	store    Store
	bookings Bookings
	gateways map[string]mobilemoney.Gateway
	events   events.Publisher
	logger   *zap.Logger
	tracer   trace.Tracer
	producer string
	now      func() time.Time
}

func NewOrchestrator(cfg Config, store Store, bookings Bookings, gateways []mobilemoney.Gateway,
	pub events.Publisher, logger *zap.Logger, producer string) *Orchestrator {
	gw := make(map[string]mobilemoney.Gateway, len(gateways))
	for _, g := range gateways {
		gw[g.Name()] = g
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.IssueDeadline <= 0 {
		cfg.IssueDeadline = defaultIssueDeadline
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		bookings: bookings,
		gateways: gw,
		events:   pub,
		logger:   logger,
		tracer:   otel.Tracer("payment"),
		producer: producer,
		now:      time.Now,
	}
}

// WithClock replaces the clock; tests only.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Initiate issues a payment code for the booking. Only the gateway call
// itself blocks the caller; the outcome arrives later.
func (o *Orchestrator) Initiate(ctx context.Context, bookingID, provider, phone string) (Attempt, error) {
	ctx, span := o.tracer.Start(ctx, "payment.initiate",
		trace.WithAttributes(attribute.String("booking_id", bookingID), attribute.String("provider", provider)))
	defer span.End()

	gw, ok := o.gateways[provider]
	if !ok {
		return Attempt{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	msisdn, err := mobilemoney.NormalizePhone(phone, o.cfg.CountryCode)
	if err != nil {
		return Attempt{}, ErrInvalidPhoneNumber
	}

	ref, err := o.bookings.Payable(ctx, bookingID)
	if err != nil {
		return Attempt{}, err
	}
	if !ref.Pending {
		return Attempt{}, ErrBookingNotPayable
	}
	issued, err := o.store.CountIssued(ctx, bookingID)
	if err != nil {
		return Attempt{}, err
	}
	if issued >= o.cfg.MaxAttempts || (issued > 0 && o.now().Sub(ref.CreatedAt) >= o.cfg.RetryWindow) {
		return Attempt{}, fmt.Errorf("%w: retries exhausted", ErrBookingNotPayable)
	}

	now := o.now().UTC()
	a := Attempt{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Provider:  provider,
		Phone:     msisdn,
		Amount:    ref.Amount,
		Status:    StatusInitiated,
		ExpiresAt: now.Add(o.cfg.IssueDeadline),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.Create(ctx, a); err != nil {
		return Attempt{}, err
	}

	out, err := gw.IssueCode(ctx, mobilemoney.IssueRequest{Amount: a.Amount, Phone: a.Phone, Reference: a.ID})
	if err != nil {
		o.logger.Error("issue code failed",
			zap.String("attempt_id", a.ID), zap.String("provider", provider), zap.Error(err))
		if _, _, terr := o.store.Transition(context.WithoutCancel(ctx), a.ID,
			[]Status{StatusInitiated}, StatusFailed, Update{FailureReason: ReasonIssueFailed}); terr != nil {
			o.logger.Error("mark attempt failed", zap.String("attempt_id", a.ID), zap.Error(terr))
		}
		return Attempt{}, err
	}

	a, won, err := o.store.Transition(ctx, a.ID, []Status{StatusInitiated}, StatusCodeIssued, Update{
		ProviderRef: out.ProviderRef,
		DisplayCode: out.DisplayCode,
		ExpiresAt:   o.now().UTC().Add(o.cfg.CodeTTL),
	})
	if err != nil {
		return Attempt{}, err
	}
	if !won {
		// cancelled while the gateway call was in flight
		return a, ErrAttemptClosed
	}
	o.logger.Info("payment code issued",
		zap.String("attempt_id", a.ID), zap.String("booking_id", bookingID), zap.String("provider", provider))
	o.attemptChanged(ctx, a)
	return a, nil
}

func (o *Orchestrator) Attempt(ctx context.Context, id string) (Attempt, error) {
	return o.store.Get(ctx, id)
}

// Verify submits the payer's confirmation code. A gateway timeout leaves the
// attempt verifying for the sweeper or a callback to settle.
func (o *Orchestrator) Verify(ctx context.Context, attemptID, code string) (Attempt, error) {
	ctx, span := o.tracer.Start(ctx, "payment.verify", trace.WithAttributes(attribute.String("attempt_id", attemptID)))
	defer span.End()

	a, err := o.store.Get(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status != StatusCodeIssued && a.Status != StatusVerifying {
		return a, ErrAttemptClosed
	}
	if !a.ExpiresAt.IsZero() && o.now().After(a.ExpiresAt) {
		a, _ = o.finish(ctx, a, StatusExpired, ReasonExpired)
		return a, ErrAttemptClosed
	}
	gw, ok := o.gateways[a.Provider]
	if !ok {
		return a, fmt.Errorf("%w: %q", ErrUnknownProvider, a.Provider)
	}

	if a.Status == StatusCodeIssued {
		next, won, err := o.store.Transition(ctx, a.ID, []Status{StatusCodeIssued}, StatusVerifying, Update{})
		if err != nil {
			return a, err
		}
		if !won && next.Status != StatusVerifying {
			return next, ErrAttemptClosed
		}
		a = next
	}

	success, err := gw.ConfirmCode(ctx, a.ProviderRef, code)
	if errors.Is(err, mobilemoney.ErrGatewayTimeout) {
		o.logger.Warn("confirm timed out, left verifying", zap.String("attempt_id", a.ID))
		return a, nil
	}
	if err != nil {
		return a, err
	}
	if success {
		return o.finish(ctx, a, StatusSucceeded, "")
	}
	return o.finish(ctx, a, StatusFailed, ReasonRejected)
}

// HandleCallback applies an authenticated provider webhook.
func (o *Orchestrator) HandleCallback(ctx context.Context, provider string, h http.Header, body []byte) (Attempt, error) {
	ctx, span := o.tracer.Start(ctx, "payment.callback", trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()

	gw, ok := o.gateways[provider]
	if !ok {
		return Attempt{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	cb, err := gw.ParseCallback(h, body)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %v", ErrBadCallback, err)
	}
	a, err := o.store.GetByProviderRef(ctx, provider, cb.ProviderRef)
	if err != nil {
		return Attempt{}, err
	}
	if cb.Pending {
		return a, nil
	}

	if !a.Status.Active() {
		if cb.Success && a.Status != StatusSucceeded {
			o.lateSuccess(ctx, a)
		}
		return a, nil
	}
	if cb.Success {
		return o.finish(ctx, a, StatusSucceeded, "")
	}
	return o.finish(ctx, a, StatusFailed, ReasonRejected)
}

// AbortActive fails the booking's active attempt without reporting back to
// the booking side; the caller owns the booking transition.
func (o *Orchestrator) AbortActive(ctx context.Context, bookingID, reason string) error {
	a, ok, err := o.store.Active(ctx, bookingID)
	if err != nil || !ok {
		return err
	}
	next, won, err := o.store.Transition(ctx, a.ID, ActiveStatuses, StatusFailed, Update{FailureReason: reason})
	if err != nil {
		return err
	}
	if !won {
		o.logger.Info("attempt settled before abort",
			zap.String("attempt_id", a.ID), zap.String("status", string(next.Status)))
		return nil
	}
	o.logger.Info("payment attempt aborted", zap.String("attempt_id", a.ID), zap.String("reason", reason))
	o.attemptChanged(ctx, next)
	return nil
}

// ExpireStale forces expired on attempts whose code validity ran out and
// fails attempts stuck in initiated past the issue deadline.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	stale, err := o.store.Stale(ctx, o.now().UTC(), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range stale {
		if a.Status == StatusInitiated {
			ok, err := o.abandonIssue(ctx, a)
			if err != nil {
				o.logger.Error("fail abandoned attempt", zap.String("attempt_id", a.ID), zap.Error(err))
			} else if ok {
				n++
			}
			continue
		}
		out, err := o.finish(ctx, a, StatusExpired, ReasonExpired)
		if err != nil {
			o.logger.Error("expire attempt", zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}
		if out.Status == StatusExpired {
			n++
		}
	}
	return n, nil
}

// abandonIssue frees the booking's payment slot held by an attempt whose
// code issue never completed. The payer never saw a code, so the attempt
// does not count towards the retry budget.
func (o *Orchestrator) abandonIssue(ctx context.Context, a Attempt) (bool, error) {
	next, won, err := o.store.Transition(ctx, a.ID, []Status{StatusInitiated}, StatusFailed,
		Update{FailureReason: ReasonIssueAbandoned})
	if err != nil || !won {
		return false, err
	}
	o.logger.Warn("payment attempt abandoned before code issue",
		zap.String("attempt_id", next.ID), zap.String("booking_id", next.BookingID))
	o.attemptChanged(ctx, next)
	o.afterFailure(ctx, next)
	return true, nil
}

// Resettle re-reports succeeded attempts whose booking never got confirmed.
func (o *Orchestrator) Resettle(ctx context.Context) (int, error) {
	list, err := o.store.SucceededUnsettled(ctx, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range list {
		if err := o.report(ctx, a, OutcomeSucceeded); err == nil {
			n++
		}
	}
	return n, nil
}

// finish performs the compare-and-set into a terminal status. Only the
// winner reports to the booking side.
func (o *Orchestrator) finish(ctx context.Context, a Attempt, to Status, reason string) (Attempt, error) {
	next, won, err := o.store.Transition(ctx, a.ID, []Status{StatusCodeIssued, StatusVerifying}, to, Update{FailureReason: reason})
	if err != nil {
		return a, err
	}
	if !won {
		if to == StatusSucceeded && next.Status != StatusSucceeded {
			o.lateSuccess(ctx, next)
		}
		return next, nil
	}

	o.logger.Info("payment attempt settled",
		zap.String("attempt_id", next.ID), zap.String("booking_id", next.BookingID), zap.String("status", string(to)))
	o.attemptChanged(ctx, next)

	if to == StatusSucceeded {
		_ = o.report(ctx, next, OutcomeSucceeded)
		return next, nil
	}
	o.afterFailure(ctx, next)
	return next, nil
}

// afterFailure ends the sequence once retries or the retry window run out.
// Until then the booking stays pending with its reservation held.
func (o *Orchestrator) afterFailure(ctx context.Context, a Attempt) {
	ref, err := o.bookings.Payable(ctx, a.BookingID)
	if err != nil {
		o.logger.Error("load booking after failed attempt", zap.String("booking_id", a.BookingID), zap.Error(err))
		return
	}
	if !ref.Pending {
		return
	}
	issued, err := o.store.CountIssued(ctx, a.BookingID)
	if err != nil {
		o.logger.Error("count attempts", zap.String("booking_id", a.BookingID), zap.Error(err))
		return
	}
	if issued < o.cfg.MaxAttempts && o.now().Sub(ref.CreatedAt) < o.cfg.RetryWindow {
		o.logger.Info("payment attempt failed, retry allowed",
			zap.String("booking_id", a.BookingID), zap.Int("attempts", issued))
		return
	}
	outcome := OutcomeFailed
	if a.Status == StatusExpired {
		outcome = OutcomeExpired
	}
	_ = o.report(ctx, a, outcome)
}

func (o *Orchestrator) report(ctx context.Context, a Attempt, outcome Outcome) error {
	err := o.bookings.OnPaymentTerminal(ctx, a.BookingID, outcome)
	switch {
	case err == nil:
		return nil
	case outcome == OutcomeSucceeded && errors.Is(err, ErrBookingNotPayable):
		o.lateSuccess(ctx, a)
	default:
		o.logger.Error("report payment outcome",
			zap.String("booking_id", a.BookingID), zap.String("outcome", string(outcome)), zap.Error(err))
	}
	return err
}

// lateSuccess records money taken for a booking that can no longer use it.
func (o *Orchestrator) lateSuccess(ctx context.Context, a Attempt) {
	o.logger.Error("payment succeeded after the booking or attempt closed",
		zap.String("attempt_id", a.ID),
		zap.String("booking_id", a.BookingID),
		zap.String("provider", a.Provider),
		zap.String("provider_ref", a.ProviderRef),
		zap.Int64("amount", a.Amount),
		zap.Bool("refund_required", true))
	env := events.New(o.producer, events.EventPaymentLateSuccess, a.BookingID, o.payload(a, true))
	if err := o.events.Publish(ctx, events.TopicPaymentLateSuccess, env); err != nil {
		o.logger.Warn("publish late success", zap.String("attempt_id", a.ID), zap.Error(err))
	}
}

func (o *Orchestrator) attemptChanged(ctx context.Context, a Attempt) {
	env := events.New(o.producer, events.EventPaymentAttemptUpdate, a.BookingID, o.payload(a, false))
	if err := o.events.Publish(ctx, events.TopicPaymentAttemptUpdate, env); err != nil {
		o.logger.Warn("publish attempt event", zap.String("attempt_id", a.ID), zap.Error(err))
	}
}

func (o *Orchestrator) payload(a Attempt, refund bool) events.PaymentAttemptPayload {
	return events.PaymentAttemptPayload{
		AttemptID:      a.ID,
		BookingID:      a.BookingID,
		Provider:       a.Provider,
		Status:         string(a.Status),
		Amount:         a.Amount,
		ProviderRef:    a.ProviderRef,
		FailureReason:  a.FailureReason,
		RefundRequired: refund,
	}
}
