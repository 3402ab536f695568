package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
	"github.com/ariefcatur/hotel-booking-core/internal/ledger"
	"github.com/ariefcatur/hotel-booking-core/internal/payment"
	"github.com/ariefcatur/hotel-booking-core/internal/pricing"
)

type Repository interface {
	// Create writes the booking and its fraud assessment atomically.
	Create(ctx context.Context, b Booking, a fraud.Assessment) error
	Get(ctx context.Context, id string) (Booking, error)
	// UpdateStatus applies the change only while the booking is still in
	// from and reports whether it did.
	UpdateStatus(ctx context.Context, id string, from, to Status, pay PaymentStatus) (bool, error)
	// AbandonedPending lists pending bookings created before cutoff that
	// have no active payment attempt.
	AbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)
}

type RoomCatalog interface {
	Room(ctx context.Context, id string) (Room, error)
}

type RiskScorer interface {
	Assess(ctx context.Context, req fraud.Request) (fraud.Assessment, error)
}

// PaymentAborter fails the active attempt of a booking, if any, without
// reporting a terminal outcome back.
type PaymentAborter interface {
	AbortActive(ctx context.Context, bookingID, reason string) error
}

type StatusCache interface {
	Invalidate(ctx context.Context, bookingID string) error
}

type Deps struct {
	Rooms    RoomCatalog
	Repo     Repository
	Ledger   ledger.Ledger
	Pricer   *pricing.Engine
	Scorer   RiskScorer
	Events   events.Publisher
	Cache    StatusCache
	Logger   *zap.Logger
	Producer string
	Now      func() time.Time
}

type Service struct {
	rooms    RoomCatalog
	repo     Repository
	ledger   ledger.Ledger
	pricer   *pricing.Engine
	scorer   RiskScorer
	events   events.Publisher
	cache    StatusCache
	payments PaymentAborter
	logger   *zap.Logger
	tracer   trace.Tracer
	producer string
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		rooms:    d.Rooms,
		repo:     d.Repo,
		ledger:   d.Ledger,
		pricer:   d.Pricer,
		scorer:   d.Scorer,
		events:   d.Events,
		cache:    d.Cache,
		logger:   d.Logger,
		tracer:   otel.Tracer("booking"),
		producer: d.Producer,
		now:      d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// SetPaymentAborter wires the orchestrator after both sides are built.
func (s *Service) SetPaymentAborter(p PaymentAborter) { s.payments = p }

// RequestBooking admits or rejects a booking. Rejections are *Rejection;
// any other error is infrastructure and leaves nothing held.
func (s *Service) RequestBooking(ctx context.Context, req Request) (Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.request",
		trace.WithAttributes(attribute.String("room_id", req.RoomID), attribute.String("user_id", req.UserID)))
	defer span.End()

	now := s.now().UTC()
	checkIn, checkOut := dateOnly(req.CheckIn), dateOnly(req.CheckOut)

	if req.Guests <= 0 {
		return Booking{}, reject(InvalidGuests, "guests must be positive, got %d", req.Guests)
	}
	if !checkOut.After(checkIn) {
		return Booking{}, reject(InvalidDates, "check-out must be after check-in")
	}
	if checkIn.Before(dateOnly(now)) {
		return Booking{}, reject(InvalidDates, "check-in is in the past")
	}

	room, err := s.rooms.Room(ctx, req.RoomID)
	if errors.Is(err, ErrRoomNotFound) {
		return Booking{}, reject(RoomNotFound, "room %s", req.RoomID)
	}
	if err != nil {
		return Booking{}, fmt.Errorf("load room: %w", err)
	}
	if req.Guests > room.Capacity {
		return Booking{}, reject(CapacityExceeded, "room holds %d guests, requested %d", room.Capacity, req.Guests)
	}

	bookingID := uuid.NewString()
	claim, err := s.ledger.Reserve(ctx, ledger.Hold{
		RoomID:      room.ID,
		BookingID:   bookingID,
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		DemandSince: now.Add(-pricing.DemandWindow),
	})
	switch {
	case errors.Is(err, ledger.ErrOverlap):
		s.logger.Info("booking rejected: room unavailable",
			zap.String("room_id", room.ID), zap.String("user_id", req.UserID), zap.Error(err))
		return Booking{}, reject(RoomUnavailable, "room %s is taken for %s..%s",
			room.ID, checkIn.Format(time.DateOnly), checkOut.Format(time.DateOnly))
	case errors.Is(err, ledger.ErrRoomNotFound):
		return Booking{}, reject(RoomNotFound, "room %s", req.RoomID)
	case err != nil:
		return Booking{}, fmt.Errorf("reserve: %w", err)
	}

	quote, err := s.pricer.Quote(pricing.Input{
		BasePrice:      room.BasePrice,
		RecentBookings: claim.RecentCommitted,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		At:             now,
	})
	if err != nil {
		s.compensate(ctx, claim.ID)
		return Booking{}, reject(InvalidDates, "%v", err)
	}

	assessment, err := s.scorer.Assess(ctx, fraud.Request{UserID: req.UserID, HotelID: room.HotelID, At: now})
	if err != nil {
		s.compensate(ctx, claim.ID)
		return Booking{}, err
	}

	b := Booking{
		ID:            bookingID,
		UserID:        req.UserID,
		RoomID:        room.ID,
		HotelID:       room.HotelID,
		ReservationID: claim.ID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Guests:        req.Guests,
		PricePerNight: quote.PricePerNight,
		Nights:        quote.Nights,
		TotalPrice:    quote.Total,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		RiskScore:     assessment.Score,
		Suspicious:    assessment.Suspicious,
		RiskReasons:   assessment.Reasons,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, b, assessment); err != nil {
		s.compensate(ctx, claim.ID)
		return Booking{}, fmt.Errorf("persist booking: %w", err)
	}

	s.logger.Info("booking admitted",
		zap.String("booking_id", b.ID),
		zap.String("room_id", b.RoomID),
		zap.Int64("total_price", b.TotalPrice),
		zap.Int("risk_score", b.RiskScore))
	if b.Suspicious {
		s.logger.Warn("booking flagged for review",
			zap.String("booking_id", b.ID),
			zap.String("user_id", b.UserID),
			zap.Int("risk_score", b.RiskScore),
			zap.Strings("reasons", b.RiskReasons))
	}
	s.changed(ctx, b, "")
	return b, nil
}

// Get returns the booking if the actor owns it or is an admin.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if !actor.Owns(b) {
		return Booking{}, ErrForbidden
	}
	return b, nil
}

// Payable reports what the orchestrator needs to charge a booking.
func (s *Service) Payable(ctx context.Context, bookingID string) (payment.BookingRef, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return payment.BookingRef{}, payment.ErrBookingNotFound
	}
	if err != nil {
		return payment.BookingRef{}, err
	}
	return payment.BookingRef{
		ID:        b.ID,
		UserID:    b.UserID,
		Amount:    b.TotalPrice,
		Pending:   b.Status == StatusPending,
		CreatedAt: b.CreatedAt,
	}, nil
}

// OnPaymentTerminal applies the final outcome of a payment sequence. Repeating
// an outcome the booking already reflects is a no-op.
func (s *Service) OnPaymentTerminal(ctx context.Context, bookingID string, outcome payment.Outcome) error {
	ctx, span := s.tracer.Start(ctx, "booking.payment_terminal",
		trace.WithAttributes(attribute.String("booking_id", bookingID), attribute.String("outcome", string(outcome))))
	defer span.End()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return err
	}

	switch outcome {
	case payment.OutcomeSucceeded:
		return s.confirm(ctx, b)
	case payment.OutcomeFailed, payment.OutcomeExpired:
		if b.Status == StatusCancelled {
			return nil
		}
		if b.Status != StatusPending {
			s.logger.Warn("payment failure for a booking that is not pending",
				zap.String("booking_id", b.ID), zap.String("status", string(b.Status)), zap.String("outcome", string(outcome)))
			return nil
		}
		_, err := s.cancelFrom(ctx, b, StatusPending, PaymentFailed, "payment "+string(outcome))
		return err
	}
	return fmt.Errorf("unknown payment outcome %q", outcome)
}

func (s *Service) confirm(ctx context.Context, b Booking) error {
	switch b.Status {
	case StatusConfirmed, StatusCompleted:
		return nil
	case StatusCancelled:
		return fmt.Errorf("booking %s is cancelled: %w", b.ID, payment.ErrBookingNotPayable)
	}

	if err := s.ledger.Commit(ctx, b.ReservationID); err != nil {
		if errors.Is(err, ledger.ErrReleased) {
			return fmt.Errorf("reservation of booking %s was released: %w", b.ID, payment.ErrBookingNotPayable)
		}
		return fmt.Errorf("commit reservation: %w", err)
	}

	ok, err := s.repo.UpdateStatus(ctx, b.ID, StatusPending, StatusConfirmed, PaymentPaid)
	if err != nil {
		return fmt.Errorf("confirm booking: %w", err)
	}
	if !ok {
		cur, err := s.repo.Get(ctx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status == StatusConfirmed {
			return nil
		}
		return fmt.Errorf("booking %s moved to %s: %w", b.ID, cur.Status, payment.ErrBookingNotPayable)
	}

	b.Status, b.PaymentStatus = StatusConfirmed, PaymentPaid
	s.logger.Info("booking confirmed", zap.String("booking_id", b.ID))
	s.changed(ctx, b, "")
	return nil
}

// Cancel is allowed for the owner or an admin while the booking is pending or
// confirmed. An active payment attempt is aborted before the reservation goes.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor Actor) (Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(attribute.String("booking_id", bookingID)))
	defer span.End()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if !actor.Owns(b) {
		return Booking{}, ErrForbidden
	}

	// a pending booking may be confirmed underneath us; one retry covers it
	for i := 0; i < 2; i++ {
		if !b.Status.Cancellable() {
			return Booking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, StatusCancelled)
		}
		pay := b.PaymentStatus
		if b.Status == StatusPending {
			if s.payments != nil {
				if err := s.payments.AbortActive(ctx, b.ID, payment.ReasonUserCancelled); err != nil {
					return Booking{}, fmt.Errorf("abort payment: %w", err)
				}
			}
			pay = PaymentFailed
		}
		out, err := s.cancelFrom(ctx, b, b.Status, pay, "cancelled by "+actor.ID)
		if err == nil {
			if b.Status == StatusConfirmed {
				s.logger.Warn("confirmed booking cancelled", zap.String("booking_id", b.ID), zap.Bool("refund_required", true))
			}
			return out, nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return Booking{}, err
		}
		if b, err = s.repo.Get(ctx, bookingID); err != nil {
			return Booking{}, err
		}
	}
	return Booking{}, fmt.Errorf("%w: booking %s kept changing", ErrInvalidTransition, bookingID)
}

// CancelAbandoned cancels pending bookings older than cutoff that nobody is
// paying for.
func (s *Service) CancelAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	list, err := s.repo.AbandonedPending(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range list {
		if _, err := s.cancelFrom(ctx, b, StatusPending, PaymentFailed, "abandoned"); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// cancelFrom flips the status first and releases second; the sweeper frees
// reservations of cancelled bookings if the release is lost.
func (s *Service) cancelFrom(ctx context.Context, b Booking, from Status, pay PaymentStatus, reason string) (Booking, error) {
	ok, err := s.repo.UpdateStatus(ctx, b.ID, from, StatusCancelled, pay)
	if err != nil {
		return Booking{}, fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s left %s", ErrInvalidTransition, b.ID, from)
	}
	if err := s.ledger.Release(ctx, b.ReservationID); err != nil {
		s.logger.Error("release after cancel failed",
			zap.String("booking_id", b.ID), zap.String("reservation_id", b.ReservationID), zap.Error(err))
	}
	b.Status, b.PaymentStatus = StatusCancelled, pay
	b.UpdatedAt = s.now().UTC()
	s.logger.Info("booking cancelled", zap.String("booking_id", b.ID), zap.String("reason", reason))
	s.changed(ctx, b, reason)
	return b, nil
}

// compensate undoes a reservation for a request that failed after Reserve.
func (s *Service) compensate(ctx context.Context, reservationID string) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), reservationID); err != nil {
		s.logger.Error("compensating release failed, left for the sweeper",
			zap.String("reservation_id", reservationID), zap.Error(err))
	}
}

func (s *Service) changed(ctx context.Context, b Booking, reason string) {
	env := events.New(s.producer, events.EventBookingStateChanged, b.ID, events.BookingStateChangedPayload{
		BookingID:     b.ID,
		UserID:        b.UserID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		Reason:        reason,
	})
	if err := s.events.Publish(ctx, events.TopicBookingStateChanged, env); err != nil {
		s.logger.Warn("publish booking event", zap.String("booking_id", b.ID), zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, b.ID); err != nil {
			s.logger.Warn("invalidate status cache", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
