package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/events"
	kafkax "github.com/ariefcatur/hotel-booking-core/internal/kafka"
)

// Notification is one message destined for a guest or for operations.
type Notification struct {
	BookingID string
	UserID    string
	Kind      string
	Text      string
	// Ops marks messages for staff rather than the guest.
	Ops bool
}

type Sink interface {
	Send(ctx context.Context, n Notification) error
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Service turns booking and payment events into notifications. Delivery is
// at-least-once from the broker; Dedup makes it effectively once per event.
type Service struct {
	Dedup  Deduper
	Sink   Sink
	Logger *zap.Logger
}

// HandleMessage is installed as the kafka consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	return s.Handle(ctx, m.Value)
}

// Handle processes one encoded envelope, whichever transport carried it.
func (s *Service) Handle(ctx context.Context, value []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		// poison message; acking it is the only way past
		s.Logger.Error("undecodable event", zap.Error(err))
		return nil
	}

	n, ok, err := s.render(env)
	if err != nil {
		s.Logger.Error("bad event payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	claimed, err := s.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !claimed {
		s.Logger.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}
	if err := s.Sink.Send(ctx, n); err != nil {
		// let the redelivery try again
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Logger.Warn("dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func (s *Service) render(env events.Envelope) (Notification, bool, error) {
	switch env.EventType {
	case events.EventBookingStateChanged:
		p, err := kafkax.UnwrapPayload[events.BookingStateChangedPayload](env.Payload)
		if err != nil {
			return Notification{}, false, err
		}
		var text string
		switch p.Status {
		case "confirmed":
			text = "Your booking is confirmed."
		case "cancelled":
			text = "Your booking was cancelled."
			if p.Reason != "" {
				text += " Reason: " + p.Reason + "."
			}
		default:
			return Notification{}, false, nil
		}
		return Notification{BookingID: p.BookingID, UserID: p.UserID, Kind: "booking_" + p.Status, Text: text}, true, nil

	case events.EventPaymentAttemptUpdate:
		p, err := kafkax.UnwrapPayload[events.PaymentAttemptPayload](env.Payload)
		if err != nil {
			return Notification{}, false, err
		}
		switch p.Status {
		case "code_issued":
			return Notification{BookingID: p.BookingID, Kind: "payment_code",
				Text: fmt.Sprintf("Approve the payment of %d on your %s wallet.", p.Amount, p.Provider)}, true, nil
		case "failed", "expired":
			return Notification{BookingID: p.BookingID, Kind: "payment_" + p.Status,
				Text: "Your payment did not go through."}, true, nil
		}
		return Notification{}, false, nil

	case events.EventPaymentLateSuccess:
		p, err := kafkax.UnwrapPayload[events.PaymentAttemptPayload](env.Payload)
		if err != nil {
			return Notification{}, false, err
		}
		return Notification{BookingID: p.BookingID, Kind: "refund_required", Ops: true,
			Text: fmt.Sprintf("Attempt %s (%s ref %s) succeeded after the booking closed; refund %d.",
				p.AttemptID, p.Provider, p.ProviderRef, p.Amount)}, true, nil
	}
	return Notification{}, false, nil
}

// LogSink writes notifications to the log; the delivery channel (SMS, push)
// sits outside this service.
type LogSink struct {
	Logger *zap.Logger
}

func (l LogSink) Send(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("booking_id", n.BookingID),
		zap.String("kind", n.Kind),
		zap.String("text", n.Text),
	}
	if n.UserID != "" {
		fields = append(fields, zap.String("user_id", n.UserID))
	}
	if n.Ops {
		l.Logger.Warn("ops notification", fields...)
		return nil
	}
	l.Logger.Info("guest notification", fields...)
	return nil
}
