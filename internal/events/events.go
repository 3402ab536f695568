package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingStateChanged  = "BookingStateChanged"
	EventPaymentAttemptUpdate = "PaymentAttemptUpdated"
	EventPaymentLateSuccess   = "PaymentLateSuccess"
)

const (
	TopicBookingStateChanged  = "booking.state_changed"
	TopicPaymentAttemptUpdate = "payment.attempt_updated"
	TopicPaymentLateSuccess   = "payment.late_success"
)

// Topics lists every topic the api publishes to.
var Topics = []string{TopicBookingStateChanged, TopicPaymentAttemptUpdate, TopicPaymentLateSuccess}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // booking_id
	Payload       json.RawMessage `json:"payload"`
}

// BookingStateChangedPayload is what the notification collaborator receives.
type BookingStateChangedPayload struct {
	BookingID     string `json:"booking_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Reason        string `json:"reason,omitempty"`
}

type PaymentAttemptPayload struct {
	AttemptID      string `json:"attempt_id"`
	BookingID      string `json:"booking_id"`
	Provider       string `json:"provider"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	ProviderRef    string `json:"provider_ref,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	RefundRequired bool   `json:"refund_required,omitempty"`
}

// Publisher hands envelopes to the event transport. Implementations must not
// block the caller on broker availability for longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// New builds an envelope with a fresh id; payload marshalling cannot fail for
// the payload types above.
func New(producer, eventType, correlationID string, payload any) Envelope {
	b, _ := json.Marshal(payload)
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}
}

// PartitionKey keeps all events of one booking in order.
func PartitionKey(bookingID string) []byte { return []byte(bookingID) }

// Discard drops events; used where no transport is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Envelope) error { return nil }
