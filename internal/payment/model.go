package payment

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusCodeIssued Status = "code_issued"
	StatusVerifying  Status = "verifying"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

var validNext = map[Status]map[Status]bool{
	StatusInitiated:  {StatusCodeIssued: true, StatusFailed: true},
	StatusCodeIssued: {StatusVerifying: true, StatusSucceeded: true, StatusFailed: true, StatusExpired: true},
	StatusVerifying:  {StatusSucceeded: true, StatusFailed: true, StatusExpired: true},
	StatusSucceeded:  {},
	StatusFailed:     {},
	StatusExpired:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ActiveStatuses hold the booking's single payment slot.
var ActiveStatuses = []Status{StatusInitiated, StatusCodeIssued, StatusVerifying}

func (s Status) Active() bool {
	return s == StatusInitiated || s == StatusCodeIssued || s == StatusVerifying
}

type Attempt struct {
	ID            string
	BookingID     string
	Provider      string
	Phone         string
	Amount        int64
	Status        Status
	ProviderRef   string
	DisplayCode   string
	FailureReason string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outcome is what a finished attempt sequence reports to the booking side.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
)

// BookingRef is the part of a booking the orchestrator needs.
type BookingRef struct {
	ID        string
	UserID    string
	Amount    int64
	Pending   bool
	CreatedAt time.Time
}

// Bookings is implemented by the booking lifecycle manager.
type Bookings interface {
	Payable(ctx context.Context, bookingID string) (BookingRef, error)
	OnPaymentTerminal(ctx context.Context, bookingID string, outcome Outcome) error
}

// Failure reasons stored on attempts.
const (
	ReasonRejected      = "rejected-by-provider"
	ReasonUserCancelled = "user-cancelled"
	ReasonExpired       = "code-expired"
	ReasonIssueFailed   = "issue-failed"

	// the process lost track of an attempt before the gateway answered
	ReasonIssueAbandoned = "issue-abandoned"
)

var (
	ErrInvalidPhoneNumber = errors.New("payment: invalid phone number")
	ErrAttemptInProgress  = errors.New("payment: another attempt is in progress")
	ErrUnknownProvider    = errors.New("payment: unknown provider")
	ErrAttemptNotFound    = errors.New("payment: attempt not found")
	ErrAttemptClosed      = errors.New("payment: attempt is no longer open")
	ErrBookingNotPayable  = errors.New("payment: booking is not awaiting payment")
	ErrBookingNotFound    = errors.New("payment: booking not found")
	ErrBadCallback        = errors.New("payment: callback failed authentication")
)
