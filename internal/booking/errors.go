package booking

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable cause of an admission rejection.
type Reason string

const (
	RoomUnavailable  Reason = "RoomUnavailable"
	InvalidDates     Reason = "InvalidDates"
	CapacityExceeded Reason = "CapacityExceeded"
	InvalidGuests    Reason = "InvalidGuests"
	RoomNotFound     Reason = "RoomNotFound"
)

// Rejection is an expected, user-correctable admission outcome. No booking
// exists and nothing is held when one is returned.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "booking rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("booking rejected: %s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) error {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

var (
	ErrNotFound          = errors.New("booking: not found")
	ErrRoomNotFound      = errors.New("booking: room not found")
	ErrForbidden         = errors.New("booking: actor may not act on this booking")
	ErrInvalidTransition = errors.New("booking: invalid status transition")
)
