package booking

import "time"

type Room struct {
	ID        string
	HotelID   string
	BasePrice int64
	Capacity  int
}

type Booking struct {
	ID            string
	UserID        string
	RoomID        string
	HotelID       string
	ReservationID string
	CheckIn       time.Time
	CheckOut      time.Time
	Guests        int
	PricePerNight int64
	Nights        int
	TotalPrice    int64
	Status        Status
	PaymentStatus PaymentStatus
	RiskScore     int
	Suspicious    bool
	RiskReasons   []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Request struct {
	UserID   string
	RoomID   string
	CheckIn  time.Time
	CheckOut time.Time
	Guests   int
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Admin bool
}

func (a Actor) Owns(b Booking) bool { return a.Admin || a.ID == b.UserID }
