package pricing

import (
	"errors"
	"math"
	"time"
)

// DemandWindow is the trailing window of committed bookings that drives demand.
const DemandWindow = 30 * 24 * time.Hour

type SeasonBy string

const (
	SeasonByRequest SeasonBy = "request"
	SeasonByStay    SeasonBy = "stay"
)

var ErrNoNights = errors.New("pricing: stay must be at least one night")

// Input carries everything a quote depends on.
type Input struct {
	BasePrice      int64
	RecentBookings int
	CheckIn        time.Time
	CheckOut       time.Time
	At             time.Time // pricing instant
}

type Quote struct {
	PricePerNight int64
	Nights        int
	Total         int64
	Demand        float64
	Season        float64
}

type Engine struct {
	seasonBy SeasonBy
}

func NewEngine(seasonBy string) *Engine {
	if SeasonBy(seasonBy) == SeasonByStay {
		return &Engine{seasonBy: SeasonByStay}
	}
	return &Engine{seasonBy: SeasonByRequest}
}

// Quote is deterministic given its input.
func (e *Engine) Quote(in Input) (Quote, error) {
	nights := Nights(in.CheckIn, in.CheckOut)
	if nights < 1 {
		return Quote{}, ErrNoNights
	}
	month := in.At.Month()
	if e.seasonBy == SeasonByStay {
		month = in.CheckIn.Month()
	}
	d := DemandMultiplier(in.RecentBookings)
	s := SeasonalityMultiplier(month)
	ppn := int64(math.Round(float64(in.BasePrice) * d * s))
	return Quote{
		PricePerNight: ppn,
		Nights:        nights,
		Total:         ppn * int64(nights),
		Demand:        d,
		Season:        s,
	}, nil
}

func DemandMultiplier(recent int) float64 {
	if recent < 0 {
		recent = 0
	}
	return 1 + 0.1*(float64(recent)/30)
}

func SeasonalityMultiplier(m time.Month) float64 {
	switch m {
	case time.December, time.January, time.February, time.July, time.August:
		return 1.3
	case time.March, time.April, time.September, time.October:
		return 1.1
	default:
		return 0.9
	}
}

// Nights rounds partial days up.
func Nights(checkIn, checkOut time.Time) int {
	return int(math.Ceil(checkOut.Sub(checkIn).Hours() / 24))
}
