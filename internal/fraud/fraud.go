package fraud

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	VelocityWindow    = 24 * time.Hour
	VelocityThreshold = 3
	RapidGap          = time.Hour
	HighValue         = 1000
	RecentDepth       = 5
	SuspiciousAt      = 50
	MaxScore          = 100

	weightVelocity  = 30
	weightRapidHigh = 25
	weightNewHotel  = 20
)

// Reason codes recorded with each assessment.
const (
	ReasonVelocity  = "more than 3 bookings in 24h"
	ReasonRapidHigh = "high-value booking less than 1h after another"
	ReasonNewHotel  = "hotel not among recent bookings"
)

// PastBooking is what the scorer needs to know about a prior booking.
type PastBooking struct {
	HotelID    string
	TotalPrice int64
	CreatedAt  time.Time
}

// History excludes the booking being assessed.
type History struct {
	CountSince int           // bookings created in the velocity window
	Recent     []PastBooking // up to RecentDepth, any order
}

type Request struct {
	UserID  string
	HotelID string
	At      time.Time
}

type Assessment struct {
	Score      int
	Suspicious bool
	Reasons    []string
}

type HistorySource interface {
	UserHistory(ctx context.Context, userID string, since time.Time, limit int) (History, error)
}

type Scorer struct {
	src HistorySource
}

func NewScorer(src HistorySource) *Scorer { return &Scorer{src: src} }

func (s *Scorer) Assess(ctx context.Context, req Request) (Assessment, error) {
	h, err := s.src.UserHistory(ctx, req.UserID, req.At.Add(-VelocityWindow), RecentDepth)
	if err != nil {
		return Assessment{}, fmt.Errorf("load user history: %w", err)
	}
	return Score(h, req), nil
}

// Score evaluates each signal independently and sums their weights.
func Score(h History, req Request) Assessment {
	var a Assessment
	if h.CountSince > VelocityThreshold {
		a.add(weightVelocity, ReasonVelocity)
	}

	recent := append([]PastBooking(nil), h.Recent...)
	sort.Slice(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > RecentDepth {
		recent = recent[:RecentDepth]
	}

	if rapidHighValue(recent) {
		a.add(weightRapidHigh, ReasonRapidHigh)
	}

	if len(recent) >= 2 && !visited(recent, req.HotelID) {
		a.add(weightNewHotel, ReasonNewHotel)
	}

	if a.Score > MaxScore {
		a.Score = MaxScore
	}
	a.Suspicious = a.Score >= SuspiciousAt
	return a
}

func (a *Assessment) add(w int, reason string) {
	a.Score += w
	a.Reasons = append(a.Reasons, reason)
}

// rapidHighValue expects recent newest first.
func rapidHighValue(recent []PastBooking) bool {
	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			later, earlier := recent[i], recent[j]
			if later.CreatedAt.Sub(earlier.CreatedAt) < RapidGap && later.TotalPrice > HighValue {
				return true
			}
		}
	}
	return false
}

func visited(recent []PastBooking, hotelID string) bool {
	for _, b := range recent {
		if b.HotelID == hotelID {
			return true
		}
	}
	return false
}
