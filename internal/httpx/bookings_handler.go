package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/auth"
	"github.com/ariefcatur/hotel-booking-core/internal/booking"
)

const dateLayout = "2006-01-02"

type BookingService interface {
	RequestBooking(ctx context.Context, req booking.Request) (booking.Booking, error)
	Get(ctx context.Context, id string, actor booking.Actor) (booking.Booking, error)
	Cancel(ctx context.Context, id string, actor booking.Actor) (booking.Booking, error)
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, key string) (string, error)
	Remember(ctx context.Context, userID, key, bookingID string) error
}

type StatusCache interface {
	Get(ctx context.Context, bookingID string) ([]byte, bool)
	Set(ctx context.Context, bookingID string, body []byte) error
}

type BookingsHandler struct {
	Service     BookingService
	Idempotency IdempotencyStore
	Cache       StatusCache
	Logger      *zap.Logger
}

type CreateBookingReq struct {
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Guests   int    `json:"guests"`
}

type BookingResp struct {
	BookingID     string   `json:"booking_id"`
	UserID        string   `json:"user_id"`
	RoomID        string   `json:"room_id"`
	CheckIn       string   `json:"check_in"`
	CheckOut      string   `json:"check_out"`
	Guests        int      `json:"guests"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"payment_status"`
	PricePerNight int64    `json:"price_per_night"`
	Nights        int      `json:"nights"`
	TotalPrice    int64    `json:"total_price"`
	Suspicious    bool     `json:"suspicious"`
	RiskScore     int      `json:"risk_score"`
	RiskReasons   []string `json:"risk_reasons,omitempty"`
	Idempotent    bool     `json:"idempotent,omitempty"`
}

func toBookingResp(b booking.Booking) BookingResp {
	return BookingResp{
		BookingID:     b.ID,
		UserID:        b.UserID,
		RoomID:        b.RoomID,
		CheckIn:       b.CheckIn.Format(dateLayout),
		CheckOut:      b.CheckOut.Format(dateLayout),
		Guests:        b.Guests,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PricePerNight: b.PricePerNight,
		Nights:        b.Nights,
		TotalPrice:    b.TotalPrice,
		Suspicious:    b.Suspicious,
		RiskScore:     b.RiskScore,
		RiskReasons:   b.RiskReasons,
	}
}

func (h *BookingsHandler) Register(r chi.Router) {
	r.Post("/bookings", h.createBooking)
	r.Get("/bookings/{id}", h.getBooking)
	r.Post("/bookings/{id}/cancel", h.cancelBooking)
}

func actorFrom(r *http.Request) booking.Actor {
	p, _ := auth.FromContext(r.Context())
	return booking.Actor{ID: p.UserID, Admin: p.Admin()}
}

func (h *BookingsHandler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor := actorFrom(r)
	if req.UserID == "" {
		req.UserID = actor.ID
	}
	if req.UserID != actor.ID && !actor.Admin {
		writeError(w, h.Logger, booking.ErrForbidden)
		return
	}
	if req.RoomID == "" {
		badRequest(w, "missing room_id")
		return
	}
	in, errIn := time.Parse(dateLayout, req.CheckIn)
	out, errOut := time.Parse(dateLayout, req.CheckOut)
	if errIn != nil || errOut != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Reason: string(booking.InvalidDates), Error: "dates must be YYYY-MM-DD",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.Idempotency != nil {
		id, err := h.Idempotency.Lookup(ctx, req.UserID, idemKey)
		if err != nil {
			h.Logger.Warn("idempotency lookup failed", zap.Error(err))
		}
		if id != "" {
			b, err := h.Service.Get(ctx, id, actor)
			if err == nil {
				resp := toBookingResp(b)
				resp.Idempotent = true
				writeJSON(w, http.StatusOK, resp)
				return
			}
			h.Logger.Warn("idempotent replay lookup failed", zap.String("booking_id", id), zap.Error(err))
		}
	}

	b, err := h.Service.RequestBooking(ctx, booking.Request{
		UserID:   req.UserID,
		RoomID:   req.RoomID,
		CheckIn:  in,
		CheckOut: out,
		Guests:   req.Guests,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	if idemKey != "" && h.Idempotency != nil {
		if err := h.Idempotency.Remember(ctx, req.UserID, idemKey, b.ID); err != nil {
			h.Logger.Warn("idempotency remember failed", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, toBookingResp(b))
}

func (h *BookingsHandler) getBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := actorFrom(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache hit still goes through the ownership check
	if h.Cache != nil {
		if raw, ok := h.Cache.Get(ctx, id); ok {
			var resp BookingResp
			if json.Unmarshal(raw, &resp) == nil {
				if !actor.Admin && resp.UserID != actor.ID {
					writeError(w, h.Logger, booking.ErrForbidden)
					return
				}
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	b, err := h.Service.Get(ctx, id, actor)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	resp := toBookingResp(b)
	if h.Cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			_ = h.Cache.Set(ctx, id, raw)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingsHandler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.Service.Cancel(ctx, chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResp(b))
}
