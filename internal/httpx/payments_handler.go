package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/booking"
	"github.com/ariefcatur/hotel-booking-core/internal/payment"
)

const maxCallbackBody = 64 << 10

type PaymentService interface {
	Initiate(ctx context.Context, bookingID, provider, phone string) (payment.Attempt, error)
	Verify(ctx context.Context, attemptID, code string) (payment.Attempt, error)
	Attempt(ctx context.Context, id string) (payment.Attempt, error)
	HandleCallback(ctx context.Context, provider string, h http.Header, body []byte) (payment.Attempt, error)
}

// BookingReader answers the ownership question for payment routes.
type BookingReader interface {
	Get(ctx context.Context, id string, actor booking.Actor) (booking.Booking, error)
}

type PaymentsHandler struct {
	Payments PaymentService
	Bookings BookingReader
	Logger   *zap.Logger
}

type InitiatePaymentReq struct {
	BookingID string `json:"booking_id"`
	Provider  string `json:"provider"`
	Phone     string `json:"phone_number"`
}

type VerifyPaymentReq struct {
	Code string `json:"confirmation_code"`
}

type AttemptResp struct {
	AttemptID     string `json:"attempt_id"`
	BookingID     string `json:"booking_id"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	DisplayCode   string `json:"display_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

func toAttemptResp(a payment.Attempt) AttemptResp {
	resp := AttemptResp{
		AttemptID:     a.ID,
		BookingID:     a.BookingID,
		Provider:      a.Provider,
		Status:        string(a.Status),
		Amount:        a.Amount,
		DisplayCode:   a.DisplayCode,
		FailureReason: a.FailureReason,
	}
	if !a.ExpiresAt.IsZero() {
		resp.ExpiresAt = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Register mounts the authenticated payment routes.
func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments", h.initiate)
	r.Post("/payments/{id}/verify", h.verify)
}

// RegisterCallbacks mounts the provider webhooks, which authenticate by
// signature rather than bearer token.
func (h *PaymentsHandler) RegisterCallbacks(r chi.Router) {
	r.Post("/payments/callbacks/{provider}", h.callback)
}

func (h *PaymentsHandler) initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.BookingID == "" || req.Provider == "" {
		badRequest(w, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if _, err := h.Bookings.Get(ctx, req.BookingID, actorFrom(r)); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	a, err := h.Payments.Initiate(ctx, req.BookingID, req.Provider, req.Phone)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttemptResp(a))
}

func (h *PaymentsHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Code == "" {
		badRequest(w, "missing confirmation_code")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	a, err := h.Payments.Attempt(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if _, err := h.Bookings.Get(ctx, a.BookingID, actorFrom(r)); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	a, err = h.Payments.Verify(ctx, a.ID, req.Code)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResp(a))
}

func (h *PaymentsHandler) callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	provider := chi.URLParam(r, "provider")
	a, err := h.Payments.HandleCallback(r.Context(), provider, r.Header, body)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.Logger.Info("payment callback applied",
		zap.String("provider", provider), zap.String("attempt_id", a.ID), zap.String("status", string(a.Status)))
	w.WriteHeader(http.StatusNoContent)
}
