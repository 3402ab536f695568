package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/booking"
	"github.com/ariefcatur/hotel-booking-core/internal/mobilemoney"
	"github.com/ariefcatur/hotel-booking-core/internal/payment"
)

type errorBody struct {
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if rej, ok := booking.AsRejection(err); ok {
		code := http.StatusUnprocessableEntity
		switch rej.Reason {
		case booking.RoomUnavailable:
			code = http.StatusConflict
		case booking.RoomNotFound:
			code = http.StatusNotFound
		}
		writeJSON(w, code, errorBody{Reason: string(rej.Reason), Error: rej.Error()})
		return
	}

	var (
		code   int
		reason string
	)
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, payment.ErrBookingNotFound):
		code, reason = http.StatusNotFound, "BookingNotFound"
	case errors.Is(err, payment.ErrAttemptNotFound):
		code, reason = http.StatusNotFound, "AttemptNotFound"
	case errors.Is(err, booking.ErrForbidden):
		code, reason = http.StatusForbidden, "Forbidden"
	case errors.Is(err, booking.ErrInvalidTransition):
		code, reason = http.StatusConflict, "InvalidTransition"
	case errors.Is(err, payment.ErrInvalidPhoneNumber):
		code, reason = http.StatusUnprocessableEntity, "InvalidPhoneNumber"
	case errors.Is(err, payment.ErrUnknownProvider):
		code, reason = http.StatusUnprocessableEntity, "UnknownProvider"
	case errors.Is(err, payment.ErrAttemptInProgress):
		code, reason = http.StatusConflict, "AttemptInProgress"
	case errors.Is(err, payment.ErrBookingNotPayable):
		code, reason = http.StatusConflict, "BookingNotPayable"
	case errors.Is(err, payment.ErrAttemptClosed):
		code, reason = http.StatusConflict, "AttemptClosed"
	case errors.Is(err, payment.ErrBadCallback):
		code, reason = http.StatusUnauthorized, "BadCallback"
	case errors.Is(err, mobilemoney.ErrGatewayTimeout):
		code, reason = http.StatusGatewayTimeout, "GatewayTimeout"
	case errors.Is(err, mobilemoney.ErrGatewayUnavailable), errors.Is(err, mobilemoney.ErrGatewayRejected):
		code, reason = http.StatusBadGateway, "GatewayError"
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Reason: reason, Error: err.Error()})
}
