package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount wires the versioned API onto r. authn guards everything except the
// provider callbacks.
func Mount(r chi.Router, authn func(http.Handler) http.Handler, bookings *BookingsHandler, payments *PaymentsHandler) {
	r.Route("/v1", func(r chi.Router) {
		payments.RegisterCallbacks(r)
		r.Group(func(r chi.Router) {
			r.Use(authn)
			bookings.Register(r)
			payments.Register(r)
		})
	})
}
