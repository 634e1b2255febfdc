package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/storepay/handler"
)

// Handlers are the endpoints served under /v1
type Handlers struct {
	Payments *handler.PaymentHandler
	Logs     *handler.LogsHandler
}

// Routes registers all API routes. admin guards back-office operations.
func Routes(r chi.Router, h Handlers, admin func(http.Handler) http.Handler) {
	// Customer checkout
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Post("/payments", h.Payments.InitializePayment)
		r.Post("/payments/card", h.Payments.PayWithCard)
		r.Post("/payments/wallet", h.Payments.PayWithWallet)
		r.Get("/payment", h.Payments.GetPaymentStatus)

		// Back office
		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Post("/refunds", h.Payments.RefundPayment)
			if h.Logs != nil {
				r.Get("/logs", h.Logs.OrderLogs)
			}
		})
	})

	r.With(admin).Post("/returns/{returnID}/refund", h.Payments.RefundReturn)
}
