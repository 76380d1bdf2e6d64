package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface: health and metrics at the root,
// the engine's operations under /api/v1.
func NewRouter(h *Handler, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	if limiter != nil {
		apiV1.Use(limiter.Middleware)
	}

	apiV1.HandleFunc("/bookings", h.CreateBookingHandler).Methods("POST")
	apiV1.HandleFunc("/bookings/{id}", h.GetBookingHandler).Methods("GET")
	apiV1.HandleFunc("/bookings/{id}/cancel", h.CancelBookingHandler).Methods("POST")
	apiV1.HandleFunc("/cancellations/{id}/review", h.ReviewCancellationHandler).Methods("POST")

	apiV1.HandleFunc("/payments/confirm", h.ConfirmPaymentHandler).Methods("POST")

	apiV1.HandleFunc("/accounts/{id}/balance", h.GetBalanceHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/transactions", h.ListTransactionsHandler).Methods("GET")

	apiV1.HandleFunc("/withdrawals", h.RequestWithdrawalHandler).Methods("POST")
	apiV1.HandleFunc("/withdrawals/{id}/confirm", h.ConfirmWithdrawalHandler).Methods("POST")
	apiV1.HandleFunc("/withdrawals/{id}/reject", h.RejectWithdrawalHandler).Methods("POST")

	return r
}
