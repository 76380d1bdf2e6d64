// Package api exposes the ledger engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/money"
	"github.com/bahaybooking/ledger/internal/service"
	"github.com/bahaybooking/ledger/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

var validate = validator.New()

type Handler struct {
	guard      *service.ConflictGuard
	settlement *service.Settlement
	refund     *service.Refund
	withdrawal *service.Withdrawal
	ledger     store.Ledger
	bookings   store.Bookings
}

func NewHandler(guard *service.ConflictGuard, settlement *service.Settlement, refund *service.Refund, withdrawal *service.Withdrawal, s store.Store) *Handler {
	return &Handler{
		guard:      guard,
		settlement: settlement,
		refund:     refund,
		withdrawal: withdrawal,
		ledger:     s,
		bookings:   s,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, "GET", "/health", http.StatusOK, map[string]string{"status": "ok"})
}

type createBookingRequest struct {
	GuestID     string  `json:"guest_id" validate:"required"`
	HostID      string  `json:"host_id" validate:"required"`
	ListingID   string  `json:"listing_id" validate:"required"`
	CheckIn     string  `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut    string  `json:"check_out" validate:"required,datetime=2006-01-02"`
	Guests      int     `json:"guests" validate:"min=1"`
	TotalAmount float64 `json:"total_amount" validate:"gt=0"`
	PromoCode   string  `json:"promo_code"`
}

func (h *Handler) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req createBookingRequest
	if !decodeAndValidate(w, r, endpoint, &req) {
		return
	}
	checkIn, _ := time.Parse("2006-01-02", req.CheckIn)
	checkOut, _ := time.Parse("2006-01-02", req.CheckOut)

	booking, err := h.guard.PlaceBooking(r.Context(), service.BookingInput{
		GuestID:          req.GuestID,
		HostID:           req.HostID,
		ListingID:        req.ListingID,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		Guests:           req.Guests,
		TotalAmountMinor: money.ToMinor(req.TotalAmount),
		PromoCode:        req.PromoCode,
	})
	if err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusCreated, booking)
}

func (h *Handler) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings/{id}"
	booking, err := h.bookings.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, "GET", endpoint, err)
		return
	}
	respondWithJSON(w, "GET", endpoint, http.StatusOK, booking)
}

type confirmPaymentRequest struct {
	BookingID   string  `json:"booking_id" validate:"required"`
	Amount      float64 `json:"amount" validate:"gt=0"`
	ExternalRef string  `json:"external_ref" validate:"required"`
	Source      string  `json:"source" validate:"omitempty,oneof=wallet gateway"`
	Kind        string  `json:"kind" validate:"omitempty,oneof=booking publish_fee subscription"`
}

// ConfirmPaymentHandler is the gateway's payment-confirmed webhook. A resent
// notification replays the original result with a 200; a first application
// answers 201.
func (h *Handler) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/payments/confirm"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req confirmPaymentRequest
	if !decodeAndValidate(w, r, endpoint, &req) {
		return
	}

	result, err := h.settlement.SettlePayment(r.Context(), service.SettleInput{
		BookingID:   req.BookingID,
		GrossMinor:  money.ToMinor(req.Amount),
		ExternalRef: req.ExternalRef,
		Source:      domain.PaymentSource(req.Source),
		Kind:        service.SettleKind(req.Kind),
	})
	if err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondWithJSON(w, "POST", endpoint, status, result)
}

type cancelBookingRequest struct {
	GuestID string `json:"guest_id" validate:"required"`
	Reason  string `json:"reason"`
}

func (h *Handler) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bookings/{id}/cancel"
	var req cancelBookingRequest
	if !decodeAndValidate(w, r, endpoint, &req) {
		return
	}
	cr, err := h.refund.RequestCancellation(r.Context(), mux.Vars(r)["id"], req.GuestID, req.Reason)
	if err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusCreated, cr)
}

type reviewCancellationRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Approve  bool   `json:"approve"`
}

func (h *Handler) ReviewCancellationHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/cancellations/{id}/review"
	var req reviewCancellationRequest
	if !decodeAndValidate(w, r, endpoint, &req) {
		return
	}
	result, err := h.refund.ReviewCancellation(r.Context(), mux.Vars(r)["id"], req.Reviewer, req.Approve)
	if err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	if result == nil {
		respondWithJSON(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "rejected"})
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusOK, result)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/balance"
	accountID := mux.Vars(r)["id"]
	balance, err := h.ledger.ReadBalance(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, "GET", endpoint, err)
		return
	}
	respondWithJSON(w, "GET", endpoint, http.StatusOK, map[string]any{
		"account_id":    accountID,
		"balance_minor": balance,
		"balance":       money.ToMajor(balance),
	})
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/transactions"
	accountID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.ledger.ListRecords(r.Context(), accountID, limit, offset)
	if err != nil {
		respondServiceError(w, "GET", endpoint, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	respondWithJSON(w, "GET", endpoint, http.StatusOK, records)
}

type withdrawalRequest struct {
	AccountID      string  `json:"account_id" validate:"required"`
	Amount         float64 `json:"amount" validate:"gt=0"`
	PayeeReference string  `json:"payee_reference" validate:"required"`
}

func (h *Handler) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/withdrawals"
	var req withdrawalRequest
	if !decodeAndValidate(w, r, endpoint, &req) {
		return
	}
	id, err := h.withdrawal.RequestWithdrawal(r.Context(), req.AccountID, money.ToMinor(req.Amount), req.PayeeReference)
	if err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusCreated, map[string]string{"request_id": id})
}

func (h *Handler) ConfirmWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/withdrawals/{id}/confirm"
	if err := h.withdrawal.ConfirmWithdrawal(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/withdrawals/{id}/reject"
	if err := h.withdrawal.RejectWithdrawal(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, "POST", endpoint, err)
		return
	}
	respondWithJSON(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "failed"})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, endpoint string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, r.Method, endpoint, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, r.Method, endpoint, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func respondServiceError(w http.ResponseWriter, method, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		respondWithError(w, method, endpoint, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondWithError(w, method, endpoint, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.Is(err, domain.ErrBookingConflict):
		respondWithError(w, method, endpoint, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrBookingNotPayable):
		respondWithError(w, method, endpoint, http.StatusConflict, "Booking is not payable")
	case errors.Is(err, domain.ErrWithdrawalPending):
		respondWithError(w, method, endpoint, http.StatusConflict, "A withdrawal request is already pending")
	case errors.Is(err, domain.ErrDuplicateOperation):
		respondWithError(w, method, endpoint, http.StatusConflict, "Duplicate operation")
	case errors.Is(err, domain.ErrRequestNotPending):
		respondWithError(w, method, endpoint, http.StatusConflict, "Request has already been resolved")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(w, method, endpoint, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrTransactionConflict):
		respondWithError(w, method, endpoint, http.StatusServiceUnavailable, "Contention, retry later")
	default:
		respondWithError(w, method, endpoint, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, method, endpoint string, code int, message string) {
	respondWithJSON(w, method, endpoint, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, method, endpoint string, code int, payload any) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
