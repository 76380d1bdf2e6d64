// Package domain holds the core types of the ledger and settlement engine.
package domain

import "time"

// RecordKind is the business reason for a ledger record.
type RecordKind string

const (
	KindPayment    RecordKind = "payment"
	KindDeposit    RecordKind = "deposit"
	KindWithdrawal RecordKind = "withdrawal"
	KindRefund     RecordKind = "refund"
	KindReward     RecordKind = "reward"
)

// RecordStatus is the lifecycle state of a ledger record.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
	StatusRefunded  RecordStatus = "refunded"
)

// PaymentSource says where the money for a settlement came from.
type PaymentSource string

const (
	// SourceWallet debits the guest's platform wallet.
	SourceWallet PaymentSource = "wallet"
	// SourceGateway means the guest paid the external gateway directly;
	// no guest-side wallet debit occurs.
	SourceGateway PaymentSource = "gateway"
)

// PaymentDetail carries the fields specific to payment records. GrossMinor
// is the full amount the guest paid; every leg of a settlement carries it so
// a replayed notification can be answered from any one record.
type PaymentDetail struct {
	Source     PaymentSource `json:"source"`
	FeeBps     int64         `json:"fee_bps"`
	GrossMinor int64         `json:"gross_minor"`
}

// WithdrawalDetail carries the fields specific to withdrawal records.
// PayeeReference identifies the destination account at the external gateway.
type WithdrawalDetail struct {
	PayeeReference string `json:"payee_reference"`
}

// RefundDetail carries the fields specific to refund records.
// ShortfallMinor is the part of the host-side reversal that the host balance
// could not cover; it is tracked as a recoverable debt.
type RefundDetail struct {
	Initiator      string `json:"initiator"`
	Reason         string `json:"reason,omitempty"`
	ShortfallMinor int64  `json:"shortfall_minor,omitempty"`
}

// RewardDetail carries the fields specific to reward records.
type RewardDetail struct {
	PromoCode string `json:"promo_code"`
}

// Record is the common envelope of the append-only transaction log.
// Once Status is completed the amount fields never change; a correction is a
// new record linked through RelatedRecordID. The single exception is the
// withdrawal request flip from pending to completed or failed, which the
// workflow models as the same record.
type Record struct {
	ID               string       `json:"id"`
	AccountID        string       `json:"account_id"`
	Kind             RecordKind   `json:"kind"`
	AmountMinor      int64        `json:"amount_minor"`
	Status           RecordStatus `json:"status"`
	RelatedBookingID string       `json:"related_booking_id,omitempty"`
	RelatedRecordID  string       `json:"related_record_id,omitempty"`
	ExternalRef      string       `json:"external_ref,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`

	// Exactly one of these is set, matching Kind. Deposit needs no extra
	// fields beyond the envelope.
	Payment    *PaymentDetail    `json:"payment,omitempty"`
	Withdrawal *WithdrawalDetail `json:"withdrawal,omitempty"`
	Refund     *RefundDetail     `json:"refund,omitempty"`
	Reward     *RewardDetail     `json:"reward,omitempty"`
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is a stay reservation. CheckIn and CheckOut are day-granularity
// dates; the occupied range is half-open, [CheckIn, CheckOut).
type Booking struct {
	ID                    string        `json:"id"`
	GuestID               string        `json:"guest_id"`
	HostID                string        `json:"host_id"`
	ListingID             string        `json:"listing_id"`
	CheckIn               time.Time     `json:"check_in"`
	CheckOut              time.Time     `json:"check_out"`
	Guests                int           `json:"guests"`
	TotalAmountMinor      int64         `json:"total_amount_minor"`
	Status                BookingStatus `json:"status"`
	CancellationRequestID string        `json:"cancellation_request_id,omitempty"`
	PromoCode             string        `json:"promo_code,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Overlaps reports whether the booking's stay intersects [checkIn, checkOut),
// compared half-open at day granularity.
func (b *Booking) Overlaps(checkIn, checkOut time.Time) bool {
	return b.CheckIn.Before(checkOut) && b.CheckOut.After(checkIn)
}

// CancellationStatus is the review state of a cancellation request.
type CancellationStatus string

const (
	CancellationPending  CancellationStatus = "pending"
	CancellationApproved CancellationStatus = "approved"
	CancellationRejected CancellationStatus = "rejected"
)

// CancellationRequest asks the operator to cancel a booking and refund the
// guest. At most one pending request exists per booking.
type CancellationRequest struct {
	ID         string             `json:"id"`
	BookingID  string             `json:"booking_id"`
	GuestID    string             `json:"guest_id"`
	HostID     string             `json:"host_id"`
	Reason     string             `json:"reason,omitempty"`
	Status     CancellationStatus `json:"status"`
	ReviewedBy string             `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time         `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// PromoStatus tracks whether a promotional credit has been spent.
type PromoStatus string

const (
	PromoUnused PromoStatus = "unused"
	PromoUsed   PromoStatus = "used"
)

// PromoCredit is a promotional credit granted to a guest. Settlement marks it
// used; a refund restores it to unused.
type PromoCredit struct {
	Code        string      `json:"code"`
	GuestID     string      `json:"guest_id"`
	AmountMinor int64       `json:"amount_minor"`
	Status      PromoStatus `json:"status"`
}
