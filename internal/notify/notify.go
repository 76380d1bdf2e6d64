// Package notify publishes ledger state changes to downstream consumers.
// Dispatch is strictly fire-and-forget: every publish runs after the ledger
// transition has committed, and a broker failure is logged and discarded,
// never propagated into the financial flow.
package notify

import "context"

// SettlementEvent is published after a payment settles.
type SettlementEvent struct {
	BookingID   string `json:"booking_id"`
	GuestID     string `json:"guest_id"`
	HostID      string `json:"host_id"`
	GrossMinor  int64  `json:"gross_minor"`
	FeeMinor    int64  `json:"fee_minor"`
	NetMinor    int64  `json:"net_minor"`
	Gross       string `json:"gross"`
	ExternalRef string `json:"external_ref"`
	SettledAt   string `json:"settled_at"`
}

// RefundEvent is published after a booking refund.
type RefundEvent struct {
	BookingID      string `json:"booking_id"`
	GuestID        string `json:"guest_id"`
	HostID         string `json:"host_id"`
	RefundMinor    int64  `json:"refund_minor"`
	ShortfallMinor int64  `json:"shortfall_minor,omitempty"`
	Refund         string `json:"refund"`
	Initiator      string `json:"initiator"`
	RefundedAt     string `json:"refunded_at"`
}

// WithdrawalEvent is published when a withdrawal request is confirmed or
// rejected.
type WithdrawalEvent struct {
	RequestID      string `json:"request_id"`
	AccountID      string `json:"account_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Amount         string `json:"amount"`
	PayeeReference string `json:"payee_reference"`
	Outcome        string `json:"outcome"`
	ResolvedAt     string `json:"resolved_at"`
}

// Notifier fans ledger events out to interested consumers. Implementations
// must never block the caller on broker trouble beyond a dial timeout and
// must swallow their own errors.
type Notifier interface {
	SettlementCompleted(ctx context.Context, ev SettlementEvent)
	RefundCompleted(ctx context.Context, ev RefundEvent)
	WithdrawalResolved(ctx context.Context, ev WithdrawalEvent)
}

// Nop discards every event. Used by tests and broker-less deployments.
type Nop struct{}

func (Nop) SettlementCompleted(context.Context, SettlementEvent) {}
func (Nop) RefundCompleted(context.Context, RefundEvent)         {}
func (Nop) WithdrawalResolved(context.Context, WithdrawalEvent)  {}
