package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/money"
	"github.com/bahaybooking/ledger/internal/notify"
	"github.com/bahaybooking/ledger/internal/store"
)

// SettleKind selects the fee policy for a settlement. The caller's
// transaction kind picks the rate; the engine never infers it per call.
type SettleKind string

const (
	// SettleBooking is a guest paying for a stay: the platform keeps its
	// fee share and the host receives the net.
	SettleBooking SettleKind = "booking"
	// SettlePublishFee is a host paying the listing publish fee; the full
	// amount reaches the platform account unmodified.
	SettlePublishFee SettleKind = "publish_fee"
	// SettleSubscription is a subscription payment; the full amount
	// reaches the payee unmodified.
	SettleSubscription SettleKind = "subscription"
)

// FeePolicy maps settlement kinds to fee rates in basis points.
type FeePolicy map[SettleKind]int64

// DefaultFeePolicy reflects the platform's standing rates: 10% on booking
// payments, nothing on publish fees and subscriptions.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		SettleBooking:      1000,
		SettlePublishFee:   0,
		SettleSubscription: 0,
	}
}

// Settlement applies confirmed external payments to the ledger.
type Settlement struct {
	ledger   store.Ledger
	bookings store.Bookings
	promos   store.Promos
	notifier notify.Notifier

	// platformAccountID is resolved once by the surrounding application
	// and never re-queried per operation.
	platformAccountID string
	fees              FeePolicy
	retry             RetryPolicy
}

// NewSettlement wires a settlement engine. A nil fees map falls back to
// DefaultFeePolicy.
func NewSettlement(s store.Store, notifier notify.Notifier, platformAccountID string, fees FeePolicy) *Settlement {
	if fees == nil {
		fees = DefaultFeePolicy()
	}
	return &Settlement{
		ledger:            s,
		bookings:          s,
		promos:            s,
		notifier:          notifier,
		platformAccountID: platformAccountID,
		fees:              fees,
		retry:             DefaultRetry,
	}
}

// SettleInput describes a payment confirmed by the external gateway.
// ExternalRef must be the gateway's own order/capture identifier; it is the
// idempotency key that makes a resent webhook a no-op.
type SettleInput struct {
	BookingID   string
	GrossMinor  int64
	ExternalRef string
	Source      domain.PaymentSource
	Kind        SettleKind
}

// SettlementResult reports the balance transition of a settlement. Replayed
// is true when the notification was a duplicate and no new side effects
// occurred.
type SettlementResult struct {
	BookingID  string          `json:"booking_id"`
	GrossMinor int64           `json:"gross_minor"`
	FeeMinor   int64           `json:"fee_minor"`
	NetMinor   int64           `json:"net_minor"`
	Records    []domain.Record `json:"records,omitempty"`
	Replayed   bool            `json:"replayed"`
}

// idempotencyAccount is the account whose payment record anchors the
// idempotency tuple: the guest for wallet-funded settlements, the payee for
// gateway-funded ones (which emit no guest-side record).
func idempotencyAccount(b *domain.Booking, source domain.PaymentSource) string {
	if source == domain.SourceWallet {
		return b.GuestID
	}
	return b.HostID
}

// SettlePayment converts a confirmed payment into balance changes and audit
// records: fee split, all-or-nothing multi-account transition, booking
// confirmation, then fire-and-forget notification. A duplicate external
// reference returns the prior result unchanged.
func (e *Settlement) SettlePayment(ctx context.Context, in SettleInput) (*SettlementResult, error) {
	if in.GrossMinor <= 0 {
		settlementsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrInvalidAmount
	}
	if in.ExternalRef == "" {
		settlementsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("external reference is required")
	}
	if in.Kind == "" {
		in.Kind = SettleBooking
	}
	if in.Source == "" {
		in.Source = domain.SourceGateway
	}

	booking, err := e.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Idempotency guard: the gateway may resend notifications at will.
	prior, err := e.ledger.FindByExternalRef(ctx, in.ExternalRef, idempotencyAccount(booking, in.Source), domain.KindPayment)
	if err != nil {
		settlementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if prior != nil {
		duplicatesAbsorbed.Inc()
		settlementsTotal.WithLabelValues("replayed").Inc()
		return e.replayResult(ctx, booking, prior)
	}

	if booking.Status != domain.BookingPending {
		settlementsTotal.WithLabelValues("not_payable").Inc()
		return nil, domain.ErrBookingNotPayable
	}

	feeBps := e.fees[in.Kind]
	fee := money.Fee(in.GrossMinor, feeBps)
	net := in.GrossMinor - fee
	now := time.Now().UTC()
	detail := domain.PaymentDetail{Source: in.Source, FeeBps: feeBps, GrossMinor: in.GrossMinor}

	var transitions []store.Transition
	if in.Source == domain.SourceWallet {
		transitions = append(transitions, store.Transition{
			AccountID: booking.GuestID,
			Delta:     -in.GrossMinor,
			Record: domain.Record{
				ID:               uuid.NewString(),
				AccountID:        booking.GuestID,
				Kind:             domain.KindPayment,
				AmountMinor:      -in.GrossMinor,
				Status:           domain.StatusCompleted,
				RelatedBookingID: booking.ID,
				ExternalRef:      in.ExternalRef,
				CreatedAt:        now,
				Payment:          &detail,
			},
		})
	}
	hostRecordID := uuid.NewString()
	transitions = append(transitions, store.Transition{
		AccountID: booking.HostID,
		Delta:     net,
		Record: domain.Record{
			ID:               hostRecordID,
			AccountID:        booking.HostID,
			Kind:             domain.KindPayment,
			AmountMinor:      net,
			Status:           domain.StatusCompleted,
			RelatedBookingID: booking.ID,
			ExternalRef:      in.ExternalRef,
			CreatedAt:        now,
			Payment:          &detail,
		},
	})
	if fee > 0 {
		transitions = append(transitions, store.Transition{
			AccountID: e.platformAccountID,
			Delta:     fee,
			Record: domain.Record{
				ID:               uuid.NewString(),
				AccountID:        e.platformAccountID,
				Kind:             domain.KindPayment,
				AmountMinor:      fee,
				Status:           domain.StatusCompleted,
				RelatedBookingID: booking.ID,
				RelatedRecordID:  hostRecordID,
				ExternalRef:      in.ExternalRef,
				CreatedAt:        now,
				Payment:          &detail,
			},
		})
	}

	err = e.retry.Do(ctx, func() error {
		_, applyErr := e.ledger.ApplyMultiAtomic(ctx, transitions)
		return applyErr
	})
	if err != nil {
		// Two identical notifications can race past the lookup above; the
		// unique index lets exactly one commit. The loser answers from the
		// winner's records.
		if errors.Is(err, domain.ErrDuplicateOperation) {
			prior, findErr := e.ledger.FindByExternalRef(ctx, in.ExternalRef, idempotencyAccount(booking, in.Source), domain.KindPayment)
			if findErr == nil && prior != nil {
				duplicatesAbsorbed.Inc()
				settlementsTotal.WithLabelValues("replayed").Inc()
				return e.replayResult(ctx, booking, prior)
			}
		}
		if errors.Is(err, domain.ErrInsufficientFunds) {
			settlementsTotal.WithLabelValues("insufficient_funds").Inc()
		} else {
			settlementsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if err := e.bookings.UpdateBookingStatus(ctx, booking.ID, domain.BookingPending, domain.BookingConfirmed); err != nil {
		// Money has moved; the booking flip losing a race is not a
		// settlement failure. Anything else must surface.
		if !errors.Is(err, domain.ErrBookingNotPayable) {
			settlementsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	// Consume the booking's promotional credit, if any. Already-used or
	// missing codes are not settlement failures.
	if booking.PromoCode != "" {
		_ = e.promos.SetPromoStatus(ctx, booking.PromoCode, domain.PromoUnused, domain.PromoUsed)
	}

	records := make([]domain.Record, 0, len(transitions))
	for _, t := range transitions {
		records = append(records, t.Record)
	}

	settlementsTotal.WithLabelValues("settled").Inc()
	e.notifier.SettlementCompleted(ctx, notify.SettlementEvent{
		BookingID:   booking.ID,
		GuestID:     booking.GuestID,
		HostID:      booking.HostID,
		GrossMinor:  in.GrossMinor,
		FeeMinor:    fee,
		NetMinor:    net,
		Gross:       money.FormatPHP(in.GrossMinor),
		ExternalRef: in.ExternalRef,
		SettledAt:   now.Format(time.RFC3339),
	})

	return &SettlementResult{
		BookingID:  booking.ID,
		GrossMinor: in.GrossMinor,
		FeeMinor:   fee,
		NetMinor:   net,
		Records:    records,
	}, nil
}

// replayResult rebuilds the original settlement outcome from the stored
// records without any new side effects.
func (e *Settlement) replayResult(ctx context.Context, booking *domain.Booking, prior *domain.Record) (*SettlementResult, error) {
	gross := prior.AmountMinor
	if gross < 0 {
		gross = -gross
	}
	var feeBps int64
	if prior.Payment != nil {
		feeBps = prior.Payment.FeeBps
		if prior.Payment.GrossMinor > 0 {
			gross = prior.Payment.GrossMinor
		}
	}
	fee := money.Fee(gross, feeBps)

	records, err := e.ledger.RecordsForBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	return &SettlementResult{
		BookingID:  booking.ID,
		GrossMinor: gross,
		FeeMinor:   fee,
		NetMinor:   gross - fee,
		Records:    records,
		Replayed:   true,
	}, nil
}
