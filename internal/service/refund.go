package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/money"
	"github.com/bahaybooking/ledger/internal/notify"
	"github.com/bahaybooking/ledger/internal/store"
)

// Refund reverses settlements and runs the cancellation-request workflow.
type Refund struct {
	ledger   store.Ledger
	bookings store.Bookings
	promos   store.Promos
	notifier notify.Notifier

	platformAccountID string
	retry             RetryPolicy
}

// NewRefund wires a refund engine against the same store as the settlement
// engine; it reverses exactly what settlement recorded.
func NewRefund(s store.Store, notifier notify.Notifier, platformAccountID string) *Refund {
	return &Refund{
		ledger:            s,
		bookings:          s,
		promos:            s,
		notifier:          notifier,
		platformAccountID: platformAccountID,
		retry:             DefaultRetry,
	}
}

// RefundInput identifies the booking to reverse and who asked for it.
type RefundInput struct {
	BookingID string
	Initiator string
	Reason    string
}

// RefundResult reports what the reversal moved. ShortfallMinor is the part
// of the host-side debit the host balance could not cover, recorded as a
// recoverable debt instead of failing the guest's refund.
type RefundResult struct {
	BookingID      string `json:"booking_id"`
	RefundMinor    int64  `json:"refund_minor"`
	HostDebitMinor int64  `json:"host_debit_minor"`
	FeeMinor       int64  `json:"fee_minor"`
	ShortfallMinor int64  `json:"shortfall_minor,omitempty"`
	Replayed       bool   `json:"replayed"`
}

// settlementLegs is the original settlement reconstructed from the booking's
// completed payment records.
type settlementLegs struct {
	guest    *domain.Record
	host     *domain.Record
	platform *domain.Record
}

func (l settlementLegs) gross() int64 {
	if l.guest != nil {
		return -l.guest.AmountMinor
	}
	var total int64
	if l.host != nil {
		total += l.host.AmountMinor
	}
	if l.platform != nil {
		total += l.platform.AmountMinor
	}
	return total
}

// RefundBooking reverses the booking's settlement in full: the guest is
// credited the gross, the host debited the net it received (clamped at its
// balance, remainder tracked as debt), and the platform fee pool debited its
// share, all in one atomic unit. A never-paid booking cancels as a no-op
// success with refund 0; a second refund of the same booking replays the
// first.
func (e *Refund) RefundBooking(ctx context.Context, in RefundInput) (*RefundResult, error) {
	booking, err := e.bookings.GetBooking(ctx, in.BookingID)
	if err != nil {
		refundsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	recs, err := e.ledger.RecordsForBooking(ctx, booking.ID)
	if err != nil {
		refundsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Already refunded: echo the prior outcome, no new side effects.
	for _, r := range recs {
		if r.Kind == domain.KindRefund && r.Status == domain.StatusCompleted && r.AccountID == booking.GuestID {
			refundsTotal.WithLabelValues("replayed").Inc()
			res := &RefundResult{BookingID: booking.ID, RefundMinor: r.AmountMinor, Replayed: true}
			if r.Refund != nil {
				res.ShortfallMinor = r.Refund.ShortfallMinor
			}
			return res, nil
		}
	}

	var legs settlementLegs
	for i := range recs {
		r := &recs[i]
		if r.Kind != domain.KindPayment || r.Status != domain.StatusCompleted {
			continue
		}
		switch {
		case r.AmountMinor < 0 && r.AccountID == booking.GuestID:
			legs.guest = r
		case r.AccountID == e.platformAccountID && r.RelatedRecordID != "":
			legs.platform = r
		case r.AccountID == booking.HostID:
			legs.host = r
		}
	}

	// Never paid: cancelling a pending booking moves no money.
	if legs.gross() == 0 {
		if err := e.bookings.UpdateBookingStatus(ctx, booking.ID, domain.BookingPending, domain.BookingCancelled); err != nil &&
			!errors.Is(err, domain.ErrBookingNotPayable) {
			refundsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		refundsTotal.WithLabelValues("unpaid").Inc()
		return &RefundResult{BookingID: booking.ID}, nil
	}

	gross := legs.gross()
	var net, fee int64
	if legs.host != nil {
		net = legs.host.AmountMinor
	}
	if legs.platform != nil {
		fee = legs.platform.AmountMinor
	}

	now := time.Now().UTC()
	guestRefundID := uuid.NewString()
	var shortfall, hostDebit int64

	// DoConverging: if another debit lands between the balance read and the
	// apply, the insufficient-funds failure is retried and the clamp is
	// recomputed from the fresh balance.
	err = e.retry.DoConverging(ctx, func() error {
		hostBalance, readErr := e.ledger.ReadBalance(ctx, booking.HostID)
		if readErr != nil {
			return readErr
		}
		hostDebit = net
		if hostDebit > hostBalance {
			hostDebit = hostBalance
		}
		shortfall = net - hostDebit

		detail := &domain.RefundDetail{
			Initiator:      in.Initiator,
			Reason:         in.Reason,
			ShortfallMinor: shortfall,
		}
		transitions := []store.Transition{{
			AccountID: booking.GuestID,
			Delta:     gross,
			Record: domain.Record{
				ID:               guestRefundID,
				AccountID:        booking.GuestID,
				Kind:             domain.KindRefund,
				AmountMinor:      gross,
				Status:           domain.StatusCompleted,
				RelatedBookingID: booking.ID,
				RelatedRecordID:  relatedID(legs.guest, legs.host),
				CreatedAt:        now,
				Refund:           detail,
			},
		}}
		if hostDebit > 0 {
			transitions = append(transitions, store.Transition{
				AccountID: booking.HostID,
				Delta:     -hostDebit,
				Record: domain.Record{
					ID:               uuid.NewString(),
					AccountID:        booking.HostID,
					Kind:             domain.KindRefund,
					AmountMinor:      -hostDebit,
					Status:           domain.StatusCompleted,
					RelatedBookingID: booking.ID,
					RelatedRecordID:  relatedID(legs.host, nil),
					CreatedAt:        now,
					Refund:           detail,
				},
			})
		}
		if fee > 0 {
			transitions = append(transitions, store.Transition{
				AccountID: e.platformAccountID,
				Delta:     -fee,
				Record: domain.Record{
					ID:               uuid.NewString(),
					AccountID:        e.platformAccountID,
					Kind:             domain.KindRefund,
					AmountMinor:      -fee,
					Status:           domain.StatusCompleted,
					RelatedBookingID: booking.ID,
					RelatedRecordID:  relatedID(legs.platform, nil),
					CreatedAt:        now,
					Refund:           detail,
				},
			})
		}
		_, applyErr := e.ledger.ApplyMultiAtomic(ctx, transitions)
		return applyErr
	})
	if err != nil {
		refundsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if shortfall > 0 {
		if err := e.ledger.AddDebt(ctx, booking.HostID, shortfall, guestRefundID); err != nil {
			refundsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	// The original settlement legs are now reversed; mark them refunded so
	// the audit trail reads in one pass. Amount fields stay untouched.
	for _, leg := range []*domain.Record{legs.guest, legs.host, legs.platform} {
		if leg != nil {
			_ = e.ledger.SetRecordStatus(ctx, leg.ID, domain.StatusCompleted, domain.StatusRefunded)
		}
	}

	if err := e.bookings.UpdateBookingStatus(ctx, booking.ID, domain.BookingConfirmed, domain.BookingCancelled); err != nil &&
		!errors.Is(err, domain.ErrBookingNotPayable) {
		refundsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Restore the promotional credit the booking consumed.
	if booking.PromoCode != "" {
		_ = e.promos.SetPromoStatus(ctx, booking.PromoCode, domain.PromoUsed, domain.PromoUnused)
	}

	refundsTotal.WithLabelValues("refunded").Inc()
	e.notifier.RefundCompleted(ctx, notify.RefundEvent{
		BookingID:      booking.ID,
		GuestID:        booking.GuestID,
		HostID:         booking.HostID,
		RefundMinor:    gross,
		ShortfallMinor: shortfall,
		Refund:         money.FormatPHP(gross),
		Initiator:      in.Initiator,
		RefundedAt:     now.Format(time.RFC3339),
	})

	return &RefundResult{
		BookingID:      booking.ID,
		RefundMinor:    gross,
		HostDebitMinor: hostDebit,
		FeeMinor:       fee,
		ShortfallMinor: shortfall,
	}, nil
}

func relatedID(primary, fallback *domain.Record) string {
	if primary != nil {
		return primary.ID
	}
	if fallback != nil {
		return fallback.ID
	}
	return ""
}

// RequestCancellation opens a cancellation request for operator review. At
// most one pending request exists per booking.
func (e *Refund) RequestCancellation(ctx context.Context, bookingID, guestID, reason string) (*domain.CancellationRequest, error) {
	booking, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingPending && booking.Status != domain.BookingConfirmed {
		return nil, domain.ErrBookingNotPayable
	}
	pending, err := e.bookings.PendingCancellationForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, nil
	}
	cr := &domain.CancellationRequest{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		GuestID:   guestID,
		HostID:    booking.HostID,
		Reason:    reason,
		Status:    domain.CancellationPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.bookings.CreateCancellationRequest(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// ReviewCancellation resolves a pending request. Approval triggers the
// refund; rejection leaves the booking untouched.
func (e *Refund) ReviewCancellation(ctx context.Context, requestID, reviewer string, approve bool) (*RefundResult, error) {
	cr, err := e.bookings.GetCancellationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cr.Status != domain.CancellationPending {
		return nil, domain.ErrRequestNotPending
	}

	status := domain.CancellationRejected
	if approve {
		status = domain.CancellationApproved
	}
	if err := e.bookings.ResolveCancellationRequest(ctx, requestID, status, reviewer); err != nil {
		return nil, err
	}
	if !approve {
		return nil, nil
	}
	return e.RefundBooking(ctx, RefundInput{
		BookingID: cr.BookingID,
		Initiator: reviewer,
		Reason:    cr.Reason,
	})
}
