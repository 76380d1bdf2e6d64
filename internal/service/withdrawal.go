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

// Withdrawal runs the request, approval and fund-movement flow for pulling
// ledger funds out to an external payee. Per account the state machine is
// none -> pending -> completed or failed, with at most one pending request
// at a time.
type Withdrawal struct {
	ledger   store.Ledger
	notifier notify.Notifier
	retry    RetryPolicy
}

// NewWithdrawal wires a withdrawal workflow.
func NewWithdrawal(ledger store.Ledger, notifier notify.Notifier) *Withdrawal {
	return &Withdrawal{ledger: ledger, notifier: notifier, retry: DefaultRetry}
}

// RequestWithdrawal opens a pending withdrawal request. The balance is
// checked as read but not reserved: the debit happens only at confirmation,
// so a rejected request never strands funds. Returns the request id.
func (w *Withdrawal) RequestWithdrawal(ctx context.Context, accountID string, amountMinor int64, payeeReference string) (string, error) {
	if amountMinor <= 0 {
		withdrawalsTotal.WithLabelValues("request", "invalid").Inc()
		return "", domain.ErrInvalidAmount
	}
	if payeeReference == "" {
		withdrawalsTotal.WithLabelValues("request", "invalid").Inc()
		return "", fmt.Errorf("payee reference is required")
	}

	balance, err := w.ledger.ReadBalance(ctx, accountID)
	if err != nil {
		withdrawalsTotal.WithLabelValues("request", "error").Inc()
		return "", err
	}
	if balance < amountMinor {
		withdrawalsTotal.WithLabelValues("request", "insufficient_funds").Inc()
		return "", domain.ErrInsufficientFunds
	}

	pending, err := w.ledger.PendingWithdrawal(ctx, accountID)
	if err != nil {
		withdrawalsTotal.WithLabelValues("request", "error").Inc()
		return "", err
	}
	if pending != nil {
		withdrawalsTotal.WithLabelValues("request", "already_pending").Inc()
		return "", domain.ErrWithdrawalPending
	}

	rec := domain.Record{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.KindWithdrawal,
		AmountMinor: -amountMinor,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
		Withdrawal:  &domain.WithdrawalDetail{PayeeReference: payeeReference},
	}
	if err := w.ledger.CreateRecord(ctx, rec); err != nil {
		withdrawalsTotal.WithLabelValues("request", "error").Inc()
		return "", err
	}
	withdrawalsTotal.WithLabelValues("request", "created").Inc()
	return rec.ID, nil
}

// ConfirmWithdrawal applies the debit. Sufficiency is re-validated inside
// the atomic transition, because the balance may have changed since the
// request; on insufficient funds the request stays pending for the operator
// to retry or reject.
func (w *Withdrawal) ConfirmWithdrawal(ctx context.Context, requestID string) error {
	rec, err := w.ledger.GetRecord(ctx, requestID)
	if err != nil {
		withdrawalsTotal.WithLabelValues("confirm", "error").Inc()
		return err
	}
	if rec.Kind != domain.KindWithdrawal || rec.Status != domain.StatusPending {
		withdrawalsTotal.WithLabelValues("confirm", "not_pending").Inc()
		return domain.ErrRequestNotPending
	}

	// The debit and the pending-to-completed flip are one atomic unit; the
	// store applies the flip as a compare-and-set, so of two racing
	// confirmations exactly one debits and the other reports not pending.
	confirmed := *rec
	confirmed.Status = domain.StatusCompleted
	err = w.retry.Do(ctx, func() error {
		_, applyErr := w.ledger.ApplyAtomic(ctx, store.Transition{
			AccountID: rec.AccountID,
			Delta:     rec.AmountMinor,
			Record:    confirmed,
		})
		return applyErr
	})
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotPending) {
			withdrawalsTotal.WithLabelValues("confirm", "not_pending").Inc()
		} else {
			withdrawalsTotal.WithLabelValues("confirm", "failed").Inc()
		}
		return err
	}

	withdrawalsTotal.WithLabelValues("confirm", "completed").Inc()
	w.notifier.WithdrawalResolved(ctx, notify.WithdrawalEvent{
		RequestID:      rec.ID,
		AccountID:      rec.AccountID,
		AmountMinor:    -rec.AmountMinor,
		Amount:         money.FormatPHP(-rec.AmountMinor),
		PayeeReference: payeeRef(rec),
		Outcome:        "completed",
		ResolvedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// RejectWithdrawal fails the request. No balance change: none was ever
// applied.
func (w *Withdrawal) RejectWithdrawal(ctx context.Context, requestID string) error {
	rec, err := w.ledger.GetRecord(ctx, requestID)
	if err != nil {
		withdrawalsTotal.WithLabelValues("reject", "error").Inc()
		return err
	}
	if rec.Kind != domain.KindWithdrawal {
		withdrawalsTotal.WithLabelValues("reject", "not_pending").Inc()
		return domain.ErrRequestNotPending
	}
	if err := w.ledger.SetRecordStatus(ctx, requestID, domain.StatusPending, domain.StatusFailed); err != nil {
		withdrawalsTotal.WithLabelValues("reject", "not_pending").Inc()
		return err
	}

	withdrawalsTotal.WithLabelValues("reject", "failed").Inc()
	w.notifier.WithdrawalResolved(ctx, notify.WithdrawalEvent{
		RequestID:      rec.ID,
		AccountID:      rec.AccountID,
		AmountMinor:    -rec.AmountMinor,
		Amount:         money.FormatPHP(-rec.AmountMinor),
		PayeeReference: payeeRef(rec),
		Outcome:        "failed",
		ResolvedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func payeeRef(rec *domain.Record) string {
	if rec.Withdrawal != nil {
		return rec.Withdrawal.PayeeReference
	}
	return ""
}
