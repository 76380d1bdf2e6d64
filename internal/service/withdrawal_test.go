package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/notify"
	"github.com/bahaybooking/ledger/internal/store"
)

func TestRequestWithdrawalInsufficient(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 5000)
	w := NewWithdrawal(m, notify.Nop{})

	_, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := mustBalance(t, m, "host-1"); got != 5000 {
		t.Errorf("balance = %d, want 5000", got)
	}
	recs, _ := m.ListRecords(ctx, "host-1", 0, 0)
	if len(recs) != 0 {
		t.Errorf("request record created despite rejection: %d", len(recs))
	}
}

func TestWithdrawalRequestAndConfirm(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 20000)
	w := NewWithdrawal(m, notify.Nop{})

	id, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	// The request reserves nothing; the debit waits for confirmation.
	if got := mustBalance(t, m, "host-1"); got != 20000 {
		t.Errorf("balance after request = %d, want 20000", got)
	}
	rec, err := m.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Status != domain.StatusPending || rec.AmountMinor != -10000 {
		t.Errorf("pending record = %+v", rec)
	}

	if err := w.ConfirmWithdrawal(ctx, id); err != nil {
		t.Fatalf("ConfirmWithdrawal: %v", err)
	}
	if got := mustBalance(t, m, "host-1"); got != 10000 {
		t.Errorf("balance after confirm = %d, want 10000", got)
	}

	recs, _ := m.ListRecords(ctx, "host-1", 0, 0)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want exactly one withdrawal record", len(recs))
	}
	if recs[0].Status != domain.StatusCompleted {
		t.Errorf("record status = %s, want completed", recs[0].Status)
	}
}

// Racing confirmations of one request must debit at most once: every caller
// sees the request as pending, but only one flip wins.
func TestWithdrawalConcurrentConfirm(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 20000)
	w := NewWithdrawal(m, notify.Nop{})

	id, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			results <- w.ConfirmWithdrawal(ctx, id)
		}()
	}
	start.Done()
	wg.Wait()
	close(results)

	var ok, notPending int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrRequestNotPending):
			notPending++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("got %d successful confirmations, want exactly 1 (%d not pending)", ok, notPending)
	}

	if got := mustBalance(t, m, "host-1"); got != 10000 {
		t.Errorf("one 10000 withdrawal debited the balance to %d, want 10000", got)
	}
	recs, _ := m.ListRecords(ctx, "host-1", 0, 0)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want the single withdrawal", len(recs))
	}
	if recs[0].Status != domain.StatusCompleted {
		t.Errorf("record status = %s, want completed", recs[0].Status)
	}
}

func TestWithdrawalSinglePending(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 50000)
	w := NewWithdrawal(m, notify.Nop{})

	if _, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := w.RequestWithdrawal(ctx, "host-1", 5000, "gcash-0917")
	if !errors.Is(err, domain.ErrWithdrawalPending) {
		t.Fatalf("expected ErrWithdrawalPending, got %v", err)
	}
}

func TestWithdrawalReject(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 20000)
	w := NewWithdrawal(m, notify.Nop{})

	id, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if err := w.RejectWithdrawal(ctx, id); err != nil {
		t.Fatalf("RejectWithdrawal: %v", err)
	}

	if got := mustBalance(t, m, "host-1"); got != 20000 {
		t.Errorf("balance changed on rejection: %d", got)
	}
	rec, _ := m.GetRecord(ctx, id)
	if rec.Status != domain.StatusFailed {
		t.Errorf("record status = %s, want failed", rec.Status)
	}

	// The account is free to request again.
	if _, err := w.RequestWithdrawal(ctx, "host-1", 10000, "gcash-0917"); err != nil {
		t.Errorf("request after rejection: %v", err)
	}
	// And the failed request cannot be confirmed.
	if err := w.ConfirmWithdrawal(ctx, id); !errors.Is(err, domain.ErrRequestNotPending) {
		t.Errorf("confirm after rejection: expected ErrRequestNotPending, got %v", err)
	}
}

// The balance may drop between request and confirmation. Confirmation then
// fails but the request stays pending for the operator to retry or reject.
func TestWithdrawalConfirmInsufficientStaysPending(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 20000)
	w := NewWithdrawal(m, notify.Nop{})

	id, err := w.RequestWithdrawal(ctx, "host-1", 15000, "gcash-0917")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	// Most of the balance leaves through another transition first.
	if _, err := m.ApplyAtomic(ctx, store.Transition{
		AccountID: "host-1",
		Delta:     -10000,
		Record: domain.Record{
			ID:          "drain-1",
			AccountID:   "host-1",
			Kind:        domain.KindPayment,
			AmountMinor: -10000,
			Status:      domain.StatusCompleted,
		},
	}); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if err := w.ConfirmWithdrawal(ctx, id); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	rec, _ := m.GetRecord(ctx, id)
	if rec.Status != domain.StatusPending {
		t.Errorf("record status = %s, want still pending", rec.Status)
	}
	if got := mustBalance(t, m, "host-1"); got != 10000 {
		t.Errorf("balance = %d, want 10000", got)
	}

	// Funds return, confirmation succeeds.
	if _, err := m.ApplyAtomic(ctx, store.Transition{
		AccountID: "host-1",
		Delta:     8000,
		Record: domain.Record{
			ID:          "topup-1",
			AccountID:   "host-1",
			Kind:        domain.KindDeposit,
			AmountMinor: 8000,
			Status:      domain.StatusCompleted,
		},
	}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := w.ConfirmWithdrawal(ctx, id); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if got := mustBalance(t, m, "host-1"); got != 3000 {
		t.Errorf("balance = %d, want 3000", got)
	}
}

func TestWithdrawalValidation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("host-1", 20000)
	w := NewWithdrawal(m, notify.Nop{})

	if _, err := w.RequestWithdrawal(ctx, "host-1", 0, "gcash-0917"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := w.RequestWithdrawal(ctx, "host-1", -500, "gcash-0917"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := w.RequestWithdrawal(ctx, "host-1", 1000, ""); err == nil {
		t.Error("missing payee reference accepted")
	}
	if err := w.ConfirmWithdrawal(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("confirm missing: expected ErrNotFound, got %v", err)
	}
}
