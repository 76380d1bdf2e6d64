package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/notify"
	"github.com/bahaybooking/ledger/internal/store"
)

const platformID = "platform"

func day(d int) time.Time {
	return time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
}

// seedBooking puts a pending booking in the store and returns it.
func seedBooking(t *testing.T, m *store.Memory, id string, amount int64) *domain.Booking {
	t.Helper()
	b := &domain.Booking{
		ID:               id,
		GuestID:          "guest-1",
		HostID:           "host-1",
		ListingID:        "listing-1",
		CheckIn:          day(10),
		CheckOut:         day(13),
		Guests:           2,
		TotalAmountMinor: amount,
		Status:           domain.BookingPending,
	}
	if err := m.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func mustBalance(t *testing.T, m *store.Memory, account string) int64 {
	t.Helper()
	b, err := m.ReadBalance(context.Background(), account)
	if err != nil {
		t.Fatalf("ReadBalance(%s): %v", account, err)
	}
	return b
}

func TestSettleWalletPayment(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("guest-1", 50000)
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	res, err := eng.SettlePayment(ctx, SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceWallet,
		Kind:        SettleBooking,
	})
	if err != nil {
		t.Fatalf("SettlePayment: %v", err)
	}
	if res.Replayed {
		t.Error("first settlement reported as replayed")
	}
	if res.FeeMinor != 3000 || res.NetMinor != 27000 {
		t.Errorf("split = fee %d / net %d, want 3000 / 27000", res.FeeMinor, res.NetMinor)
	}

	if got := mustBalance(t, m, "guest-1"); got != 20000 {
		t.Errorf("guest balance = %d, want 20000", got)
	}
	if got := mustBalance(t, m, "host-1"); got != 27000 {
		t.Errorf("host balance = %d, want 27000", got)
	}
	if got := mustBalance(t, m, platformID); got != 3000 {
		t.Errorf("platform balance = %d, want 3000", got)
	}

	recs, err := m.RecordsForBooking(ctx, "b1")
	if err != nil {
		t.Fatalf("RecordsForBooking: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want guest debit, host credit, platform credit", len(recs))
	}
	for _, r := range recs {
		if r.Kind != domain.KindPayment || r.Status != domain.StatusCompleted {
			t.Errorf("record %s: kind=%s status=%s", r.ID, r.Kind, r.Status)
		}
		if r.ExternalRef != "gw-1" {
			t.Errorf("record %s missing external ref", r.ID)
		}
	}

	booking, _ := m.GetBooking(ctx, "b1")
	if booking.Status != domain.BookingConfirmed {
		t.Errorf("booking status = %s, want confirmed", booking.Status)
	}
}

// Resending the same gateway notification changes nothing and echoes the
// original outcome.
func TestSettleDuplicateAbsorbed(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("guest-1", 50000)
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	in := SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceWallet,
		Kind:        SettleBooking,
	}
	if _, err := eng.SettlePayment(ctx, in); err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	res, err := eng.SettlePayment(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Error("duplicate not reported as replayed")
	}
	if res.GrossMinor != 30000 || res.FeeMinor != 3000 || res.NetMinor != 27000 {
		t.Errorf("replay split = %d/%d/%d", res.GrossMinor, res.FeeMinor, res.NetMinor)
	}

	if got := mustBalance(t, m, "guest-1"); got != 20000 {
		t.Errorf("guest balance moved on replay: %d", got)
	}
	recs, _ := m.RecordsForBooking(ctx, "b1")
	if len(recs) != 3 {
		t.Errorf("replay appended records: %d", len(recs))
	}
}

// Two identical notifications arriving at once can both miss the lookup; the
// store's tuple uniqueness lets one commit and the loser answers from the
// winner's records. Exactly one wallet debit either way.
func TestSettleConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("guest-1", 50000)
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	in := SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceWallet,
		Kind:        SettleBooking,
	}

	const callers = 6
	results := make(chan *SettlementResult, callers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			res, err := eng.SettlePayment(ctx, in)
			if err != nil {
				t.Errorf("SettlePayment: %v", err)
				return
			}
			results <- res
		}()
	}
	start.Done()
	wg.Wait()
	close(results)

	var applied, replayed int
	for res := range results {
		if res.Replayed {
			replayed++
		} else {
			applied++
		}
		if res.GrossMinor != 30000 || res.NetMinor != 27000 {
			t.Errorf("split = %d/%d", res.GrossMinor, res.NetMinor)
		}
	}
	if applied != 1 {
		t.Errorf("got %d applications and %d replays, want exactly 1 application", applied, replayed)
	}

	if got := mustBalance(t, m, "guest-1"); got != 20000 {
		t.Errorf("guest balance = %d, want one 30000 debit", got)
	}
	recs, _ := m.RecordsForBooking(ctx, "b1")
	if len(recs) != 3 {
		t.Errorf("got %d records, want 3", len(recs))
	}
}

func TestSettleInsufficientWallet(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("guest-1", 1000)
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	_, err := eng.SettlePayment(ctx, SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceWallet,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if got := mustBalance(t, m, "guest-1"); got != 1000 {
		t.Errorf("guest balance = %d, want 1000", got)
	}
	if got := mustBalance(t, m, "host-1"); got != 0 {
		t.Errorf("host credited on failed settlement: %d", got)
	}
	booking, _ := m.GetBooking(ctx, "b1")
	if booking.Status != domain.BookingPending {
		t.Errorf("booking status = %s, want pending", booking.Status)
	}
	recs, _ := m.RecordsForBooking(ctx, "b1")
	if len(recs) != 0 {
		t.Errorf("records written on failed settlement: %d", len(recs))
	}
}

// Gateway-funded settlements carry no guest-side debit: the money never
// entered the wallet.
func TestSettleGatewayPayment(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	in := SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceGateway,
	}
	res, err := eng.SettlePayment(ctx, in)
	if err != nil {
		t.Fatalf("SettlePayment: %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("got %d records, want host and platform legs only", len(res.Records))
	}
	if got := mustBalance(t, m, "guest-1"); got != 0 {
		t.Errorf("guest wallet touched on gateway payment: %d", got)
	}
	if got := mustBalance(t, m, "host-1"); got != 27000 {
		t.Errorf("host balance = %d, want 27000", got)
	}

	// The replay path works without a guest record too.
	res, err = eng.SettlePayment(ctx, in)
	if err != nil || !res.Replayed {
		t.Fatalf("gateway replay: res=%+v err=%v", res, err)
	}
	if res.GrossMinor != 30000 || res.NetMinor != 27000 {
		t.Errorf("gateway replay split = %d/%d", res.GrossMinor, res.NetMinor)
	}
}

func TestSettleBookingNotPayable(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	b := seedBooking(t, m, "b1", 30000)
	if err := m.UpdateBookingStatus(ctx, b.ID, domain.BookingPending, domain.BookingCancelled); err != nil {
		t.Fatalf("UpdateBookingStatus: %v", err)
	}
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	_, err := eng.SettlePayment(ctx, SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
	})
	if !errors.Is(err, domain.ErrBookingNotPayable) {
		t.Fatalf("expected ErrBookingNotPayable, got %v", err)
	}
}

func TestSettleValidation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	seedBooking(t, m, "b1", 30000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	_, err := eng.SettlePayment(ctx, SettleInput{BookingID: "b1", GrossMinor: 0, ExternalRef: "gw-1"})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	_, err = eng.SettlePayment(ctx, SettleInput{BookingID: "b1", GrossMinor: -500, ExternalRef: "gw-1"})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err = eng.SettlePayment(ctx, SettleInput{BookingID: "b1", GrossMinor: 100}); err == nil {
		t.Error("missing external ref accepted")
	}
	_, err = eng.SettlePayment(ctx, SettleInput{BookingID: "missing", GrossMinor: 100, ExternalRef: "gw-1"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing booking: expected ErrNotFound, got %v", err)
	}
}

// Publish fees carry a zero rate: the full amount reaches the platform with
// no fee leg.
func TestSettlePublishFee(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	b := &domain.Booking{
		ID:      "pub-1",
		GuestID: "host-1",
		HostID:  platformID,
		Status:  domain.BookingPending,
	}
	if err := m.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	m.SetBalance("host-1", 10000)
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	res, err := eng.SettlePayment(ctx, SettleInput{
		BookingID:   "pub-1",
		GrossMinor:  5000,
		ExternalRef: "gw-pub-1",
		Source:      domain.SourceWallet,
		Kind:        SettlePublishFee,
	})
	if err != nil {
		t.Fatalf("SettlePayment: %v", err)
	}
	if res.FeeMinor != 0 || res.NetMinor != 5000 {
		t.Errorf("publish fee split = fee %d / net %d", res.FeeMinor, res.NetMinor)
	}
	if got := mustBalance(t, m, platformID); got != 5000 {
		t.Errorf("platform balance = %d, want 5000", got)
	}
	if got := mustBalance(t, m, "host-1"); got != 5000 {
		t.Errorf("payer balance = %d, want 5000", got)
	}
}

func TestSettleConsumesPromo(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetBalance("guest-1", 50000)
	b := &domain.Booking{
		ID:               "b1",
		GuestID:          "guest-1",
		HostID:           "host-1",
		ListingID:        "listing-1",
		TotalAmountMinor: 30000,
		Status:           domain.BookingPending,
		PromoCode:        "WELCOME100",
	}
	if err := m.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	m.AddPromo(domain.PromoCredit{Code: "WELCOME100", GuestID: "guest-1", AmountMinor: 10000, Status: domain.PromoUnused})
	eng := NewSettlement(m, notify.Nop{}, platformID, nil)

	if _, err := eng.SettlePayment(ctx, SettleInput{
		BookingID:   "b1",
		GrossMinor:  30000,
		ExternalRef: "gw-1",
		Source:      domain.SourceWallet,
	}); err != nil {
		t.Fatalf("SettlePayment: %v", err)
	}

	promo, err := m.GetPromo(ctx, "WELCOME100")
	if err != nil {
		t.Fatalf("GetPromo: %v", err)
	}
	if promo.Status != domain.PromoUsed {
		t.Errorf("promo status = %s, want used", promo.Status)
	}
}
