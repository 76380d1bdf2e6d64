package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bahaybooking/ledger/internal/domain"
)

// Memory is an in-process Store guarded by a single mutex. Every mutating
// call is one critical section, so transitions on an account are trivially
// linearizable and a multi-account transition is all-or-nothing: validation
// runs over every leg before the first write.
type Memory struct {
	mu            sync.Mutex
	balances      map[string]int64
	records       map[string]*domain.Record
	order         []string // record ids, append order
	bookings      map[string]*domain.Booking
	cancellations map[string]*domain.CancellationRequest
	promos        map[string]*domain.PromoCredit
	debts         map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		balances:      make(map[string]int64),
		records:       make(map[string]*domain.Record),
		bookings:      make(map[string]*domain.Booking),
		cancellations: make(map[string]*domain.CancellationRequest),
		promos:        make(map[string]*domain.PromoCredit),
		debts:         make(map[string]int64),
	}
}

// SetBalance seeds an account balance directly. Test and seeder use only.
func (m *Memory) SetBalance(accountID string, minor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = minor
}

// AddPromo seeds a promotional credit.
func (m *Memory) AddPromo(p domain.PromoCredit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.promos[p.Code] = &cp
}

func (m *Memory) ReadBalance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID], nil
}

func (m *Memory) ApplyAtomic(ctx context.Context, t Transition) (int64, error) {
	balances, err := m.ApplyMultiAtomic(ctx, []Transition{t})
	if err != nil {
		return 0, err
	}
	return balances[0], nil
}

func (m *Memory) ApplyMultiAtomic(_ context.Context, ts []Transition) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every leg before touching anything.
	next := make(map[string]int64, len(ts))
	for _, t := range ts {
		cur, seen := next[t.AccountID]
		if !seen {
			cur = m.balances[t.AccountID]
		}
		cur += t.Delta
		if cur < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		next[t.AccountID] = cur
	}
	for _, t := range ts {
		rec := t.Record
		if existing, ok := m.records[rec.ID]; ok {
			// Re-applying an existing id is the withdrawal flip; it is
			// only legal while the record is still pending.
			if existing.Status != domain.StatusPending {
				return nil, domain.ErrRequestNotPending
			}
			continue
		}
		if rec.ExternalRef != "" &&
			(rec.Status == domain.StatusCompleted || rec.Status == domain.StatusRefunded) &&
			m.hasCompletedRefLocked(rec.ExternalRef, rec.AccountID, rec.Kind) {
			return nil, domain.ErrDuplicateOperation
		}
	}

	out := make([]int64, len(ts))
	applied := make(map[string]int64, len(ts))
	for i, t := range ts {
		cur, seen := applied[t.AccountID]
		if !seen {
			cur = m.balances[t.AccountID]
		}
		cur += t.Delta
		applied[t.AccountID] = cur
		m.balances[t.AccountID] = cur
		out[i] = cur

		rec := t.Record
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if existing, ok := m.records[rec.ID]; ok {
			existing.Status = rec.Status
		} else {
			cp := rec
			m.records[rec.ID] = &cp
			m.order = append(m.order, rec.ID)
		}
	}
	return out, nil
}

// hasCompletedRefLocked reports whether a completed or refunded record with
// the idempotency tuple already exists. Mirrors the partial unique index the
// postgres schema puts on (external_ref, account_id, kind).
func (m *Memory) hasCompletedRefLocked(externalRef, accountID string, kind domain.RecordKind) bool {
	for _, id := range m.order {
		rec := m.records[id]
		if rec.ExternalRef == externalRef && rec.AccountID == accountID && rec.Kind == kind &&
			(rec.Status == domain.StatusCompleted || rec.Status == domain.StatusRefunded) {
			return true
		}
	}
	return false
}

func (m *Memory) CreateRecord(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ExternalRef != "" &&
		(rec.Status == domain.StatusCompleted || rec.Status == domain.StatusRefunded) &&
		m.hasCompletedRefLocked(rec.ExternalRef, rec.AccountID, rec.Kind) {
		return domain.ErrDuplicateOperation
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := rec
	m.records[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) SetRecordStatus(_ context.Context, id string, from, to domain.RecordStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != from {
		return domain.ErrRequestNotPending
	}
	rec.Status = to
	return nil
}

func (m *Memory) FindByExternalRef(_ context.Context, externalRef, accountID string, kind domain.RecordKind) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.ExternalRef == externalRef && rec.AccountID == accountID &&
			rec.Kind == kind && rec.Status != domain.StatusFailed && rec.Status != domain.StatusPending {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRecords(_ context.Context, accountID string, limit, offset int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	skipped := 0
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RecordsForBooking(_ context.Context, bookingID string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	for _, id := range m.order {
		rec := m.records[id]
		if rec.RelatedBookingID == bookingID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *Memory) PendingWithdrawal(_ context.Context, accountID string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		rec := m.records[id]
		if rec.AccountID == accountID && rec.Kind == domain.KindWithdrawal && rec.Status == domain.StatusPending {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) AddDebt(_ context.Context, accountID string, amountMinor int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debts[accountID] += amountMinor
	return nil
}

func (m *Memory) OutstandingDebt(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debts[accountID], nil
}

func (m *Memory) CreateBooking(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) UpdateBookingStatus(_ context.Context, id string, from, to domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status != from {
		return domain.ErrBookingNotPayable
	}
	b.Status = to
	return nil
}

func (m *Memory) ActiveBookingsForListing(_ context.Context, listingID string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.bookings))
	for id := range m.bookings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.Booking
	for _, id := range ids {
		b := m.bookings[id]
		if b.ListingID != listingID {
			continue
		}
		if b.Status == domain.BookingPending || b.Status == domain.BookingConfirmed {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *Memory) CreateCancellationRequest(_ context.Context, cr *domain.CancellationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	cp := *cr
	m.cancellations[cr.ID] = &cp
	return nil
}

func (m *Memory) GetCancellationRequest(_ context.Context, id string) (*domain.CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.cancellations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *cr
	return &cp, nil
}

func (m *Memory) PendingCancellationForBooking(_ context.Context, bookingID string) (*domain.CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cr := range m.cancellations {
		if cr.BookingID == bookingID && cr.Status == domain.CancellationPending {
			cp := *cr
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ResolveCancellationRequest(_ context.Context, id string, status domain.CancellationStatus, reviewedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.cancellations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cr.Status != domain.CancellationPending {
		return domain.ErrRequestNotPending
	}
	now := time.Now().UTC()
	cr.Status = status
	cr.ReviewedBy = reviewedBy
	cr.ReviewedAt = &now
	return nil
}

func (m *Memory) GetPromo(_ context.Context, code string) (*domain.PromoCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SetPromoStatus(_ context.Context, code string, from, to domain.PromoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrRequestNotPending
	}
	p.Status = to
	return nil
}

var _ Store = (*Memory)(nil)
