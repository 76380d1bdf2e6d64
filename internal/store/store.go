// Package store provides balance and record persistence for the ledger.
//
// Two implementations exist: a pgx-backed Postgres store used in production
// and a mutex-guarded in-memory store used by tests and broker-less demos.
// Both honor the same contract: balances change only through the atomic
// transition primitives, records are append-only, and a failure inside a
// multi-account transition commits nothing.
package store

import (
	"context"

	"github.com/bahaybooking/ledger/internal/domain"
)

// Transition is one account's leg of an atomic balance change. Delta is
// signed centavos; Record is the audit entry appended with the change.
type Transition struct {
	AccountID string
	Delta     int64
	Record    domain.Record
}

// Ledger is the balance and transaction-log surface consumed by the
// settlement, refund, and withdrawal services.
type Ledger interface {
	// ReadBalance returns the current balance in centavos. Accounts that
	// have never transacted read as zero.
	ReadBalance(ctx context.Context, accountID string) (int64, error)

	// ApplyAtomic applies a single-account transition: within one atomic
	// unit it re-reads the balance, rejects a debit that would go below
	// zero with domain.ErrInsufficientFunds, and otherwise commits the new
	// balance together with the appended record.
	ApplyAtomic(ctx context.Context, t Transition) (int64, error)

	// ApplyMultiAtomic applies several transitions all-or-nothing. Any
	// failure rolls back every leg. The store does not retry; contention
	// surfaces as domain.ErrTransactionConflict for the caller to handle.
	//
	// Re-applying an existing record id is the withdrawal flip: it is a
	// compare-and-set accepted only while the record is still pending,
	// else domain.ErrRequestNotPending. A new completed record whose
	// (externalRef, accountID, kind) tuple already exists is rejected
	// with domain.ErrDuplicateOperation.
	ApplyMultiAtomic(ctx context.Context, ts []Transition) ([]int64, error)

	// CreateRecord appends a record with no balance change. Used for
	// pending withdrawal requests, which debit only at confirmation.
	CreateRecord(ctx context.Context, rec domain.Record) error

	GetRecord(ctx context.Context, id string) (*domain.Record, error)

	// SetRecordStatus flips a record's status if it currently has the
	// expected one, else domain.ErrRequestNotPending.
	SetRecordStatus(ctx context.Context, id string, from, to domain.RecordStatus) error

	// FindByExternalRef looks up a completed record by the idempotency
	// tuple. A miss returns (nil, nil).
	FindByExternalRef(ctx context.Context, externalRef, accountID string, kind domain.RecordKind) (*domain.Record, error)

	ListRecords(ctx context.Context, accountID string, limit, offset int) ([]domain.Record, error)
	RecordsForBooking(ctx context.Context, bookingID string) ([]domain.Record, error)

	// PendingWithdrawal returns the account's pending withdrawal request,
	// or (nil, nil) when none exists.
	PendingWithdrawal(ctx context.Context, accountID string) (*domain.Record, error)

	// AddDebt records a recoverable shortfall against an account.
	AddDebt(ctx context.Context, accountID string, amountMinor int64, relatedRecordID string) error
	OutstandingDebt(ctx context.Context, accountID string) (int64, error)
}

// Bookings is the booking and cancellation-request surface.
type Bookings interface {
	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)

	// UpdateBookingStatus flips a booking's status if it currently has the
	// expected one, else domain.ErrBookingNotPayable.
	UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus) error

	// ActiveBookingsForListing returns the listing's bookings with status
	// pending or confirmed.
	ActiveBookingsForListing(ctx context.Context, listingID string) ([]domain.Booking, error)

	CreateCancellationRequest(ctx context.Context, cr *domain.CancellationRequest) error
	GetCancellationRequest(ctx context.Context, id string) (*domain.CancellationRequest, error)

	// PendingCancellationForBooking returns the booking's pending request,
	// or (nil, nil) when none exists.
	PendingCancellationForBooking(ctx context.Context, bookingID string) (*domain.CancellationRequest, error)
	ResolveCancellationRequest(ctx context.Context, id string, status domain.CancellationStatus, reviewedBy string) error
}

// Promos is the promotional-credit surface.
type Promos interface {
	GetPromo(ctx context.Context, code string) (*domain.PromoCredit, error)

	// SetPromoStatus flips a credit between used and unused if it
	// currently has the expected status.
	SetPromoStatus(ctx context.Context, code string, from, to domain.PromoStatus) error
}

// Store is the full persistence surface.
type Store interface {
	Ledger
	Bookings
	Promos
}
