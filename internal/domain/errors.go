package domain

import "errors"

var (
	// ErrInsufficientFunds means a debit would drive a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateOperation is an idempotency hit. Callers absorb it and
	// echo the prior result; it is never a user-facing failure.
	ErrDuplicateOperation = errors.New("duplicate operation")
	// ErrInvalidAmount means an amount was zero, negative, or not a whole
	// number of centavos.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrBookingNotPayable means the booking is not in the pending state.
	ErrBookingNotPayable = errors.New("booking not payable")
	// ErrBookingConflict means an overlapping or duplicate pending booking
	// exists on the listing.
	ErrBookingConflict = errors.New("booking conflict")
	// ErrAccountNotFound means the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTransactionConflict means concurrent-write contention persisted
	// past the retry budget.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrWithdrawalPending means the account already has a pending
	// withdrawal request.
	ErrWithdrawalPending = errors.New("withdrawal already pending")
	// ErrRequestNotPending means the withdrawal or cancellation request has
	// already been resolved.
	ErrRequestNotPending = errors.New("request not pending")
	// ErrNotFound is the generic missing-entity error for bookings,
	// records, and requests.
	ErrNotFound = errors.New("not found")
)
