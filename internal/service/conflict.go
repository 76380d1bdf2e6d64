package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bahaybooking/ledger/internal/domain"
	"github.com/bahaybooking/ledger/internal/store"
)

// ConflictGuard validates new bookings before any payment is attempted.
// Both of its checks must pass strictly before settlement; they are the
// precondition that keeps "double-booked, double-paid" from happening.
type ConflictGuard struct {
	bookings store.Bookings
}

// NewConflictGuard returns a guard over the given booking store.
func NewConflictGuard(bookings store.Bookings) *ConflictGuard {
	return &ConflictGuard{bookings: bookings}
}

// truncateDay drops the time-of-day part; overlap comparison is at day
// granularity.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateNewBooking checks that the guest has no other pending booking on
// the listing and that no pending or confirmed booking overlaps the half-open
// range [checkIn, checkOut). A violation returns an error wrapping
// domain.ErrBookingConflict with the reason.
func (g *ConflictGuard) ValidateNewBooking(ctx context.Context, guestID, listingID string, checkIn, checkOut time.Time) error {
	checkIn, checkOut = truncateDay(checkIn), truncateDay(checkOut)
	if !checkOut.After(checkIn) {
		return fmt.Errorf("%w: check_out must be after check_in", domain.ErrInvalidAmount)
	}

	active, err := g.bookings.ActiveBookingsForListing(ctx, listingID)
	if err != nil {
		return err
	}
	for _, b := range active {
		if b.GuestID == guestID && b.Status == domain.BookingPending {
			return fmt.Errorf("%w: guest already has a pending booking on this listing", domain.ErrBookingConflict)
		}
		if b.Overlaps(checkIn, checkOut) {
			return fmt.Errorf("%w: dates overlap booking %s", domain.ErrBookingConflict, b.ID)
		}
	}
	return nil
}

// BookingInput describes a booking to be placed.
type BookingInput struct {
	GuestID          string
	HostID           string
	ListingID        string
	CheckIn          time.Time
	CheckOut         time.Time
	Guests           int
	TotalAmountMinor int64
	PromoCode        string
}

// PlaceBooking runs the guard and persists the booking in the pending state,
// awaiting payment.
func (g *ConflictGuard) PlaceBooking(ctx context.Context, in BookingInput) (*domain.Booking, error) {
	if in.TotalAmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := g.ValidateNewBooking(ctx, in.GuestID, in.ListingID, in.CheckIn, in.CheckOut); err != nil {
		return nil, err
	}
	b := &domain.Booking{
		ID:               uuid.NewString(),
		GuestID:          in.GuestID,
		HostID:           in.HostID,
		ListingID:        in.ListingID,
		CheckIn:          truncateDay(in.CheckIn),
		CheckOut:         truncateDay(in.CheckOut),
		Guests:           in.Guests,
		TotalAmountMinor: in.TotalAmountMinor,
		Status:           domain.BookingPending,
		PromoCode:        in.PromoCode,
		CreatedAt:        time.Now().UTC(),
	}
	if err := g.bookings.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}
