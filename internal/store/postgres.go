package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bahaybooking/ledger/internal/domain"
)

// Postgres is the production Store. Balance transitions run inside a
// repeatable-read transaction with row locks acquired in ascending account-id
// order, so concurrent multi-account settlements cannot deadlock and a
// transition observes the effect of every previously committed one.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

// mapTxErr converts SQLSTATEs into domain sentinels: serialization and
// deadlock failures become retryable conflicts, and a unique violation (two
// identical webhooks racing past the lookup, a second pending withdrawal)
// becomes a duplicate operation.
func mapTxErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return domain.ErrTransactionConflict
		case "23505":
			return domain.ErrDuplicateOperation
		}
	}
	return err
}

// ensureAccountTx creates the account row at zero balance on first touch.
func ensureAccountTx(ctx context.Context, tx pgx.Tx, accountID string) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO accounts (account_id, balance_minor) VALUES ($1, 0) ON CONFLICT (account_id) DO NOTHING",
		accountID)
	return err
}

func (p *Postgres) ReadBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := p.db.QueryRow(ctx,
		"SELECT balance_minor FROM accounts WHERE account_id = $1", accountID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *Postgres) ApplyAtomic(ctx context.Context, t Transition) (int64, error) {
	balances, err := p.ApplyMultiAtomic(ctx, []Transition{t})
	if err != nil {
		return 0, err
	}
	return balances[0], nil
}

func (p *Postgres) ApplyMultiAtomic(ctx context.Context, ts []Transition) ([]int64, error) {
	if len(ts) == 0 {
		return nil, nil
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock accounts in ascending id order to prevent deadlock between
	// concurrent settlements touching overlapping account sets.
	ids := make([]string, 0, len(ts))
	seen := make(map[string]bool, len(ts))
	for _, t := range ts {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			ids = append(ids, t.AccountID)
		}
	}
	sort.Strings(ids)

	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		if err := ensureAccountTx(ctx, tx, id); err != nil {
			return nil, mapTxErr(err)
		}
		var bal int64
		if err := tx.QueryRow(ctx,
			"SELECT balance_minor FROM accounts WHERE account_id = $1 FOR UPDATE", id).Scan(&bal); err != nil {
			return nil, mapTxErr(fmt.Errorf("lock acquisition failed: %w", err))
		}
		balances[id] = bal
	}

	// Validate every leg before the first write; a debit past zero aborts
	// the whole unit.
	out := make([]int64, len(ts))
	for i, t := range ts {
		next := balances[t.AccountID] + t.Delta
		if next < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		balances[t.AccountID] = next
		out[i] = next
	}

	for _, t := range ts {
		if _, err := tx.Exec(ctx,
			"UPDATE accounts SET balance_minor = balance_minor + $1, updated_at = NOW() WHERE account_id = $2",
			t.Delta, t.AccountID); err != nil {
			return nil, mapTxErr(err)
		}
		if err := insertRecordTx(ctx, tx, t.Record); err != nil {
			return nil, mapTxErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapTxErr(fmt.Errorf("tx commit failed: %w", err))
	}
	return out, nil
}

func recordDetail(rec domain.Record) (any, error) {
	switch rec.Kind {
	case domain.KindPayment:
		return rec.Payment, nil
	case domain.KindWithdrawal:
		return rec.Withdrawal, nil
	case domain.KindRefund:
		return rec.Refund, nil
	case domain.KindReward:
		return rec.Reward, nil
	case domain.KindDeposit:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

func insertRecordTx(ctx context.Context, tx pgx.Tx, rec domain.Record) error {
	detail, err := recordDetail(rec)
	if err != nil {
		return err
	}
	var detailJSON []byte
	if detail != nil {
		if detailJSON, err = json.Marshal(detail); err != nil {
			return err
		}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// The conflict arm exists for the withdrawal flow, where confirmation
	// applies the balance debit and flips the request's own record from
	// pending to completed in one atomic unit. The WHERE guard makes that
	// flip a compare-and-set: once the record has left pending, re-applying
	// it touches no row and the whole transition aborts, so a second
	// confirmation of the same request cannot debit twice.
	const q = `
INSERT INTO records (
  id, account_id, kind, amount_minor, status,
  related_booking_id, related_record_id, external_ref, detail, created_at
)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, $10)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
WHERE records.status = 'pending'
`
	tag, err := tx.Exec(ctx, q,
		rec.ID, rec.AccountID, string(rec.Kind), rec.AmountMinor, string(rec.Status),
		rec.RelatedBookingID, rec.RelatedRecordID, rec.ExternalRef, detailJSON, createdAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotPending
	}
	return nil
}

const recordColumns = `
id, account_id, kind, amount_minor, status,
COALESCE(related_booking_id,''), COALESCE(related_record_id,''), COALESCE(external_ref,''),
detail, created_at`

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var rec domain.Record
	var kind, status string
	var detail []byte
	if err := row.Scan(&rec.ID, &rec.AccountID, &kind, &rec.AmountMinor, &status,
		&rec.RelatedBookingID, &rec.RelatedRecordID, &rec.ExternalRef,
		&detail, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = domain.RecordKind(kind)
	rec.Status = domain.RecordStatus(status)
	if len(detail) > 0 {
		switch rec.Kind {
		case domain.KindPayment:
			rec.Payment = &domain.PaymentDetail{}
			if err := json.Unmarshal(detail, rec.Payment); err != nil {
				return nil, err
			}
		case domain.KindWithdrawal:
			rec.Withdrawal = &domain.WithdrawalDetail{}
			if err := json.Unmarshal(detail, rec.Withdrawal); err != nil {
				return nil, err
			}
		case domain.KindRefund:
			rec.Refund = &domain.RefundDetail{}
			if err := json.Unmarshal(detail, rec.Refund); err != nil {
				return nil, err
			}
		case domain.KindReward:
			rec.Reward = &domain.RewardDetail{}
			if err := json.Unmarshal(detail, rec.Reward); err != nil {
				return nil, err
			}
		}
	}
	return &rec, nil
}

func (p *Postgres) CreateRecord(ctx context.Context, rec domain.Record) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return mapTxErr(err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetRecord(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := scanRecord(p.db.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM records WHERE id = $1", id))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

func (p *Postgres) SetRecordStatus(ctx context.Context, id string, from, to domain.RecordStatus) error {
	tag, err := p.db.Exec(ctx,
		"UPDATE records SET status = $1 WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return mapTxErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetRecord(ctx, id); err != nil {
			return err
		}
		return domain.ErrRequestNotPending
	}
	return nil
}

func (p *Postgres) FindByExternalRef(ctx context.Context, externalRef, accountID string, kind domain.RecordKind) (*domain.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM records
WHERE external_ref = $1 AND account_id = $2 AND kind = $3
  AND status IN ('completed', 'refunded')
ORDER BY created_at DESC
LIMIT 1
`
	rec, err := scanRecord(p.db.QueryRow(ctx, q, externalRef, accountID, string(kind)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (p *Postgres) ListRecords(ctx context.Context, accountID string, limit, offset int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + recordColumns + `
FROM records
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	rows, err := p.db.Query(ctx, q, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (p *Postgres) RecordsForBooking(ctx context.Context, bookingID string) ([]domain.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM records
WHERE related_booking_id = $1
ORDER BY created_at ASC
`
	rows, err := p.db.Query(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *Postgres) PendingWithdrawal(ctx context.Context, accountID string) (*domain.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM records
WHERE account_id = $1 AND kind = 'withdrawal' AND status = 'pending'
LIMIT 1
`
	rec, err := scanRecord(p.db.QueryRow(ctx, q, accountID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (p *Postgres) AddDebt(ctx context.Context, accountID string, amountMinor int64, relatedRecordID string) error {
	_, err := p.db.Exec(ctx,
		"INSERT INTO debts (account_id, amount_minor, related_record_id) VALUES ($1, $2, NULLIF($3,''))",
		accountID, amountMinor, relatedRecordID)
	return err
}

func (p *Postgres) OutstandingDebt(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := p.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount_minor), 0) FROM debts WHERE account_id = $1", accountID).Scan(&total)
	return total, err
}

func (p *Postgres) CreateBooking(ctx context.Context, b *domain.Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO bookings (
  id, guest_id, host_id, listing_id, check_in, check_out,
  guests, total_amount_minor, status, promo_code, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11)
`
	_, err := p.db.Exec(ctx, q,
		b.ID, b.GuestID, b.HostID, b.ListingID, b.CheckIn, b.CheckOut,
		b.Guests, b.TotalAmountMinor, string(b.Status), b.PromoCode, b.CreatedAt)
	return err
}

const bookingColumns = `
id, guest_id, host_id, listing_id, check_in, check_out,
guests, total_amount_minor, status, COALESCE(cancellation_request_id,''), COALESCE(promo_code,''), created_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	if err := row.Scan(&b.ID, &b.GuestID, &b.HostID, &b.ListingID, &b.CheckIn, &b.CheckOut,
		&b.Guests, &b.TotalAmountMinor, &status, &b.CancellationRequestID, &b.PromoCode, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

func (p *Postgres) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := scanBooking(p.db.QueryRow(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (p *Postgres) UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus) error {
	tag, err := p.db.Exec(ctx,
		"UPDATE bookings SET status = $1 WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return mapTxErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetBooking(ctx, id); err != nil {
			return err
		}
		return domain.ErrBookingNotPayable
	}
	return nil
}

func (p *Postgres) ActiveBookingsForListing(ctx context.Context, listingID string) ([]domain.Booking, error) {
	const q = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE listing_id = $1 AND status IN ('pending', 'confirmed')
ORDER BY created_at ASC
`
	rows, err := p.db.Query(ctx, q, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateCancellationRequest(ctx context.Context, cr *domain.CancellationRequest) error {
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
INSERT INTO cancellation_requests (id, booking_id, guest_id, host_id, reason, status, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7)
`
	if _, err := tx.Exec(ctx, q,
		cr.ID, cr.BookingID, cr.GuestID, cr.HostID, cr.Reason, string(cr.Status), cr.CreatedAt); err != nil {
		return mapTxErr(err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE bookings SET cancellation_request_id = $1 WHERE id = $2", cr.ID, cr.BookingID); err != nil {
		return mapTxErr(err)
	}
	return tx.Commit(ctx)
}

const cancellationColumns = `
id, booking_id, guest_id, host_id, COALESCE(reason,''), status, COALESCE(reviewed_by,''), reviewed_at, created_at`

func scanCancellation(row pgx.Row) (*domain.CancellationRequest, error) {
	var cr domain.CancellationRequest
	var status string
	if err := row.Scan(&cr.ID, &cr.BookingID, &cr.GuestID, &cr.HostID, &cr.Reason,
		&status, &cr.ReviewedBy, &cr.ReviewedAt, &cr.CreatedAt); err != nil {
		return nil, err
	}
	cr.Status = domain.CancellationStatus(status)
	return &cr, nil
}

func (p *Postgres) GetCancellationRequest(ctx context.Context, id string) (*domain.CancellationRequest, error) {
	cr, err := scanCancellation(p.db.QueryRow(ctx,
		"SELECT "+cancellationColumns+" FROM cancellation_requests WHERE id = $1", id))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return cr, err
}

func (p *Postgres) PendingCancellationForBooking(ctx context.Context, bookingID string) (*domain.CancellationRequest, error) {
	const q = `
SELECT ` + cancellationColumns + `
FROM cancellation_requests
WHERE booking_id = $1 AND status = 'pending'
LIMIT 1
`
	cr, err := scanCancellation(p.db.QueryRow(ctx, q, bookingID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return cr, err
}

func (p *Postgres) ResolveCancellationRequest(ctx context.Context, id string, status domain.CancellationStatus, reviewedBy string) error {
	tag, err := p.db.Exec(ctx,
		"UPDATE cancellation_requests SET status = $1, reviewed_by = $2, reviewed_at = NOW() WHERE id = $3 AND status = 'pending'",
		string(status), reviewedBy, id)
	if err != nil {
		return mapTxErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetCancellationRequest(ctx, id); err != nil {
			return err
		}
		return domain.ErrRequestNotPending
	}
	return nil
}

func (p *Postgres) GetPromo(ctx context.Context, code string) (*domain.PromoCredit, error) {
	var pc domain.PromoCredit
	var status string
	err := p.db.QueryRow(ctx,
		"SELECT code, guest_id, amount_minor, status FROM promo_credits WHERE code = $1", code).
		Scan(&pc.Code, &pc.GuestID, &pc.AmountMinor, &status)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pc.Status = domain.PromoStatus(status)
	return &pc, nil
}

func (p *Postgres) SetPromoStatus(ctx context.Context, code string, from, to domain.PromoStatus) error {
	tag, err := p.db.Exec(ctx,
		"UPDATE promo_credits SET status = $1 WHERE code = $2 AND status = $3",
		string(to), code, string(from))
	if err != nil {
		return mapTxErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetPromo(ctx, code); err != nil {
			return err
		}
		return domain.ErrRequestNotPending
	}
	return nil
}

var _ Store = (*Postgres)(nil)
