// Package store persists reservation snapshots and settled intent history in
// Postgres. The ledger stays authoritative; this is a read cache plus an
// append-only settlement log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/codewizard26/rebnb-hack/internal/booking"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reservation_snapshots (
			booking_id BIGINT PRIMARY KEY,
			listing_id BIGINT NOT NULL,
			state TEXT NOT NULL,
			original_payer TEXT NOT NULL,
			owner TEXT NOT NULL,
			renter TEXT NOT NULL DEFAULT '',
			deposit NUMERIC(78,0) NOT NULL DEFAULT 0,
			price NUMERIC(78,0) NOT NULL DEFAULT 0,
			total_paid NUMERIC(78,0) NOT NULL DEFAULT 0,
			owner_share_bps INT NOT NULL DEFAULT 0,
			broker_share_bps INT NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ,
			is_rerent BOOLEAN NOT NULL DEFAULT FALSE,
			fetched_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS intent_history (
			id BIGSERIAL PRIMARY KEY,
			intent_id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			booking_id BIGINT NOT NULL,
			listing_id BIGINT NOT NULL,
			caller TEXT NOT NULL,
			value NUMERIC(78,0) NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_intent_history_booking
			ON intent_history (booking_id, settled_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the cached reservation view.
func (s *Store) SaveSnapshot(ctx context.Context, snap *booking.Snapshot) error {
	var expiresAt sql.NullTime
	if !snap.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: snap.ExpiresAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservation_snapshots (
			booking_id, listing_id, state, original_payer, owner, renter,
			deposit, price, total_paid, owner_share_bps, broker_share_bps,
			expires_at, is_rerent, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (booking_id) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			state = EXCLUDED.state,
			original_payer = EXCLUDED.original_payer,
			owner = EXCLUDED.owner,
			renter = EXCLUDED.renter,
			deposit = EXCLUDED.deposit,
			price = EXCLUDED.price,
			total_paid = EXCLUDED.total_paid,
			owner_share_bps = EXCLUDED.owner_share_bps,
			broker_share_bps = EXCLUDED.broker_share_bps,
			expires_at = EXCLUDED.expires_at,
			is_rerent = EXCLUDED.is_rerent,
			fetched_at = EXCLUDED.fetched_at
	`,
		snap.BookingID, snap.ListingID, snap.State.String(), snap.OriginalPayer,
		snap.Owner, snap.Renter, bigString(snap.Deposit), bigString(snap.Price),
		bigString(snap.TotalPaid), snap.OwnerShareBps, snap.BrokerShareBps,
		expiresAt, snap.IsRerent, snap.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot for booking %d: %w", snap.BookingID, err)
	}
	return nil
}

// GetSnapshot returns the cached view, ErrNotFound when absent.
func (s *Store) GetSnapshot(ctx context.Context, bookingID uint64) (*booking.Snapshot, error) {
	var (
		snap      booking.Snapshot
		stateStr  string
		deposit   string
		price     string
		totalPaid string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT booking_id, listing_id, state, original_payer, owner, renter,
			deposit, price, total_paid, owner_share_bps, broker_share_bps,
			expires_at, is_rerent, fetched_at
		FROM reservation_snapshots WHERE booking_id = $1
	`, bookingID).Scan(
		&snap.BookingID, &snap.ListingID, &stateStr, &snap.OriginalPayer,
		&snap.Owner, &snap.Renter, &deposit, &price, &totalPaid,
		&snap.OwnerShareBps, &snap.BrokerShareBps, &expiresAt, &snap.IsRerent,
		&snap.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot for booking %d: %w", bookingID, err)
	}

	state, err := parseState(stateStr)
	if err != nil {
		return nil, err
	}
	snap.State = state
	snap.Deposit = parseBig(deposit)
	snap.Price = parseBig(price)
	snap.TotalPaid = parseBig(totalPaid)
	if expiresAt.Valid {
		snap.ExpiresAt = expiresAt.Time
	}
	return &snap, nil
}

// DeleteSnapshot drops the cached view so the next read goes to the ledger.
func (s *Store) DeleteSnapshot(ctx context.Context, bookingID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reservation_snapshots WHERE booking_id = $1`, bookingID)
	if err != nil {
		return fmt.Errorf("delete snapshot for booking %d: %w", bookingID, err)
	}
	return nil
}

// IntentRecord is one settled intent in the history log.
type IntentRecord struct {
	IntentID  string
	Action    string
	BookingID uint64
	ListingID uint64
	Caller    string
	Value     *big.Int
	Outcome   string
	TxHash    string
	Reason    string
	CreatedAt time.Time
	SettledAt time.Time
}

// RecordIntent appends a settled intent to the history.
func (s *Store) RecordIntent(ctx context.Context, rec *IntentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intent_history (
			intent_id, action, booking_id, listing_id, caller, value,
			outcome, tx_hash, reason, created_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.IntentID, rec.Action, rec.BookingID, rec.ListingID, rec.Caller,
		bigString(rec.Value), rec.Outcome, rec.TxHash, rec.Reason,
		rec.CreatedAt, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("record intent %s: %w", rec.IntentID, err)
	}
	return nil
}

// IntentHistory lists settled intents for a reservation, newest first.
func (s *Store) IntentHistory(ctx context.Context, bookingID uint64, limit int) ([]*IntentRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, action, booking_id, listing_id, caller, value,
			outcome, tx_hash, reason, created_at, settled_at
		FROM intent_history
		WHERE booking_id = $1
		ORDER BY settled_at DESC
		LIMIT $2
	`, bookingID, limit)
	if err != nil {
		return nil, fmt.Errorf("intent history for booking %d: %w", bookingID, err)
	}
	defer rows.Close()

	var records []*IntentRecord
	for rows.Next() {
		var rec IntentRecord
		var value string
		if err := rows.Scan(
			&rec.IntentID, &rec.Action, &rec.BookingID, &rec.ListingID,
			&rec.Caller, &value, &rec.Outcome, &rec.TxHash, &rec.Reason,
			&rec.CreatedAt, &rec.SettledAt,
		); err != nil {
			return nil, err
		}
		rec.Value = parseBig(value)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func parseState(s string) (booking.State, error) {
	for _, st := range []booking.State{
		booking.StatePrebooked, booking.StateFinalized, booking.StateRented,
		booking.StateRefunded, booking.StateDispute,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown reservation state %q", s)
}
