package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewizard26/rebnb-hack/internal/booking"
)

func TestSaveSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)

	fetched := time.Now()
	expires := fetched.Add(time.Hour)
	snap := &booking.Snapshot{
		BookingID:      7,
		ListingID:      42,
		State:          booking.StatePrebooked,
		OriginalPayer:  "0xcccc",
		Owner:          "0xaaaa",
		Deposit:        big.NewInt(50000000000000000),
		Price:          big.NewInt(200000000000000000),
		TotalPaid:      big.NewInt(50000000000000000),
		OwnerShareBps:  9000,
		BrokerShareBps: 1000,
		ExpiresAt:      expires,
		FetchedAt:      fetched,
	}

	mock.ExpectExec("INSERT INTO reservation_snapshots").
		WithArgs(
			uint64(7), uint64(42), "PREBOOKED", "0xcccc", "0xaaaa", "",
			"50000000000000000", "200000000000000000", "50000000000000000",
			uint32(9000), uint32(1000), sqlmock.AnyArg(), false, fetched,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	fetched := time.Now()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"booking_id", "listing_id", "state", "original_payer", "owner",
			"renter", "deposit", "price", "total_paid", "owner_share_bps",
			"broker_share_bps", "expires_at", "is_rerent", "fetched_at",
		}).AddRow(
			uint64(7), uint64(42), "RENTED", "0xcccc", "0xaaaa", "0xcccc",
			"50000000000000000", "200000000000000000", "150000000000000000",
			uint32(9000), uint32(1000), nil, false, fetched,
		)

		mock.ExpectQuery("SELECT (.+) FROM reservation_snapshots WHERE booking_id").
			WithArgs(uint64(7)).
			WillReturnRows(rows)

		snap, err := s.GetSnapshot(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, booking.StateRented, snap.State)
		assert.Equal(t, "150000000000000000", snap.TotalPaid.String())
		assert.True(t, snap.ExpiresAt.IsZero())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM reservation_snapshots WHERE booking_id").
			WithArgs(uint64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"booking_id"}))

		_, err := s.GetSnapshot(context.Background(), 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordIntentAndHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	created := time.Now().Add(-time.Minute)
	settled := time.Now()

	rec := &IntentRecord{
		IntentID:  "intent-1",
		Action:    "finalize",
		BookingID: 7,
		ListingID: 42,
		Caller:    "0xcccc",
		Value:     big.NewInt(100000000000000000),
		Outcome:   "CONFIRMED",
		TxHash:    "0xabc123",
		CreatedAt: created,
		SettledAt: settled,
	}

	mock.ExpectExec("INSERT INTO intent_history").
		WithArgs(
			"intent-1", "finalize", uint64(7), uint64(42), "0xcccc",
			"100000000000000000", "CONFIRMED", "0xabc123", "", created, settled,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.RecordIntent(context.Background(), rec))

	rows := sqlmock.NewRows([]string{
		"intent_id", "action", "booking_id", "listing_id", "caller", "value",
		"outcome", "tx_hash", "reason", "created_at", "settled_at",
	}).AddRow(
		"intent-1", "finalize", uint64(7), uint64(42), "0xcccc",
		"100000000000000000", "CONFIRMED", "0xabc123", "", created, settled,
	)

	mock.ExpectQuery("SELECT (.+) FROM intent_history").
		WithArgs(uint64(7), 50).
		WillReturnRows(rows)

	history, err := s.IntentHistory(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "intent-1", history[0].IntentID)
	assert.Equal(t, "100000000000000000", history[0].Value.String())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)

	mock.ExpectExec("DELETE FROM reservation_snapshots WHERE booking_id").
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.DeleteSnapshot(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
