package services

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/coordinator"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
	"github.com/codewizard26/rebnb-hack/internal/store"
	"github.com/codewizard26/rebnb-hack/internal/token"
)

const (
	testOwner  = "0xaaaa000000000000000000000000000000000001"
	testRenter = "0xbbbb000000000000000000000000000000000002"
)

// stubHTTPLedger fakes the escrow writer/simulator behind the HTTP handlers.
type stubHTTPLedger struct {
	simulateErr error
	waitStatus  ledger.TxStatus
	waitReason  string
	submits     int
}

func (s *stubHTTPLedger) Simulate(ctx context.Context, intent *booking.Intent) error {
	return s.simulateErr
}

func (s *stubHTTPLedger) Submit(ctx context.Context, intent *booking.Intent) (*ledger.TxHandle, error) {
	s.submits++
	return &ledger.TxHandle{Hash: "0xfeedbeef"}, nil
}

func (s *stubHTTPLedger) Wait(ctx context.Context, h *ledger.TxHandle) (*ledger.Receipt, error) {
	return &ledger.Receipt{
		Hash:        h.Hash,
		Status:      s.waitStatus,
		Reason:      s.waitReason,
		BlockNumber: 11,
	}, nil
}

// stubReader serves listing and reservation reads with fresh timestamps.
type stubReader struct {
	listing *booking.Listing
	snap    *booking.Snapshot
}

func (s *stubReader) GetListing(ctx context.Context, listingID uint64) (*booking.Listing, error) {
	l := *s.listing
	l.FetchedAt = time.Now()
	return &l, nil
}

func (s *stubReader) GetReservation(ctx context.Context, bookingID uint64) (*booking.Snapshot, error) {
	if s.snap == nil {
		return nil, nil
	}
	snap := *s.snap
	snap.FetchedAt = time.Now()
	return &snap, nil
}

func (s *stubReader) GetReservationByListing(ctx context.Context, listingID uint64) (*booking.Snapshot, error) {
	return s.GetReservation(ctx, 0)
}

func (s *stubReader) IsListingActive(ctx context.Context, listingID uint64) (bool, error) {
	return s.listing.Active, nil
}

func newBookingTestServer(t *testing.T, reader *stubReader, led *stubHTTPLedger) (*chi.Mux, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tok := token.Token{Symbol: "ETH", Decimals: 18}
	planner := booking.NewPlanner(tok, 30*time.Second)
	coord, err := coordinator.New(coordinator.Config{
		Writer:         led,
		Simulator:      led,
		ConfirmTimeout: time.Second,
	})
	require.NoError(t, err)

	svc := NewBookingService(reader, nil, planner, coord, store.New(db), tok, testOwner)

	r := chi.NewRouter()
	r.Get("/listings/{listingId}", svc.GetListing)
	r.Post("/listings/{listingId}/prebook", svc.Prebook)
	r.Post("/bookings/{bookingId}/finalize", svc.Finalize)
	r.Post("/intents/plan", svc.PlanDryRun)
	return r, mock
}

func testListing() *booking.Listing {
	return &booking.Listing{
		ListingID:       42,
		Owner:           testOwner,
		RentPrice:       big.NewInt(100000000000000000), // 0.1
		RentSecurity:    big.NewInt(50000000000000000),  // 0.05
		BookingPrice:    big.NewInt(100000000000000000),
		BookingSecurity: big.NewInt(50000000000000000),
		Active:          true,
	}
}

func postJSON(t *testing.T, router http.Handler, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", url, bytes.NewReader(data))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetListing(t *testing.T) {
	router, _ := newBookingTestServer(t, &stubReader{listing: testListing()}, &stubHTTPLedger{})

	req := httptest.NewRequest("GET", "/listings/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp listingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(42), resp.ListingID)
	assert.Equal(t, "0.1", resp.RentPrice)
	assert.Equal(t, "0.05", resp.BookingSecurity)
	assert.True(t, resp.Active)
}

func TestPrebook(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		led := &stubHTTPLedger{waitStatus: ledger.TxConfirmed}
		router, mock := newBookingTestServer(t, &stubReader{listing: testListing()}, led)

		mock.ExpectExec("INSERT INTO intent_history").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := postJSON(t, router, "/listings/42/prebook", map[string]string{"caller": testRenter})

		assert.Equal(t, http.StatusOK, w.Code)
		var resp intentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "CONFIRMED", resp.Outcome)
		assert.Equal(t, "0xfeedbeef", resp.TxHash)
		assert.Equal(t, "0.05", resp.ValueHuman)
		assert.Equal(t, 1, led.submits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed deposit", func(t *testing.T) {
		led := &stubHTTPLedger{waitStatus: ledger.TxConfirmed}
		router, _ := newBookingTestServer(t, &stubReader{listing: testListing()}, led)

		w := postJSON(t, router, "/listings/42/prebook",
			map[string]string{"caller": testRenter, "deposit": "0.0.5"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "MALFORMED_AMOUNT", resp["code"])
		assert.Equal(t, 0, led.submits)
	})

	t.Run("owner cannot book own listing", func(t *testing.T) {
		led := &stubHTTPLedger{waitStatus: ledger.TxConfirmed}
		router, _ := newBookingTestServer(t, &stubReader{listing: testListing()}, led)

		w := postJSON(t, router, "/listings/42/prebook", map[string]string{"caller": testOwner})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, 0, led.submits)
	})

	t.Run("simulation revert blocks submission", func(t *testing.T) {
		led := &stubHTTPLedger{
			simulateErr: &ledger.RevertError{Reason: "Listing is not active"},
		}
		router, _ := newBookingTestServer(t, &stubReader{listing: testListing()}, led)

		w := postJSON(t, router, "/listings/42/prebook", map[string]string{"caller": testRenter})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "SIMULATION_REVERTED", resp["code"])
		assert.Equal(t, false, resp["retryable"])
		assert.Equal(t, 0, led.submits)
	})
}

func TestFinalizeReverted(t *testing.T) {
	snap := &booking.Snapshot{
		BookingID:     7,
		ListingID:     42,
		State:         booking.StatePrebooked,
		OriginalPayer: testRenter,
		Owner:         testOwner,
		Deposit:       big.NewInt(50000000000000000),
		Price:         big.NewInt(100000000000000000),
		TotalPaid:     big.NewInt(50000000000000000),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	led := &stubHTTPLedger{waitStatus: ledger.TxReverted, waitReason: "Booking expired"}
	router, mock := newBookingTestServer(t, &stubReader{listing: testListing(), snap: snap}, led)

	mock.ExpectExec("INSERT INTO reservation_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO intent_history").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, router, "/bookings/7/finalize", map[string]string{"caller": testRenter})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp intentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "REVERTED", resp.Outcome)
	assert.Equal(t, "Booking expired", resp.Reason)
	// Outstanding balance: rent+security minus the deposit already paid.
	assert.Equal(t, "0.1", resp.ValueHuman)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanDryRun(t *testing.T) {
	snap := &booking.Snapshot{
		BookingID:     7,
		ListingID:     42,
		State:         booking.StatePrebooked,
		OriginalPayer: testRenter,
		Owner:         testOwner,
		Deposit:       big.NewInt(50000000000000000),
		Price:         big.NewInt(100000000000000000),
		TotalPaid:     big.NewInt(50000000000000000),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	led := &stubHTTPLedger{waitStatus: ledger.TxConfirmed}
	router, mock := newBookingTestServer(t, &stubReader{listing: testListing(), snap: snap}, led)

	mock.ExpectExec("INSERT INTO reservation_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, router, "/intents/plan", map[string]any{
		"action":    "finalize",
		"bookingId": 7,
		"caller":    testRenter,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp intentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PLANNED", resp.Outcome)
	assert.Equal(t, "0.1", resp.ValueHuman)
	assert.Empty(t, resp.TxHash)
	// A dry run never touches the writer.
	assert.Equal(t, 0, led.submits)
}
