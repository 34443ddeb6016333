package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewizard26/rebnb-hack/internal/booking"
)

func rentedSnapshot() *booking.Snapshot {
	return &booking.Snapshot{
		BookingID:     7,
		ListingID:     42,
		State:         booking.StateRented,
		OriginalPayer: testRenter,
		Owner:         testOwner,
		Renter:        testRenter,
		Deposit:       big.NewInt(50000000000000000),
		Price:         big.NewInt(100000000000000000),
		TotalPaid:     big.NewInt(150000000000000000),
	}
}

func TestGenerateCode(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	snap := rentedSnapshot()
	svc := NewCheckinService(&stubReader{listing: testListing(), snap: snap}, rdb)

	router := chi.NewRouter()
	router.Post("/bookings/{bookingId}/checkin", svc.GenerateCode)

	t.Run("issues a single-use code", func(t *testing.T) {
		mock.Regexp().ExpectSet(`checkin:.*`, `.*`, 10*time.Minute).SetVal("OK")

		w := postJSON(t, router, "/bookings/7/checkin", map[string]string{"caller": testRenter})

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["code"])
		assert.NotEmpty(t, resp["qrImage"])
		assert.EqualValues(t, 600, resp["expiresIn"])

		// The code itself carries the reservation identity.
		decoded, err := base64.URLEncoding.DecodeString(resp["code"].(string))
		require.NoError(t, err)
		var payload checkinPayload
		require.NoError(t, json.Unmarshal(decoded, &payload))
		assert.Equal(t, uint64(7), payload.BookingID)
		assert.Equal(t, testRenter, payload.Renter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-rented reservations", func(t *testing.T) {
		snap.State = booking.StatePrebooked
		defer func() { snap.State = booking.StateRented }()

		w := postJSON(t, router, "/bookings/7/checkin", map[string]string{"caller": testRenter})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("rejects strangers", func(t *testing.T) {
		w := postJSON(t, router, "/bookings/7/checkin",
			map[string]string{"caller": "0xdddd000000000000000000000000000000000004"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRedeemCode(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	svc := NewCheckinService(&stubReader{listing: testListing(), snap: rentedSnapshot()}, rdb)

	payload := checkinPayload{BookingID: 7, ListingID: 42, Renter: testRenter, IssuedAt: time.Now().Unix(), Nonce: "n"}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	code := base64.URLEncoding.EncodeToString(data)

	t.Run("valid code", func(t *testing.T) {
		mock.ExpectGet("checkin:" + code).SetVal(string(data))
		mock.ExpectDel("checkin:" + code).SetVal(1)

		body, _ := json.Marshal(map[string]string{"code": code})
		req := httptest.NewRequest("POST", "/checkin/redeem", bytes.NewReader(body))
		w := httptest.NewRecorder()
		svc.RedeemCode(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got checkinPayload
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, uint64(7), got.BookingID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code", func(t *testing.T) {
		mock.ExpectGet("checkin:bogus").RedisNil()

		body, _ := json.Marshal(map[string]string{"code": "bogus"})
		req := httptest.NewRequest("POST", "/checkin/redeem", bytes.NewReader(body))
		w := httptest.NewRecorder()
		svc.RedeemCode(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
