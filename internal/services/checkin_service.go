package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
)

// CheckinService issues short-lived QR check-in codes for rented
// reservations. The code proves at the door that the reservation is RENTED
// and the holder is the renter.
type CheckinService struct {
	reader ledger.Reader
	redis  *redis.Client
}

func NewCheckinService(reader ledger.Reader, redis *redis.Client) *CheckinService {
	return &CheckinService{reader: reader, redis: redis}
}

type checkinPayload struct {
	BookingID uint64 `json:"bookingId"`
	ListingID uint64 `json:"listingId"`
	Renter    string `json:"renter"`
	IssuedAt  int64  `json:"issuedAt"`
	Nonce     string `json:"nonce"`
}

type checkinRequest struct {
	Caller string `json:"caller"`
}

// GenerateCode issues a check-in QR code for a rented reservation
// @Summary Generate check-in code
// @Description Issue a 10-minute QR code proving the caller holds a RENTED reservation
// @Tags checkin
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body checkinRequest true "Caller"
// @Success 200 {object} object{code=string,qrImage=string,expiresIn=int}
// @Failure 403 {object} ErrorResponse
// @Router /bookings/{bookingId}/checkin [post]
func (s *CheckinService) GenerateCode(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req checkinRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	snap, err := s.reader.GetReservation(r.Context(), bookingID)
	if err != nil || snap == nil {
		SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
		return
	}

	if snap.State != booking.StateRented {
		SendErrorResponse(w, "Reservation is not checked-in-able: state "+snap.State.String(), http.StatusForbidden, nil)
		return
	}
	if !snap.Stakeholder(req.Caller) {
		SendErrorResponse(w, "Caller is not a party to this reservation", http.StatusForbidden, nil)
		return
	}

	code, qrImage, err := s.issue(r.Context(), snap)
	if err != nil {
		log.Printf("[CHECKIN] Code generation failed for booking %d: %v", bookingID, err)
		SendErrorResponse(w, "Failed to generate check-in code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code":      code,
		"qrImage":   qrImage,
		"expiresIn": int((10 * time.Minute).Seconds()),
	})
}

// RedeemCode validates a presented check-in code
// @Summary Redeem check-in code
// @Description Validate a scanned code; codes are single use
// @Tags checkin
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Scanned code"
// @Success 200 {object} checkinPayload
// @Failure 404 {object} ErrorResponse
// @Router /checkin/redeem [post]
func (s *CheckinService) RedeemCode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	payload, err := s.redeem(r.Context(), req.Code)
	if err != nil {
		SendErrorResponse(w, "Invalid or expired check-in code", http.StatusNotFound, nil)
		return
	}

	log.Printf("[CHECKIN] Code redeemed for booking %d", payload.BookingID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *CheckinService) issue(ctx context.Context, snap *booking.Snapshot) (string, string, error) {
	payload := checkinPayload{
		BookingID: snap.BookingID,
		ListingID: snap.ListingID,
		Renter:    snap.Renter,
		IssuedAt:  time.Now().Unix(),
		Nonce:     generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("checkin:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 10*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *CheckinService) redeem(ctx context.Context, code string) (*checkinPayload, error) {
	key := fmt.Sprintf("checkin:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired check-in code")
	}
	if err != nil {
		return nil, err
	}

	var payload checkinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	// Single use.
	s.redis.Del(ctx, key)

	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
