package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/coordinator"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
	"github.com/codewizard26/rebnb-hack/internal/store"
	"github.com/codewizard26/rebnb-hack/internal/token"
)

// BookingService exposes the reservation lifecycle over HTTP: planning,
// execution and read-back of the escrow ledger's reservation state.
type BookingService struct {
	reader    ledger.Reader
	tokens    ledger.TokenBackend // nil under native medium
	planner   *booking.Planner
	coord     *coordinator.Coordinator
	store     *store.Store
	tok       token.Token
	sender    string
	validator *ValidationHelper
}

func NewBookingService(reader ledger.Reader, tokens ledger.TokenBackend, planner *booking.Planner, coord *coordinator.Coordinator, st *store.Store, tok token.Token, sender string) *BookingService {
	return &BookingService{
		reader:    reader,
		tokens:    tokens,
		planner:   planner,
		coord:     coord,
		store:     st,
		tok:       tok,
		sender:    sender,
		validator: NewValidationHelper(),
	}
}

type actionRequest struct {
	Caller  string                `json:"caller" validate:"required"`
	Deposit string                `json:"deposit,omitempty"`
	Pricing *booking.PricingInput `json:"pricing,omitempty"`
}

type intentResponse struct {
	IntentID    string `json:"intentId"`
	Action      string `json:"action"`
	BookingID   uint64 `json:"bookingId,omitempty"`
	ListingID   uint64 `json:"listingId,omitempty"`
	Value       string `json:"value"`
	ValueHuman  string `json:"valueHuman"`
	Outcome     string `json:"outcome"`
	TxHash      string `json:"txHash,omitempty"`
	Reason      string `json:"reason,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

type snapshotResponse struct {
	BookingID      uint64 `json:"bookingId"`
	ListingID      uint64 `json:"listingId"`
	State          string `json:"state"`
	OriginalPayer  string `json:"originalPayer"`
	Owner          string `json:"owner"`
	Renter         string `json:"renter,omitempty"`
	Deposit        string `json:"deposit"`
	Price          string `json:"price"`
	TotalPaid      string `json:"totalPaid"`
	OwnerShareBps  uint32 `json:"ownerShareBps"`
	BrokerShareBps uint32 `json:"brokerShareBps"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
	IsRerent       bool   `json:"isRerent"`
}

type listingResponse struct {
	ListingID       uint64 `json:"listingId"`
	Owner           string `json:"owner"`
	RentPrice       string `json:"rentPrice"`
	RentSecurity    string `json:"rentSecurity"`
	BookingPrice    string `json:"bookingPrice"`
	BookingSecurity string `json:"bookingSecurity"`
	Active          bool   `json:"active"`
}

// GetListing returns a listing's pricing and availability
// @Summary Get listing
// @Description Fetch a listing's pricing tuple and availability from the ledger
// @Tags listings
// @Produce json
// @Param listingId path int true "Listing ID"
// @Success 200 {object} listingResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId} [get]
func (s *BookingService) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathID(w, r, "listingId")
	if !ok {
		return
	}

	listing, err := s.reader.GetListing(r.Context(), listingID)
	if err != nil {
		log.Printf("[BOOKING] Listing %d read failed: %v", listingID, err)
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listingResponse{
		ListingID:       listing.ListingID,
		Owner:           listing.Owner,
		RentPrice:       s.tok.Format(listing.RentPrice),
		RentSecurity:    s.tok.Format(listing.RentSecurity),
		BookingPrice:    s.tok.Format(listing.BookingPrice),
		BookingSecurity: s.tok.Format(listing.BookingSecurity),
		Active:          listing.Active,
	})
}

// GetReservation returns the current reservation snapshot
// @Summary Get reservation
// @Description Fetch a reservation snapshot, preferring the ledger and falling back to cache
// @Tags bookings
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} snapshotResponse
// @Failure 404 {object} ErrorResponse
// @Router /bookings/{bookingId} [get]
func (s *BookingService) GetReservation(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}

	snap, err := s.freshSnapshot(r.Context(), bookingID)
	if err != nil {
		SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshotJSON(snap))
}

// GetListingReservation returns the active reservation tied to a listing
// @Summary Get a listing's reservation
// @Description Fetch the reservation currently attached to a listing, if any
// @Tags listings
// @Produce json
// @Param listingId path int true "Listing ID"
// @Success 200 {object} snapshotResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{listingId}/reservation [get]
func (s *BookingService) GetListingReservation(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathID(w, r, "listingId")
	if !ok {
		return
	}

	snap, err := s.reader.GetReservationByListing(r.Context(), listingID)
	if err != nil {
		log.Printf("[BOOKING] Reservation read failed for listing %d: %v", listingID, err)
		SendErrorResponse(w, "Ledger read failed", http.StatusBadGateway, nil)
		return
	}
	if snap == nil {
		SendErrorResponse(w, "No reservation for this listing", http.StatusNotFound, nil)
		return
	}
	if saveErr := s.store.SaveSnapshot(r.Context(), snap); saveErr != nil {
		log.Printf("[BOOKING] Snapshot cache write failed for booking %d: %v", snap.BookingID, saveErr)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshotJSON(snap))
}

// GetIntent returns the in-flight intent for one reservation
// @Summary Pending intent for a reservation
// @Tags intents
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} object
// @Failure 404 {object} ErrorResponse
// @Router /bookings/{bookingId}/intent [get]
func (s *BookingService) GetIntent(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}

	p, ok := s.coord.Pending(fmt.Sprintf("booking:%d", bookingID))
	if !ok {
		SendErrorResponse(w, "No pending intent for this reservation", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"intentId":  p.Intent.ID,
		"action":    string(p.Intent.Action),
		"bookingId": p.Intent.BookingID,
		"listingId": p.Intent.ListingID,
		"phase":     string(p.Phase),
		"txHash":    p.TxHash,
		"since":     p.Since.Format(time.RFC3339),
	})
}

// GetHistory returns settled intents for a reservation
// @Summary Reservation history
// @Description List settled intents for a reservation, newest first
// @Tags bookings
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param limit query int false "Max entries"
// @Success 200 {array} store.IntentRecord
// @Router /bookings/{bookingId}/history [get]
func (s *BookingService) GetHistory(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := s.store.IntentHistory(r.Context(), bookingID, limit)
	if err != nil {
		log.Printf("[BOOKING] History read failed for booking %d: %v", bookingID, err)
		SendErrorResponse(w, "Failed to load history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// GetPending lists in-flight intents
// @Summary Pending intents
// @Description List intents accepted but not yet settled
// @Tags intents
// @Produce json
// @Success 200 {array} object
// @Router /intents/pending [get]
func (s *BookingService) GetPending(w http.ResponseWriter, r *http.Request) {
	type pendingJSON struct {
		IntentID  string `json:"intentId"`
		Action    string `json:"action"`
		BookingID uint64 `json:"bookingId,omitempty"`
		ListingID uint64 `json:"listingId,omitempty"`
		Phase     string `json:"phase"`
		TxHash    string `json:"txHash,omitempty"`
		Since     string `json:"since"`
	}

	out := []pendingJSON{}
	for _, p := range s.coord.PendingAll() {
		out = append(out, pendingJSON{
			IntentID:  p.Intent.ID,
			Action:    string(p.Intent.Action),
			BookingID: p.Intent.BookingID,
			ListingID: p.Intent.ListingID,
			Phase:     string(p.Phase),
			TxHash:    p.TxHash,
			Since:     p.Since.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Prebook reserves a listing with a refundable deposit
// @Summary Pre-book a listing
// @Description Lock a listing with a deposit; finalize or cancel before expiry
// @Tags bookings
// @Accept json
// @Produce json
// @Param listingId path int true "Listing ID"
// @Param request body actionRequest true "Caller and optional deposit"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /listings/{listingId}/prebook [post]
func (s *BookingService) Prebook(w http.ResponseWriter, r *http.Request) {
	s.listingAction(w, r, booking.ActionPrebook)
}

// DirectBook books a listing outright
// @Summary Book a listing directly
// @Description Pay rent plus security in one step; the reservation lands in FINALIZED
// @Tags bookings
// @Accept json
// @Produce json
// @Param listingId path int true "Listing ID"
// @Param request body actionRequest true "Caller"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /listings/{listingId}/book [post]
func (s *BookingService) DirectBook(w http.ResponseWriter, r *http.Request) {
	s.listingAction(w, r, booking.ActionDirectBook)
}

// Finalize pays the outstanding balance on a pre-booking
// @Summary Finalize a pre-booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body actionRequest true "Caller"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/finalize [post]
func (s *BookingService) Finalize(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, booking.ActionFinalize)
}

// Rerent re-lists a pre-booked reservation with new pricing
// @Summary Re-rent a pre-booked reservation
// @Description Only the original payer may re-list, and only while PREBOOKED
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body actionRequest true "Caller and replacement pricing"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/rerent [post]
func (s *BookingService) Rerent(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, booking.ActionRerent)
}

// Cancel refunds a pre-booking
// @Summary Cancel a pre-booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body actionRequest true "Caller"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/cancel [post]
func (s *BookingService) Cancel(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, booking.ActionCancel)
}

// Unlock pays the booking price and opens the room
// @Summary Unlock the room
// @Description Renter pays the booking price; reservation completes as RENTED
// @Tags bookings
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body actionRequest true "Caller"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/unlock [post]
func (s *BookingService) Unlock(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, booking.ActionUnlock)
}

type planRequest struct {
	Action    string                `json:"action" validate:"required"`
	BookingID uint64                `json:"bookingId,omitempty"`
	ListingID uint64                `json:"listingId,omitempty"`
	Caller    string                `json:"caller" validate:"required"`
	Deposit   string                `json:"deposit,omitempty"`
	Pricing   *booking.PricingInput `json:"pricing,omitempty"`
}

// PlanDryRun runs the planner without executing anything
// @Summary Dry-run an action plan
// @Description Return the Intent the planner would produce, or its typed rejection, without touching the ledger
// @Tags intents
// @Accept json
// @Produce json
// @Param request body planRequest true "Action, target and inputs"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /intents/plan [post]
func (s *BookingService) PlanDryRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req planRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	action := booking.Action(req.Action)
	var (
		snap    *booking.Snapshot
		listing *booking.Listing
		err     error
	)
	switch action {
	case booking.ActionPrebook, booking.ActionDirectBook:
		listing, err = s.reader.GetListing(r.Context(), req.ListingID)
		if err != nil {
			SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
			return
		}
	default:
		snap, err = s.freshSnapshot(r.Context(), req.BookingID)
		if err != nil {
			SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
			return
		}
		if needsListing(action) {
			listing, err = s.reader.GetListing(r.Context(), snap.ListingID)
			if err != nil {
				SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
				return
			}
		}
	}

	intent, err := s.planner.Plan(snap, listing, action, booking.Inputs{
		Caller:  req.Caller,
		Deposit: req.Deposit,
		Pricing: req.Pricing,
	})
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intentResponse{
		IntentID:   intent.ID,
		Action:     string(intent.Action),
		BookingID:  intent.BookingID,
		ListingID:  intent.ListingID,
		Value:      intent.Value.String(),
		ValueHuman: s.tok.Format(intent.Value),
		Outcome:    "PLANNED",
	})
}

// listingAction handles entry actions addressed by listing id.
func (s *BookingService) listingAction(w http.ResponseWriter, r *http.Request, action booking.Action) {
	listingID, ok := pathID(w, r, "listingId")
	if !ok {
		return
	}
	req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	listing, err := s.reader.GetListing(r.Context(), listingID)
	if err != nil {
		log.Printf("[BOOKING] Listing %d read failed: %v", listingID, err)
		SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
		return
	}

	s.planAndExecute(w, r, nil, listing, action, req)
}

// bookingAction handles actions addressed by booking id.
func (s *BookingService) bookingAction(w http.ResponseWriter, r *http.Request, action booking.Action) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}
	req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	snap, err := s.freshSnapshot(r.Context(), bookingID)
	if err != nil {
		SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
		return
	}

	var listing *booking.Listing
	if needsListing(action) {
		listing, err = s.reader.GetListing(r.Context(), snap.ListingID)
		if err != nil {
			SendErrorResponse(w, "Listing not found", http.StatusNotFound, nil)
			return
		}
	}

	s.planAndExecute(w, r, snap, listing, action, req)
}

func (s *BookingService) planAndExecute(w http.ResponseWriter, r *http.Request, snap *booking.Snapshot, listing *booking.Listing, action booking.Action, req *actionRequest) {
	in := booking.Inputs{
		Caller:  req.Caller,
		Deposit: req.Deposit,
		Pricing: req.Pricing,
	}
	if s.tokens != nil {
		// Funds checks only make sense where a queryable token exists.
		if balance, err := s.tokens.BalanceOf(r.Context(), s.sender); err == nil {
			in.Balance = balance
		}
	}

	intent, err := s.planner.Plan(snap, listing, action, in)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	result, err := s.coord.Execute(r.Context(), intent)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	s.recordSettled(r.Context(), intent, result)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intentResponse{
		IntentID:    intent.ID,
		Action:      string(intent.Action),
		BookingID:   intent.BookingID,
		ListingID:   intent.ListingID,
		Value:       intent.Value.String(),
		ValueHuman:  s.tok.Format(intent.Value),
		Outcome:     string(result.Outcome),
		TxHash:      result.TxHash,
		Reason:      result.Reason,
		BlockNumber: result.BlockNumber,
	})
}

// recordSettled appends a settled intent to history.
func (s *BookingService) recordSettled(ctx context.Context, intent *booking.Intent, result *coordinator.Result) {
	rec := &store.IntentRecord{
		IntentID:  intent.ID,
		Action:    string(intent.Action),
		BookingID: intent.BookingID,
		ListingID: intent.ListingID,
		Caller:    intent.Caller,
		Value:     intent.Value,
		Outcome:   string(result.Outcome),
		TxHash:    result.TxHash,
		Reason:    result.Reason,
		CreatedAt: intent.CreatedAt,
		SettledAt: time.Now(),
	}
	if err := s.store.RecordIntent(ctx, rec); err != nil {
		log.Printf("[BOOKING] Failed to record intent %s: %v", intent.ID, err)
	}
}

// freshSnapshot reads the reservation from the ledger and refreshes the
// cache. When the ledger is unreachable the cache serves as fallback; the
// planner's staleness bound still applies.
func (s *BookingService) freshSnapshot(ctx context.Context, bookingID uint64) (*booking.Snapshot, error) {
	snap, err := s.reader.GetReservation(ctx, bookingID)
	if err == nil && snap != nil && snap.BookingID != 0 {
		if saveErr := s.store.SaveSnapshot(ctx, snap); saveErr != nil {
			log.Printf("[BOOKING] Snapshot cache write failed for booking %d: %v", bookingID, saveErr)
		}
		return snap, nil
	}
	if err != nil {
		log.Printf("[BOOKING] Ledger read failed for booking %d, trying cache: %v", bookingID, err)
		if cached, cacheErr := s.store.GetSnapshot(ctx, bookingID); cacheErr == nil {
			return cached, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("booking %d not found", bookingID)
}

// InvalidateSnapshot drops the cached view after a settled write.
func (s *BookingService) InvalidateSnapshot(bookingID, listingID uint64) {
	if bookingID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.DeleteSnapshot(ctx, bookingID); err != nil {
		log.Printf("[BOOKING] Snapshot invalidation failed for booking %d: %v", bookingID, err)
	}
}

func (s *BookingService) decodeAction(w http.ResponseWriter, r *http.Request) (*actionRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req actionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

// writeRejection maps typed rejections onto HTTP statuses; anything else is
// a 502 because the ledger, not the client, failed.
func (s *BookingService) writeRejection(w http.ResponseWriter, err error) {
	if rej, ok := booking.AsRejection(err); ok {
		status := http.StatusUnprocessableEntity
		switch rej.Code {
		case booking.RejectConflictingIntent:
			status = http.StatusConflict
		case booking.RejectMalformedAmount, booking.RejectInvalidEvidence:
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     rej.Reason,
			"code":      string(rej.Code),
			"retryable": rej.Retryable(),
		})
		return
	}

	var ctxErr error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ctxErr = err
	}
	log.Printf("[BOOKING] Ledger operation failed: %v", err)
	if ctxErr != nil {
		SendErrorResponse(w, "Request cancelled", http.StatusRequestTimeout, nil)
		return
	}
	SendErrorResponse(w, "Ledger operation failed", http.StatusBadGateway, nil)
}

func (s *BookingService) snapshotJSON(snap *booking.Snapshot) snapshotResponse {
	out := snapshotResponse{
		BookingID:      snap.BookingID,
		ListingID:      snap.ListingID,
		State:          snap.State.String(),
		OriginalPayer:  snap.OriginalPayer,
		Owner:          snap.Owner,
		Renter:         snap.Renter,
		Deposit:        s.tok.Format(snap.Deposit),
		Price:          s.tok.Format(snap.Price),
		TotalPaid:      s.tok.Format(snap.TotalPaid),
		OwnerShareBps:  snap.OwnerShareBps,
		BrokerShareBps: snap.BrokerShareBps,
		IsRerent:       snap.IsRerent,
	}
	if !snap.ExpiresAt.IsZero() {
		out.ExpiresAt = snap.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

// needsListing reports whether the planner must see the listing's pricing to
// compute the attached value for action.
func needsListing(action booking.Action) bool {
	switch action {
	case booking.ActionFinalize, booking.ActionRerent, booking.ActionUnlock:
		return true
	}
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}
