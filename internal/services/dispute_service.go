package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/coordinator"
	"github.com/codewizard26/rebnb-hack/internal/dispute"
)

// DisputeService handles the dispute sub-flow: raising disputes and
// submitting evidence batches against disputed reservations.
type DisputeService struct {
	planner  *booking.Planner
	coord    *coordinator.Coordinator
	packager *dispute.Packager
	booking  *BookingService
}

func NewDisputeService(planner *booking.Planner, coord *coordinator.Coordinator, packager *dispute.Packager, bs *BookingService) *DisputeService {
	return &DisputeService{
		planner:  planner,
		coord:    coord,
		packager: packager,
		booking:  bs,
	}
}

// RaiseDispute flags a reservation as disputed
// @Summary Raise a dispute
// @Description Any stakeholder may raise a dispute; funds freeze until resolution
// @Tags disputes
// @Accept json
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param request body actionRequest true "Caller"
// @Success 200 {object} intentResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/dispute [post]
func (s *DisputeService) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	s.booking.bookingAction(w, r, booking.ActionRaiseDispute)
}

// SubmitEvidence uploads evidence files and anchors them on the ledger
// @Summary Submit dispute evidence
// @Description Upload up to 5 files (images, video, PDF; 10MB each) with an optional description; a description alone also qualifies. The manifest reference is anchored on the ledger
// @Tags disputes
// @Accept multipart/form-data
// @Produce json
// @Param bookingId path int true "Booking ID"
// @Param caller formData string true "Submitting stakeholder address"
// @Param description formData string false "Free-text description"
// @Param files formData file false "Evidence files"
// @Success 200 {object} intentResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /bookings/{bookingId}/evidence [post]
func (s *DisputeService) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathID(w, r, "bookingId")
	if !ok {
		return
	}

	// Whole-batch ceiling: 5 files of 10MB plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, int64(dispute.MaxFiles)*dispute.MaxFileSize+1048576)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		SendErrorResponse(w, "Invalid multipart request", http.StatusBadRequest, nil)
		return
	}

	caller := r.FormValue("caller")
	if caller == "" {
		SendErrorResponse(w, "caller is required", http.StatusBadRequest, nil)
		return
	}
	description := r.FormValue("description")

	var files []dispute.Attachment
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			if fh.Size > dispute.MaxFileSize {
				SendErrorResponse(w, "File exceeds the 10MB limit: "+fh.Filename, http.StatusBadRequest, nil)
				return
			}
			f, err := fh.Open()
			if err != nil {
				SendErrorResponse(w, "Failed to read uploaded file", http.StatusBadRequest, nil)
				return
			}
			data, err := io.ReadAll(io.LimitReader(f, dispute.MaxFileSize+1))
			f.Close()
			if err != nil {
				SendErrorResponse(w, "Failed to read uploaded file", http.StatusBadRequest, nil)
				return
			}
			files = append(files, dispute.Attachment{Name: fh.Filename, Data: data})
		}
	}

	snap, err := s.booking.freshSnapshot(r.Context(), bookingID)
	if err != nil {
		SendErrorResponse(w, "Reservation not found", http.StatusNotFound, nil)
		return
	}

	// Check legality before uploading anything: an illegal submission must
	// not leave orphaned files in the content store.
	if _, legal := booking.LegalTransition(snap.State, booking.ActionSubmitEvidence, snap, caller); !legal {
		s.booking.writeRejection(w, booking.NewRejection(booking.RejectIllegalTransition,
			"evidence cannot be submitted for booking %d in state %s by %s", bookingID, snap.State, caller))
		return
	}

	ref, manifest, err := s.packager.Package(r.Context(), bookingID, caller, description, files)
	if err != nil {
		if _, ok := booking.AsRejection(err); ok {
			s.booking.writeRejection(w, err)
			return
		}
		log.Printf("[DISPUTE] Evidence upload failed for booking %d: %v", bookingID, err)
		SendErrorResponse(w, "Evidence upload failed", http.StatusBadGateway, nil)
		return
	}

	intent, err := s.planner.Plan(snap, nil, booking.ActionSubmitEvidence, booking.Inputs{
		Caller:     caller,
		ContentRef: ref,
	})
	if err != nil {
		s.booking.writeRejection(w, err)
		return
	}

	result, err := s.coord.Execute(r.Context(), intent)
	if err != nil {
		s.booking.writeRejection(w, err)
		return
	}

	s.booking.recordSettled(r.Context(), intent, result)
	log.Printf("[DISPUTE] Evidence anchored for booking %d: %s (%d files)", bookingID, ref, len(manifest.Files))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"intentId":    intent.ID,
		"action":      string(intent.Action),
		"bookingId":   bookingID,
		"contentRef":  ref,
		"files":       manifest.Files,
		"outcome":     string(result.Outcome),
		"txHash":      result.TxHash,
		"submittedAt": manifest.SubmittedAt.Format(time.RFC3339),
	})
}

// GetEvidence resolves an evidence manifest from the content store
// @Summary Fetch evidence manifest
// @Tags disputes
// @Produce json
// @Param ref query string true "Manifest content reference"
// @Success 200 {object} dispute.Manifest
// @Failure 404 {object} ErrorResponse
// @Router /disputes/evidence [get]
func (s *DisputeService) GetEvidence(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		SendErrorResponse(w, "ref is required", http.StatusBadRequest, nil)
		return
	}

	data, err := s.packager.Retrieve(r.Context(), ref)
	if err != nil {
		SendErrorResponse(w, "Evidence not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
