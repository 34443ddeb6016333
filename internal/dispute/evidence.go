// Package dispute handles evidence intake for disputed reservations:
// validation of attachments and packaging into the content store.
package dispute

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
)

const (
	MaxFiles    = 5
	MaxFileSize = 10 << 20 // 10 MB per file
)

// Evidence may be photos, recordings, or documents. Anything else is
// rejected before upload.
var allowedMIME = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"video/quicktime": true,
	"video/webm":      true,
	"application/pdf": true,
}

// Attachment is one evidence file as received from the client.
type Attachment struct {
	Name string
	Data []byte
}

// Manifest is the JSON document anchored on the ledger; it lists every
// uploaded file by content reference.
type Manifest struct {
	BookingID   uint64         `json:"booking_id"`
	Submitter   string         `json:"submitter"`
	Description string         `json:"description,omitempty"`
	Files       []ManifestFile `json:"files"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

type ManifestFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Ref         string `json:"ref"`
}

// ValidateAttachments enforces the evidence limits: at most MaxFiles files,
// each under MaxFileSize, each of an allowed content type. Content type is
// sniffed from the bytes, not trusted from the client. An empty list is
// valid; a submission may carry a description alone.
func ValidateAttachments(files []Attachment) ([]string, *booking.Rejection) {
	if len(files) > MaxFiles {
		return nil, booking.NewRejection(booking.RejectInvalidEvidence,
			"too many files: %d (maximum %d)", len(files), MaxFiles)
	}

	contentTypes := make([]string, len(files))
	for i, f := range files {
		if len(f.Data) == 0 {
			return nil, booking.NewRejection(booking.RejectInvalidEvidence, "file %q is empty", f.Name)
		}
		if len(f.Data) > MaxFileSize {
			return nil, booking.NewRejection(booking.RejectInvalidEvidence,
				"file %q is %d bytes (maximum %d)", f.Name, len(f.Data), MaxFileSize)
		}
		ct := detectContentType(f.Data)
		if !allowedMIME[ct] {
			return nil, booking.NewRejection(booking.RejectInvalidEvidence,
				"file %q has unsupported type %s", f.Name, ct)
		}
		contentTypes[i] = ct
	}
	return contentTypes, nil
}

// detectContentType sniffs the type from the payload. http.DetectContentType
// does not know PDF or some video containers, so those are checked by magic
// bytes first.
func detectContentType(data []byte) string {
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return "application/pdf"
	}
	if len(data) >= 12 {
		switch string(data[4:12]) {
		case "ftypisom", "ftypmp42", "ftypmp41", "ftypMSNV":
			return "video/mp4"
		case "ftypqt  ":
			return "video/quicktime"
		}
	}
	if len(data) >= 4 && string(data[:4]) == "\x1A\x45\xDF\xA3" {
		return "video/webm"
	}
	return http.DetectContentType(data)
}

// Packager uploads validated evidence and produces the manifest reference
// that the submitEvidence ledger call anchors.
type Packager struct {
	store ledger.ContentStore
}

func NewPackager(store ledger.ContentStore) *Packager {
	return &Packager{store: store}
}

// Retrieve resolves a stored reference, typically a manifest.
func (p *Packager) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	return p.store.Retrieve(ctx, ref)
}

// Package validates, uploads each file, then uploads a manifest listing them
// all. The returned reference points at the manifest. Validation happens
// before any upload, so an invalid batch never touches the store. Files are
// optional; a submission must carry a description or at least one file.
func (p *Packager) Package(ctx context.Context, bookingID uint64, submitter, description string, files []Attachment) (string, *Manifest, error) {
	if len(files) == 0 && strings.TrimSpace(description) == "" {
		return "", nil, booking.NewRejection(booking.RejectInvalidEvidence,
			"evidence needs a description or at least one file")
	}
	contentTypes, rej := ValidateAttachments(files)
	if rej != nil {
		return "", nil, rej
	}

	manifest := &Manifest{
		BookingID:   bookingID,
		Submitter:   submitter,
		Description: description,
		Files:       make([]ManifestFile, 0, len(files)),
		SubmittedAt: time.Now().UTC(),
	}

	for i, f := range files {
		name := fmt.Sprintf("dispute-%d-%d-%s", bookingID, i, f.Name)
		ref, err := p.store.Store(ctx, name, f.Data)
		if err != nil {
			return "", nil, fmt.Errorf("upload evidence file %q: %w", f.Name, err)
		}
		manifest.Files = append(manifest.Files, ManifestFile{
			Name:        f.Name,
			ContentType: contentTypes[i],
			Size:        len(f.Data),
			Ref:         ref,
		})
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return "", nil, err
	}
	ref, err := p.store.Store(ctx, fmt.Sprintf("dispute-%d-manifest.json", bookingID), data)
	if err != nil {
		return "", nil, fmt.Errorf("upload evidence manifest: %w", err)
	}
	return ref, manifest, nil
}
