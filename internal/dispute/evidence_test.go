package dispute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewizard26/rebnb-hack/internal/booking"
)

// Minimal valid payloads per format.
var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x00}, 32)...)
	pngBytes  = append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0x00}, 32)...)
	pdfBytes  = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0x20}, 32)...)
	mp4Bytes  = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, bytes.Repeat([]byte{0x00}, 32)...)
	textBytes = []byte("just some plain text, not evidence material")
)

type memStore struct {
	storeCalls int
	stored     map[string][]byte
	failOn     string
}

func newMemStore() *memStore {
	return &memStore{stored: make(map[string][]byte)}
}

func (m *memStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	m.storeCalls++
	if m.failOn != "" && m.failOn == name {
		return "", fmt.Errorf("store unavailable")
	}
	ref := "ref-" + name
	m.stored[ref] = data
	return ref, nil
}

func (m *memStore) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	data, ok := m.stored[ref]
	if !ok {
		return nil, fmt.Errorf("not found: %s", ref)
	}
	return data, nil
}

func TestValidateAttachments(t *testing.T) {
	t.Run("accepts allowed types", func(t *testing.T) {
		types, rej := ValidateAttachments([]Attachment{
			{Name: "photo.jpg", Data: jpegBytes},
			{Name: "screenshot.png", Data: pngBytes},
			{Name: "receipt.pdf", Data: pdfBytes},
			{Name: "walkthrough.mp4", Data: mp4Bytes},
		})
		require.Nil(t, rej)
		assert.Equal(t, []string{"image/jpeg", "image/png", "application/pdf", "video/mp4"}, types)
	})

	t.Run("accepts empty batch", func(t *testing.T) {
		types, rej := ValidateAttachments(nil)
		require.Nil(t, rej)
		assert.Empty(t, types)
	})

	t.Run("rejects more than five files", func(t *testing.T) {
		files := make([]Attachment, 6)
		for i := range files {
			files[i] = Attachment{Name: fmt.Sprintf("f%d.jpg", i), Data: jpegBytes}
		}
		_, rej := ValidateAttachments(files)
		require.NotNil(t, rej)
		assert.Equal(t, booking.RejectInvalidEvidence, rej.Code)
		assert.Contains(t, rej.Reason, "too many files")
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		big := make([]byte, MaxFileSize+1)
		copy(big, jpegBytes)
		_, rej := ValidateAttachments([]Attachment{{Name: "huge.jpg", Data: big}})
		require.NotNil(t, rej)
		assert.Contains(t, rej.Reason, "maximum")
	})

	t.Run("rejects disallowed type", func(t *testing.T) {
		_, rej := ValidateAttachments([]Attachment{{Name: "notes.txt", Data: textBytes}})
		require.NotNil(t, rej)
		assert.Contains(t, rej.Reason, "unsupported type")
	})

	t.Run("sniffs type from bytes regardless of name", func(t *testing.T) {
		// A text payload named .jpg must still be rejected.
		_, rej := ValidateAttachments([]Attachment{{Name: "fake.jpg", Data: textBytes}})
		require.NotNil(t, rej)
	})
}

func TestPackagerPackage(t *testing.T) {
	store := newMemStore()
	pkg := NewPackager(store)

	ref, manifest, err := pkg.Package(context.Background(), 7, "0xcccc", "broken faucet", []Attachment{
		{Name: "faucet.jpg", Data: jpegBytes},
		{Name: "invoice.pdf", Data: pdfBytes},
	})
	require.NoError(t, err)
	require.NotNil(t, manifest)

	// Two files plus the manifest itself.
	assert.Equal(t, 3, store.storeCalls)
	assert.Len(t, manifest.Files, 2)
	assert.Equal(t, uint64(7), manifest.BookingID)
	assert.Equal(t, "application/pdf", manifest.Files[1].ContentType)

	// The reference resolves back to the manifest document.
	raw, err := store.Retrieve(context.Background(), ref)
	require.NoError(t, err)
	var got Manifest
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, manifest.Files, got.Files)
}

func TestPackagerDescriptionOnly(t *testing.T) {
	store := newMemStore()
	pkg := NewPackager(store)

	ref, manifest, err := pkg.Package(context.Background(), 7, "0xcccc", "owner never returned deposit", nil)
	require.NoError(t, err)
	require.NotNil(t, manifest)

	// Only the manifest is uploaded; its file list is empty.
	assert.Equal(t, 1, store.storeCalls)
	assert.Empty(t, manifest.Files)
	assert.Equal(t, "owner never returned deposit", manifest.Description)

	raw, err := store.Retrieve(context.Background(), ref)
	require.NoError(t, err)
	var got Manifest
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, manifest.Description, got.Description)
}

func TestPackagerRejectsEmptySubmission(t *testing.T) {
	store := newMemStore()
	pkg := NewPackager(store)

	_, _, err := pkg.Package(context.Background(), 7, "0xcccc", "   ", nil)
	require.Error(t, err)

	rej, ok := booking.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, booking.RejectInvalidEvidence, rej.Code)
	assert.Equal(t, 0, store.storeCalls)
}

func TestPackagerRejectsBeforeUpload(t *testing.T) {
	store := newMemStore()
	pkg := NewPackager(store)

	files := make([]Attachment, 6)
	for i := range files {
		files[i] = Attachment{Name: fmt.Sprintf("f%d.jpg", i), Data: jpegBytes}
	}
	_, _, err := pkg.Package(context.Background(), 7, "0xcccc", "", files)
	require.Error(t, err)

	rej, ok := booking.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, booking.RejectInvalidEvidence, rej.Code)

	// Invalid batch never touched the store.
	assert.Equal(t, 0, store.storeCalls)
}

func TestPackagerUploadFailure(t *testing.T) {
	store := newMemStore()
	store.failOn = "dispute-7-0-faucet.jpg"
	pkg := NewPackager(store)

	_, _, err := pkg.Package(context.Background(), 7, "0xcccc", "", []Attachment{
		{Name: "faucet.jpg", Data: jpegBytes},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload evidence file")
}
