package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinataStore(t *testing.T) {
	var gotAuth, gotName string
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotName = header.Filename

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IpfsHash":"QmTest123","PinSize":42}`))
	}))
	defer upload.Close()

	store := NewPinataStore("test-jwt", WithUploadURL(upload.URL))

	ref, err := store.Store(context.Background(), "evidence.jpg", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmTest123", ref)
	assert.Equal(t, "Bearer test-jwt", gotAuth)
	assert.Equal(t, "evidence.jpg", gotName)
}

func TestPinataStoreUploadError(t *testing.T) {
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid JWT", http.StatusUnauthorized)
	}))
	defer upload.Close()

	store := NewPinataStore("bad-jwt", WithUploadURL(upload.URL))

	_, err := store.Store(context.Background(), "evidence.jpg", []byte("payload"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestPinataRetrieve(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/QmTest123", r.URL.Path)
		w.Write([]byte("the content"))
	}))
	defer gateway.Close()

	store := NewPinataStore("jwt", WithGateway(gateway.URL))

	data, err := store.Retrieve(context.Background(), "ipfs://QmTest123")
	require.NoError(t, err)
	assert.Equal(t, []byte("the content"), data)
}
