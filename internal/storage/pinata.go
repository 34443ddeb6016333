// Package storage provides the IPFS-backed content store used for dispute
// evidence, via the Pinata pinning API.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultUploadURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultGateway   = "https://gateway.pinata.cloud/ipfs"
)

// PinataStore implements ledger.ContentStore against the Pinata API. Stored
// content is addressed by its IPFS CID, so references are deterministic for
// identical bytes.
type PinataStore struct {
	jwt       string
	uploadURL string
	gateway   string
	client    *http.Client
}

type Option func(*PinataStore)

// WithUploadURL overrides the pinning endpoint. Used in tests.
func WithUploadURL(url string) Option {
	return func(p *PinataStore) { p.uploadURL = url }
}

// WithGateway overrides the retrieval gateway.
func WithGateway(url string) Option {
	return func(p *PinataStore) { p.gateway = strings.TrimSuffix(url, "/") }
}

func NewPinataStore(jwt string, opts ...Option) *PinataStore {
	p := &PinataStore{
		jwt:       jwt,
		uploadURL: defaultUploadURL,
		gateway:   defaultGateway,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int    `json:"PinSize"`
}

// Store pins the payload and returns its ipfs:// reference.
func (p *PinataStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}

	meta, _ := json.Marshal(map[string]string{"name": name})
	if err := writer.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pinata upload failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pinata response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata response missing hash")
	}
	return "ipfs://" + out.IpfsHash, nil
}

// Retrieve fetches previously stored content through the gateway.
func (p *PinataStore) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	cid := strings.TrimPrefix(ref, "ipfs://")
	url := fmt.Sprintf("%s/%s", p.gateway, cid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway fetch failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
