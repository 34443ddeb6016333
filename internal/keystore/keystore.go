// Package keystore holds the operator's signing key encrypted at rest.
// The key file is AES-GCM sealed under an Argon2id-derived key, so the
// raw private key never touches disk in the clear.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/argon2"
)

const (
	saltLen = 16
	keyLen  = 32
)

// keyFile is the on-disk envelope. Salt and nonce travel with the ciphertext.
type keyFile struct {
	Version    int       `json:"version"`
	Address    string    `json:"address"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// Create generates a fresh signing key and writes it encrypted to path.
// Returns the key and its address.
func Create(path, passphrase string) (*ecdsa.PrivateKey, string, error) {
	if passphrase == "" {
		return nil, "", errors.New("keystore passphrase required")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if err := write(path, passphrase, key, addr); err != nil {
		return nil, "", err
	}
	return key, addr, nil
}

// Load decrypts the key file at path. A wrong passphrase surfaces as a GCM
// open failure.
func Load(path, passphrase string) (*ecdsa.PrivateKey, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read key file: %w", err)
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, "", fmt.Errorf("parse key file: %w", err)
	}

	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, "", fmt.Errorf("invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, "", fmt.Errorf("invalid nonce: %w", err)
	}
	ciphertext, err := hex.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	gcm, err := sealer(passphrase, salt)
	if err != nil {
		return nil, "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, "", errors.New("keystore decryption failed: wrong passphrase or corrupt file")
	}

	key, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("invalid key material: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if kf.Address != "" && kf.Address != addr {
		return nil, "", fmt.Errorf("key file address mismatch: file says %s, key is %s", kf.Address, addr)
	}
	return key, addr, nil
}

// LoadOrCreate loads the key file if present, otherwise creates one.
func LoadOrCreate(path, passphrase string) (*ecdsa.PrivateKey, string, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path, passphrase)
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("stat key file: %w", err)
	}
	return Create(path, passphrase)
}

func write(path, passphrase string, key *ecdsa.PrivateKey, addr string) error {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := sealer(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, crypto.FromECDSA(key), nil)

	kf := keyFile{
		Version:    1,
		Address:    addr,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
		CreatedAt:  time.Now().UTC(),
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create keystore dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0600)
}

func sealer(passphrase string, salt []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey([]byte(passphrase), salt, 3, 32*1024, 4, keyLen)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
