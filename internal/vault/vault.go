// Package vault seals evidence with AES-256-GCM, either under a long-lived
// master key or under a per-file session key wrapped with RSA-OAEP.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

var hashSeparator = []byte("::")

// Metadata is the JSON object stored in clear next to the ciphertext.
// Producers fill it from a typed struct with a fixed schema.
type Metadata map[string]any

// Contents is the result of opening a sealed file.
type Contents struct {
	Plaintext []byte
	Hash      string
	Timestamp float64
	Metadata  Metadata
}

// Time converts the stored timestamp to a time.Time.
func (c *Contents) Time() time.Time {
	sec := int64(c.Timestamp)
	nsec := int64((c.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Sealer persists plaintext as an encrypted file.
type Sealer interface {
	SealFile(path string, plaintext []byte, meta Metadata) error
}

// Opener reads back a file written by a Sealer.
type Opener interface {
	OpenFile(path string) (*Contents, error)
}

// unixSeconds returns t as fractional seconds since the epoch.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// hashPayload builds hex(sha256(plaintext)) + "::" + plaintext.
func hashPayload(plaintext []byte) ([]byte, string) {
	sum := sha256.Sum256(plaintext)
	hash := hex.EncodeToString(sum[:])

	payload := make([]byte, 0, len(hash)+len(hashSeparator)+len(plaintext))
	payload = append(payload, hash...)
	payload = append(payload, hashSeparator...)
	payload = append(payload, plaintext...)
	return payload, hash
}

// verifyPayload splits a decrypted payload and checks the embedded hash.
func verifyPayload(payload []byte) ([]byte, string, error) {
	idx := bytes.Index(payload, hashSeparator)
	if idx < 0 {
		return nil, "", fmt.Errorf("vault: missing hash separator: %w", ErrIntegrity)
	}
	hash := string(payload[:idx])
	plaintext := payload[idx+len(hashSeparator):]

	sum := sha256.Sum256(plaintext)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, "", fmt.Errorf("vault: hash mismatch: %w", ErrIntegrity)
	}
	return plaintext, hash, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d: %w", KeySize, len(key), ErrConfig)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// encryptPayload hash-prefixes plaintext and seals it under key with a fresh nonce.
func encryptPayload(key, plaintext []byte) (nonce, ciphertext []byte, hash string, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, "", err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, "", fmt.Errorf("vault: failed to generate nonce: %w", err)
	}

	payload, hash := hashPayload(plaintext)
	return nonce, gcm.Seal(nil, nonce, payload, nil), hash, nil
}

// decryptPayload authenticates ciphertext and verifies the embedded hash.
func decryptPayload(key, nonce, ciphertext []byte) ([]byte, string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, "", err
	}
	if len(nonce) != NonceSize {
		return nil, "", fmt.Errorf("vault: nonce must be %d bytes: %w", NonceSize, ErrFormat)
	}

	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, "", fmt.Errorf("vault: %v: %w", err, ErrDecryption)
	}
	return verifyPayload(payload)
}

// writeFileAtomic writes data to a temp file in the target directory and
// moves it into place. An existing file at path is never replaced; the
// error then wraps fs.ErrExist.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// link fails if path exists, unlike rename
	err = os.Link(tmpName, path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("refusing to replace %s: %w", path, fs.ErrExist)
	}

	// Filesystems without hard links
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("refusing to replace %s: %w", path, fs.ErrExist)
	}
	return os.Rename(tmpName, path)
}
