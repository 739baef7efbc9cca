package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 16
	// PBKDF2Iterations is the iteration count used by DeriveKey.
	PBKDF2Iterations = 480000
)

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("vault: failed to generate key: %w", err)
	}
	return key, nil
}

// LoadKey reads a raw key file and checks its length.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read key %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key file %s has %d bytes, want %d: %w", path, len(key), KeySize, ErrConfig)
	}
	return key, nil
}

// SaveKey writes key to path with owner-only permissions.
func SaveKey(path string, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("vault: key must be %d bytes: %w", KeySize, ErrConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("vault: failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return fmt.Errorf("vault: failed to write key: %w", err)
	}
	return nil
}

// LoadOrCreateKey loads the key at path, generating and persisting a new
// one when the file does not exist. The second return value reports whether
// a key was created.
func LoadOrCreateKey(path string) ([]byte, bool, error) {
	key, err := LoadKey(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKey(path, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// NewSalt returns a random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a password into an AES-256 key with PBKDF2-HMAC-SHA256.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("vault: empty password: %w", ErrConfig)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("vault: salt must be at least %d bytes: %w", SaltSize, ErrConfig)
	}
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New), nil
}

// SaltPath is where the PBKDF2 salt of the key at keyPath is kept.
func SaltPath(keyPath string) string {
	return keyPath + ".salt"
}

// LoadSalt reads a salt file written by LoadOrCreateSalt.
func LoadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read salt %s: %w", path, err)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("vault: salt file %s has %d bytes, want %d: %w", path, len(salt), SaltSize, ErrConfig)
	}
	return salt, nil
}

// LoadOrCreateSalt loads the salt at path, creating one when the file does
// not exist. The second return value reports whether a salt was created.
func LoadOrCreateSalt(path string) ([]byte, bool, error) {
	salt, err := LoadSalt(path)
	if err == nil {
		return salt, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	if salt, err = NewSalt(); err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("vault: failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, false, fmt.Errorf("vault: failed to write salt: %w", err)
	}
	return salt, true, nil
}

// KeyFromPassword derives the master key for keyPath from password and the
// salt stored next to it, creating the salt on first use. If a key file
// already exists at keyPath it must equal the derived key.
func KeyFromPassword(password, keyPath string) ([]byte, bool, error) {
	salt, created, err := LoadOrCreateSalt(SaltPath(keyPath))
	if err != nil {
		return nil, false, err
	}
	key, err := DeriveKey(password, salt)
	if err != nil {
		return nil, false, err
	}

	stored, err := LoadKey(keyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, false, err
	case subtle.ConstantTimeCompare(stored, key) != 1:
		return nil, false, fmt.Errorf("vault: password does not match the key at %s: %w", keyPath, ErrConfig)
	}
	return key, created, nil
}
