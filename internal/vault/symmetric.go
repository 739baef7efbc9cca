package vault

import (
	"fmt"
	"os"
	"time"
)

// Package is an encrypted payload before file serialization.
type Package struct {
	Nonce      []byte
	Ciphertext []byte
	Hash       string
	Timestamp  float64
	Metadata   Metadata
}

// SecureVault encrypts with a single long-lived master key.
type SecureVault struct {
	key []byte
	now func() time.Time
}

// NewSecureVault loads the master key from keyPath, creating it if missing.
func NewSecureVault(keyPath string) (*SecureVault, error) {
	key, _, err := LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return NewSecureVaultWithKey(key)
}

// NewSecureVaultWithKey builds a vault around an existing key.
func NewSecureVaultWithKey(key []byte) (*SecureVault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d: %w", KeySize, len(key), ErrConfig)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &SecureVault{key: k, now: time.Now}, nil
}

// Lock encrypts plaintext into a Package.
func (v *SecureVault) Lock(plaintext []byte, meta Metadata) (*Package, error) {
	nonce, ciphertext, hash, err := encryptPayload(v.key, plaintext)
	if err != nil {
		return nil, err
	}
	return &Package{
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Hash:       hash,
		Timestamp:  unixSeconds(v.now()),
		Metadata:   meta,
	}, nil
}

// Unlock decrypts a Package and returns the plaintext with its verified hash.
func (v *SecureVault) Unlock(pkg *Package) ([]byte, string, error) {
	if pkg == nil {
		return nil, "", fmt.Errorf("vault: nil package: %w", ErrFormat)
	}
	return decryptPayload(v.key, pkg.Nonce, pkg.Ciphertext)
}

// Marshal serializes a Package into the on-disk layout.
func (p *Package) Marshal() ([]byte, error) {
	return marshalBody(p.Nonce, p.Timestamp, p.Metadata, p.Ciphertext)
}

// ParsePackage reads a Package from the on-disk layout. The hash is only
// known after Unlock.
func ParsePackage(data []byte) (*Package, error) {
	b, err := parseBody(data)
	if err != nil {
		return nil, err
	}
	return &Package{
		Nonce:      b.nonce,
		Ciphertext: b.ciphertext,
		Timestamp:  b.timestamp,
		Metadata:   b.metadata,
	}, nil
}

// Seal encrypts plaintext and returns the serialized file bytes.
func (v *SecureVault) Seal(plaintext []byte, meta Metadata) ([]byte, error) {
	pkg, err := v.Lock(plaintext, meta)
	if err != nil {
		return nil, err
	}
	return pkg.Marshal()
}

// Open parses and decrypts serialized file bytes.
func (v *SecureVault) Open(data []byte) (*Contents, error) {
	pkg, err := ParsePackage(data)
	if err != nil {
		return nil, err
	}
	plaintext, hash, err := v.Unlock(pkg)
	if err != nil {
		return nil, err
	}
	return &Contents{
		Plaintext: plaintext,
		Hash:      hash,
		Timestamp: pkg.Timestamp,
		Metadata:  pkg.Metadata,
	}, nil
}

// SealFile encrypts plaintext into path.
func (v *SecureVault) SealFile(path string, plaintext []byte, meta Metadata) error {
	data, err := v.Seal(plaintext, meta)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("vault: failed to write %s: %w", path, err)
	}
	return nil
}

// OpenFile decrypts the file at path.
func (v *SecureVault) OpenFile(path string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read %s: %w", path, err)
	}
	return v.Open(data)
}
