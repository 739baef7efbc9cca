package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/youmark/pkcs8"
)

// RSAKeyBits is the key size the hybrid envelope layout is fixed to.
const RSAKeyBits = 2048

const (
	pemPrivateKey          = "PRIVATE KEY"
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemRSAPrivateKey       = "RSA PRIVATE KEY"
	pemPublicKey           = "PUBLIC KEY"
)

// GenerateRSAKeyPair creates a new RSA key.
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to generate RSA key: %w", err)
	}
	return key, nil
}

// MarshalPrivateKeyPEM encodes key as PKCS8, encrypted when password is set.
func MarshalPrivateKeyPEM(key *rsa.PrivateKey, password []byte) ([]byte, error) {
	if len(password) == 0 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to encode private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
	}

	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemEncryptedPrivateKey, Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes pub as SubjectPublicKeyInfo.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS8 (optionally encrypted) or PKCS1 key.
func ParsePrivateKeyPEM(data, password []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("vault: no PEM block in private key: %w", ErrFormat)
	}

	switch block.Type {
	case pemEncryptedPrivateKey:
		if len(password) == 0 {
			return nil, fmt.Errorf("vault: private key is password protected: %w", ErrConfig)
		}
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, password)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to decrypt private key: %w", ErrKeyMismatch)
		}
		return key, nil

	case pemPrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to parse private key: %w", ErrFormat)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("vault: private key is not RSA: %w", ErrConfig)
		}
		return key, nil

	case pemRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("vault: failed to parse private key: %w", ErrFormat)
		}
		return key, nil
	}
	return nil, fmt.Errorf("vault: unexpected PEM block %q: %w", block.Type, ErrFormat)
}

// ParsePublicKeyPEM decodes a SubjectPublicKeyInfo RSA key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicKey {
		return nil, fmt.Errorf("vault: no public key PEM block: %w", ErrFormat)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to parse public key: %w", ErrFormat)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("vault: public key is not RSA: %w", ErrConfig)
	}
	return pub, nil
}

// WritePrivateKeyPEM writes key to path with owner-only permissions.
func WritePrivateKeyPEM(path string, key *rsa.PrivateKey, password []byte) error {
	data, err := MarshalPrivateKeyPEM(key, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("vault: failed to create key directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// WritePublicKeyPEM writes pub to path.
func WritePublicKeyPEM(path string, pub *rsa.PublicKey) error {
	data, err := MarshalPublicKeyPEM(pub)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("vault: failed to create key directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ReadPrivateKeyPEM loads a private key file.
func ReadPrivateKeyPEM(path string, password []byte) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read private key %s: %w", path, err)
	}
	return ParsePrivateKeyPEM(data, password)
}

// ReadPublicKeyPEM loads a public key file.
func ReadPublicKeyPEM(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read public key %s: %w", path, err)
	}
	return ParsePublicKeyPEM(data)
}

// Fingerprint returns the first 16 hex chars of sha256 over the public PEM.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	data, err := MarshalPublicKeyPEM(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}
