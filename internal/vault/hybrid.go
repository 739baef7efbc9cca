package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"os"
	"time"
)

// HybridMagic prefixes every hybrid envelope.
var HybridMagic = []byte("HYBRID1\x00")

// WrappedKeySize is the RSA-2048 OAEP output length.
const WrappedKeySize = 256

// HybridVault wraps a fresh AES-256 session key per file with RSA-OAEP.
// A vault built with only a public key can seal but not open.
type HybridVault struct {
	public  *rsa.PublicKey
	private *rsa.PrivateKey
	now     func() time.Time
}

// NewHybridVault builds a vault from a public key, a private key, or both.
// When only the private key is given its public half is used for sealing.
func NewHybridVault(public *rsa.PublicKey, private *rsa.PrivateKey) (*HybridVault, error) {
	if public == nil && private == nil {
		return nil, fmt.Errorf("vault: hybrid vault needs a key: %w", ErrConfig)
	}
	if public == nil {
		public = &private.PublicKey
	}
	if public.Size() != WrappedKeySize {
		return nil, fmt.Errorf("vault: RSA key is %d bits, want 2048: %w", public.N.BitLen(), ErrConfig)
	}
	return &HybridVault{public: public, private: private, now: time.Now}, nil
}

// LoadHybridEncryptor builds a seal-only vault from a public key PEM file.
func LoadHybridEncryptor(publicKeyPath string) (*HybridVault, error) {
	pub, err := ReadPublicKeyPEM(publicKeyPath)
	if err != nil {
		return nil, err
	}
	return NewHybridVault(pub, nil)
}

// LoadHybridDecryptor builds a vault from a private key PEM file, which may
// be password protected.
func LoadHybridDecryptor(privateKeyPath string, password []byte) (*HybridVault, error) {
	priv, err := ReadPrivateKeyPEM(privateKeyPath, password)
	if err != nil {
		return nil, err
	}
	return NewHybridVault(nil, priv)
}

// CanDecrypt reports whether the vault holds a private key.
func (v *HybridVault) CanDecrypt() bool {
	return v.private != nil
}

// PublicKey returns the sealing key.
func (v *HybridVault) PublicKey() *rsa.PublicKey {
	return v.public
}

// IsHybrid reports whether data starts with the hybrid magic header.
func IsHybrid(data []byte) bool {
	return bytes.HasPrefix(data, HybridMagic)
}

// Lock seals plaintext into a hybrid envelope.
func (v *HybridVault) Lock(plaintext []byte, meta Metadata) ([]byte, error) {
	sessionKey, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, v.public, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to wrap session key: %w", err)
	}

	nonce, ciphertext, _, err := encryptPayload(sessionKey, plaintext)
	if err != nil {
		return nil, err
	}

	b, err := marshalBody(nonce, unixSeconds(v.now()), meta, ciphertext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(HybridMagic)+len(wrapped)+len(b))
	out = append(out, HybridMagic...)
	out = append(out, wrapped...)
	out = append(out, b...)
	return out, nil
}

// Unlock opens a hybrid envelope with the private key.
func (v *HybridVault) Unlock(data []byte) (*Contents, error) {
	if !IsHybrid(data) {
		return nil, fmt.Errorf("vault: missing hybrid header: %w", ErrFormat)
	}
	if v.private == nil {
		return nil, fmt.Errorf("vault: private key required to open envelope: %w", ErrConfig)
	}

	rest := data[len(HybridMagic):]
	if len(rest) < WrappedKeySize {
		return nil, fmt.Errorf("vault: envelope shorter than wrapped key: %w", ErrFormat)
	}

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), nil, v.private, rest[:WrappedKeySize], nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to unwrap session key: %w", ErrKeyMismatch)
	}

	b, err := parseBody(rest[WrappedKeySize:])
	if err != nil {
		return nil, err
	}

	plaintext, hash, err := decryptPayload(sessionKey, b.nonce, b.ciphertext)
	if err != nil {
		return nil, err
	}
	return &Contents{
		Plaintext: plaintext,
		Hash:      hash,
		Timestamp: b.timestamp,
		Metadata:  b.metadata,
	}, nil
}

// SealFile seals plaintext into path.
func (v *HybridVault) SealFile(path string, plaintext []byte, meta Metadata) error {
	data, err := v.Lock(plaintext, meta)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("vault: failed to write %s: %w", path, err)
	}
	return nil
}

// OpenFile opens the envelope stored at path.
func (v *HybridVault) OpenFile(path string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read %s: %w", path, err)
	}
	return v.Unlock(data)
}

// OpenAny opens data with whichever vault matches its header. Either vault
// may be nil if that kind of key is not available.
func OpenAny(data []byte, symmetric *SecureVault, hybrid *HybridVault) (*Contents, error) {
	if IsHybrid(data) {
		if hybrid == nil {
			return nil, fmt.Errorf("vault: hybrid envelope but no private key loaded: %w", ErrConfig)
		}
		return hybrid.Unlock(data)
	}
	if symmetric == nil {
		return nil, fmt.Errorf("vault: symmetric package but no master key loaded: %w", ErrConfig)
	}
	return symmetric.Open(data)
}
