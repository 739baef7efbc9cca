package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *SecureVault {
	t.Helper()
	v, err := NewSecureVault(filepath.Join(t.TempDir(), "keys", "master.key"))
	require.NoError(t, err)
	return v
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestSecureVault_LockUnlock(t *testing.T) {
	v := newTestVault(t)
	plaintext := []byte("evidence frame bytes")

	pkg, err := v.Lock(plaintext, Metadata{"camera": "cam0"})
	require.NoError(t, err)
	assert.Len(t, pkg.Nonce, NonceSize)
	assert.Equal(t, sha256Hex(plaintext), pkg.Hash)
	assert.NotContains(t, string(pkg.Ciphertext), "evidence")

	got, hash, err := v.Unlock(pkg)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
	assert.Equal(t, sha256Hex(plaintext), hash)
}

func TestSecureVault_EmptyPlaintext(t *testing.T) {
	v := newTestVault(t)

	data, err := v.Seal(nil, nil)
	require.NoError(t, err)

	c, err := v.Open(data)
	require.NoError(t, err)
	assert.Empty(t, c.Plaintext)
	assert.Equal(t, sha256Hex(nil), c.Hash)
}

func TestSecureVault_EndToEndOneMiB(t *testing.T) {
	v := newTestVault(t)
	plaintext := make([]byte, 1<<20)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "evidence.enc")
	require.NoError(t, v.SealFile(path, plaintext, Metadata{"frame_count": 3}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	c, err := v.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, plaintext, c.Plaintext)
	assert.Equal(t, float64(3), c.Metadata["frame_count"])
	assert.False(t, c.Time().IsZero())
}

func TestSealFileNeverReplaces(t *testing.T) {
	v := newTestVault(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.enc")
	require.NoError(t, v.SealFile(path, []byte("first"), nil))

	err := v.SealFile(path, []byte("second"), nil)
	assert.ErrorIs(t, err, fs.ErrExist)

	c, err := v.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), c.Plaintext)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSecureVault_FileLayout(t *testing.T) {
	v := newTestVault(t)

	data, err := v.Seal([]byte("abc"), Metadata{"k": "v"})
	require.NoError(t, err)

	meta := `{"k":"v"}`
	assert.Equal(t, uint8(len(meta)), data[NonceSize+8])
	assert.Equal(t, meta, string(data[headerSize:headerSize+len(meta)]))

	pkg, err := ParsePackage(data)
	require.NoError(t, err)
	assert.Equal(t, data[:NonceSize], pkg.Nonce)
	assert.Equal(t, "v", pkg.Metadata["k"])
}

func TestSecureVault_WrongKey(t *testing.T) {
	v1 := newTestVault(t)
	v2 := newTestVault(t)

	pkg, err := v1.Lock([]byte("secret"), nil)
	require.NoError(t, err)

	_, _, err = v2.Unlock(pkg)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestSecureVault_TamperEveryBit(t *testing.T) {
	v := newTestVault(t)

	pkg, err := v.Lock([]byte("short plaintext"), nil)
	require.NoError(t, err)

	flip := func(b []byte, bit int) []byte {
		c := append([]byte(nil), b...)
		c[bit/8] ^= 1 << (bit % 8)
		return c
	}

	for bit := 0; bit < len(pkg.Nonce)*8; bit++ {
		tampered := &Package{Nonce: flip(pkg.Nonce, bit), Ciphertext: pkg.Ciphertext}
		_, _, err := v.Unlock(tampered)
		require.ErrorIs(t, err, ErrDecryption, "nonce bit %d", bit)
	}
	for bit := 0; bit < len(pkg.Ciphertext)*8; bit++ {
		tampered := &Package{Nonce: pkg.Nonce, Ciphertext: flip(pkg.Ciphertext, bit)}
		_, _, err := v.Unlock(tampered)
		require.ErrorIs(t, err, ErrDecryption, "ciphertext bit %d", bit)
	}
}

func TestSecureVault_TruncateAndAppend(t *testing.T) {
	v := newTestVault(t)

	data, err := v.Seal([]byte("payload"), Metadata{"camera": "cam1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"appended byte", append(append([]byte(nil), data...), 0x00)},
		{"last byte dropped", data[:len(data)-1]},
		{"header only", data[:headerSize]},
		{"half header", data[:headerSize/2]},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.Open(tt.data)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestSecureVault_IntegrityMismatch(t *testing.T) {
	v := newTestVault(t)

	// A payload whose embedded hash is wrong but whose AEAD tag is valid.
	gcm, err := newGCM(v.key)
	require.NoError(t, err)
	nonce := make([]byte, NonceSize)
	bad := []byte(sha256Hex([]byte("other")) + "::" + "actual")
	pkg := &Package{Nonce: nonce, Ciphertext: gcm.Seal(nil, nonce, bad, nil)}

	_, _, err = v.Unlock(pkg)
	assert.ErrorIs(t, err, ErrIntegrity)

	noSep := &Package{Nonce: nonce, Ciphertext: gcm.Seal(nil, nonce, []byte("no separator"), nil)}
	_, _, err = v.Unlock(noSep)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	key, created, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, key, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, created, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key, again)
}

func TestLoadKey_WrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.key")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0600))

	_, err := LoadKey(path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewSecureVault(path)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSecureVault_IdempotentKeyLoading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")

	v1, err := NewSecureVault(path)
	require.NoError(t, err)
	v2, err := NewSecureVault(path)
	require.NoError(t, err)

	data, err := v1.Seal([]byte("cross"), nil)
	require.NoError(t, err)
	c, err := v2.Open(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("cross"), c.Plaintext)

	data, err = v2.Seal([]byte("back"), nil)
	require.NoError(t, err)
	c, err = v1.Open(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("back"), c.Plaintext)
}

func TestDeriveKey(t *testing.T) {
	salt := make([]byte, SaltSize)

	k1, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse", salt)
	require.NoError(t, err)
	k3, err := DeriveKey("battery staple", salt)
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("", salt)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = DeriveKey("pw", []byte("short"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestKeyFromPassword(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "master.key")

	k1, created, err := KeyFromPassword("correct horse", keyPath)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, k1, KeySize)
	assert.NoFileExists(t, keyPath, "a derived key stays off disk")

	st, err := os.Stat(SaltPath(keyPath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), st.Mode().Perm())

	k2, created, err := KeyFromPassword("correct horse", keyPath)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, k1, k2, "the stored salt makes the key reproducible")

	// A key file that was derived earlier must agree with the password
	require.NoError(t, SaveKey(keyPath, k1))
	_, _, err = KeyFromPassword("correct horse", keyPath)
	require.NoError(t, err)
	_, _, err = KeyFromPassword("battery staple", keyPath)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadSaltRejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key.salt")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, _, err := LoadOrCreateSalt(path)
	assert.ErrorIs(t, err, ErrConfig)
}
