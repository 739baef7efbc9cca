package vault

import "errors"

var (
	// ErrIntegrity is returned when the embedded hash does not match the
	// decrypted payload, or the payload is not in hash::data form.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrDecryption is returned when AEAD authentication fails.
	ErrDecryption = errors.New("decryption failed")

	// ErrKeyMismatch is returned when the RSA private key cannot unwrap the
	// session key of a hybrid envelope.
	ErrKeyMismatch = errors.New("private key does not match envelope")

	// ErrFormat is returned for input that is not a well-formed package.
	ErrFormat = errors.New("invalid package format")

	// ErrConfig is returned for unusable key material.
	ErrConfig = errors.New("invalid key configuration")
)
