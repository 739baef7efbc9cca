package vault

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// headerSize covers nonce, f64 timestamp and u32 metadata length.
const headerSize = NonceSize + 8 + 4

// marshalBody lays out nonce | f64 timestamp | u32 metadata_len | metadata | ciphertext.
func marshalBody(nonce []byte, timestamp float64, meta Metadata, ciphertext []byte) ([]byte, error) {
	if meta == nil {
		meta = Metadata{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode metadata: %w", err)
	}

	out := make([]byte, headerSize, headerSize+len(metaJSON)+len(ciphertext))
	copy(out, nonce)
	binary.LittleEndian.PutUint64(out[NonceSize:], math.Float64bits(timestamp))
	binary.LittleEndian.PutUint32(out[NonceSize+8:], uint32(len(metaJSON)))
	out = append(out, metaJSON...)
	out = append(out, ciphertext...)
	return out, nil
}

type body struct {
	nonce      []byte
	timestamp  float64
	metadata   Metadata
	ciphertext []byte
}

// parseBody is the inverse of marshalBody.
func parseBody(data []byte) (*body, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("vault: package shorter than header: %w", ErrFormat)
	}

	metaLen := int(binary.LittleEndian.Uint32(data[NonceSize+8:]))
	if metaLen > len(data)-headerSize {
		return nil, fmt.Errorf("vault: metadata length %d exceeds package: %w", metaLen, ErrFormat)
	}

	b := &body{
		nonce:      data[:NonceSize],
		timestamp:  math.Float64frombits(binary.LittleEndian.Uint64(data[NonceSize:])),
		ciphertext: data[headerSize+metaLen:],
	}
	if err := json.Unmarshal(data[headerSize:headerSize+metaLen], &b.metadata); err != nil {
		return nil, fmt.Errorf("vault: metadata is not valid JSON: %w", ErrFormat)
	}
	return b, nil
}

// PeekMetadata returns the cleartext metadata and seal timestamp of a
// symmetric package or hybrid envelope without decrypting it. The values
// are not authenticated until the file is opened with a key.
func PeekMetadata(data []byte) (Metadata, float64, error) {
	if IsHybrid(data) {
		rest := data[len(HybridMagic):]
		if len(rest) < WrappedKeySize {
			return nil, 0, fmt.Errorf("vault: envelope shorter than wrapped key: %w", ErrFormat)
		}
		data = rest[WrappedKeySize:]
	}
	b, err := parseBody(data)
	if err != nil {
		return nil, 0, err
	}
	return b.metadata, b.timestamp, nil
}
