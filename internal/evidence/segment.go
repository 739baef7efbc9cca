package evidence

import (
	"fmt"
	"os"
	"time"

	"edgevision/internal/model"
	"edgevision/internal/vault"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// SegmentFormat names the plaintext serialization inside sealed files.
	SegmentFormat = "msgpack"
	// FileExt is the extension of sealed evidence files.
	FileExt = ".enc"
)

// Record is one buffered evidence frame.
type Record struct {
	JPEG       []byte               `msgpack:"frame_jpg"`
	Detections []model.DetectionBox `msgpack:"detections"`
	Timestamp  float64              `msgpack:"timestamp"`
}

// Time converts the record timestamp back to a time.Time.
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	return time.Unix(sec, int64((r.Timestamp-float64(sec))*1e9))
}

// EncodeSegment serializes records for sealing.
func EncodeSegment(records []Record) ([]byte, error) {
	data, err := msgpack.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode segment: %w", err)
	}
	return data, nil
}

// DecodeSegment is the inverse of EncodeSegment.
func DecodeSegment(data []byte) ([]Record, error) {
	var records []Record
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode segment: %w", err)
	}
	return records, nil
}

// SegmentInfo is the cleartext metadata stored with each evidence file.
type SegmentInfo struct {
	EvidenceID      string
	Camera          string
	FrameCount      int
	StartTime       float64
	EndTime         float64
	TotalDetections int
	JPEGQuality     int
	SyncTimestamp   string
	Sequence        int
	Format          string
}

// Metadata converts the info to the vault's metadata map.
func (s SegmentInfo) Metadata() vault.Metadata {
	return vault.Metadata{
		"evidence_id":      s.EvidenceID,
		"camera":           s.Camera,
		"frame_count":      s.FrameCount,
		"start_time":       s.StartTime,
		"end_time":         s.EndTime,
		"total_detections": s.TotalDetections,
		"jpeg_quality":     s.JPEGQuality,
		"sync_timestamp":   s.SyncTimestamp,
		"sequence":         s.Sequence,
		"format":           s.Format,
	}
}

// ParseSegmentInfo reads the info back from decoded metadata. Unknown or
// missing keys are left at their zero value.
func ParseSegmentInfo(m vault.Metadata) SegmentInfo {
	return SegmentInfo{
		EvidenceID:      str(m["evidence_id"]),
		Camera:          str(m["camera"]),
		FrameCount:      int(num(m["frame_count"])),
		StartTime:       num(m["start_time"]),
		EndTime:         num(m["end_time"]),
		TotalDetections: int(num(m["total_detections"])),
		JPEGQuality:     int(num(m["jpeg_quality"])),
		SyncTimestamp:   str(m["sync_timestamp"]),
		Sequence:        int(num(m["sequence"])),
		Format:          str(m["format"]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Segment is a decrypted evidence file.
type Segment struct {
	Info     SegmentInfo
	Records  []Record
	Hash     string
	SealedAt time.Time
}

// OpenFile decrypts and decodes the evidence file at path. Either vault may
// be nil; cryptographic failures are returned unchanged so callers can
// match them with errors.Is.
func OpenFile(path string, symmetric *vault.SecureVault, hybrid *vault.HybridVault) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence file: %w", err)
	}

	contents, err := vault.OpenAny(data, symmetric, hybrid)
	if err != nil {
		return nil, err
	}

	records, err := DecodeSegment(contents.Plaintext)
	if err != nil {
		return nil, err
	}
	return &Segment{
		Info:     ParseSegmentInfo(contents.Metadata),
		Records:  records,
		Hash:     contents.Hash,
		SealedAt: contents.Time(),
	}, nil
}
