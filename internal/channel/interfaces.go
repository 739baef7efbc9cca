package channel

import (
	"errors"
	"time"

	"edgevision/internal/model"
)

// ErrSource marks a camera or stream that could not be opened or read.
var ErrSource = errors.New("source unavailable")

// Source is an open capture handle.
type Source interface {
	Read() (model.Frame, error)
	Close() error
}

// SourceOpener opens capture sources by their configured address.
type SourceOpener interface {
	Open(source string) (Source, error)
}

// Detector finds faces or people in a frame. Implementations must be safe
// for concurrent use and keep no state between calls.
type Detector interface {
	Detect(frame model.Frame) ([]model.DetectionBox, error)
}

// Anonymizer normalizes frames to the output geometry and blurs regions.
// Blur must return a new frame and leave its input untouched.
type Anonymizer interface {
	Normalize(frame model.Frame) (model.Frame, error)
	Blur(frame model.Frame, detections []model.DetectionBox) (model.Frame, error)
}

// VideoRecorder receives the anonymized frames.
type VideoRecorder interface {
	Write(frame model.Frame, detections []model.DetectionBox) error
	Rotate()
	Finalize()
	Close()
	CurrentFile() string
	SyncTimestamp() string
}

// EvidenceSink receives the raw frames.
type EvidenceSink interface {
	Add(frame model.Frame, detections []model.DetectionBox, ts time.Time, syncTimestamp string) error
	FlushNow()
	Close()
}
