package model

import "time"

// Recording kinds stored in the recordings index.
const (
	KindPublic   = "public"
	KindEvidence = "evidence"
)

// Recording represents one finished file in the recordings index.
type Recording struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Camera     string    `json:"camera"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"filepath"`
	StartTime  time.Time `json:"start_time"`
	FrameCount int       `json:"frame_count"`
	Detections int       `json:"detections"`
	FileSize   int64     `json:"filesize"`
	Classes    []string  `json:"classes"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordingFilter contains filtering options for querying recordings.
type RecordingFilter struct {
	Kind   string
	Camera string
	Class  string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}
