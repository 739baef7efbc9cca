package model

import "time"

// ChannelStatus is the liveness state of a camera channel.
type ChannelStatus string

const (
	StatusConnecting ChannelStatus = "connecting"
	StatusOnline     ChannelStatus = "online"
	StatusOffline    ChannelStatus = "offline"
)

// ChannelSnapshot is a read-only copy of a channel's state.
type ChannelSnapshot struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	Source      string        `json:"source"`
	Status      ChannelStatus `json:"status"`
	FPS         float64       `json:"fps"`
	Detections  int           `json:"detections"`
	Frames      int64         `json:"frames"`
	LastFrameAt time.Time     `json:"last_frame_at"`
}
