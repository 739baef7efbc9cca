package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PreflightFrames is the number of blank frames written when a file is
// opened to prove the codec works. They stay at the start of the video.
const PreflightFrames = 1

// DetectionEvent lists the distinct classes seen in one frame. Frame is the
// index in the decoded video, so it already counts the preflight frames.
type DetectionEvent struct {
	Frame   int      `json:"f"`
	Classes []string `json:"c"`
}

// Sidecar is the JSON document written next to each finished video.
// TotalFrames counts recorded camera frames; the video holds
// PreflightFrames more.
type Sidecar struct {
	Filename        string           `json:"filename"`
	FPS             float64          `json:"fps"`
	TotalFrames     int              `json:"total_frames"`
	PreflightFrames int              `json:"preflight_frames"`
	Detections      []DetectionEvent `json:"detections"`
}

// SidecarPath returns the sidecar location for a video file.
func SidecarPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".json"
}

func writeSidecar(path string, sc Sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads the sidecar stored next to videoPath.
func ReadSidecar(videoPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(videoPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	return &sc, nil
}

// ParseFilename extracts the camera prefix and start time from a video name
// such as cam0_20260301_080000.mp4 or cam0_20260301_080000_2.avi. The time
// is interpreted in loc.
func ParseFilename(name string, loc *time.Location) (string, time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	parts := strings.Split(base, "_")

	// A trailing collision counter follows the time field.
	if len(parts) >= 4 && len(parts[len(parts)-1]) != 6 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			parts = parts[:len(parts)-1]
		}
	}
	if len(parts) < 3 {
		return "", time.Time{}, fmt.Errorf("invalid recording name: %s", name)
	}

	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	start, err := time.ParseInLocation(TimestampLayout, stamp, loc)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in %s: %w", name, err)
	}
	return strings.Join(parts[:len(parts)-2], "_"), start, nil
}
