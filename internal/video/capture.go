package video

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"edgevision/internal/channel"
	"edgevision/internal/model"

	"gocv.io/x/gocv"
)

// CaptureOpener opens local devices and network streams with OpenCV.
type CaptureOpener struct{}

// Open accepts a device index ("0") or any URL or path OpenCV understands.
func (CaptureOpener) Open(source string) (channel.Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, ok := DeviceID(source); ok {
		vc, err = gocv.OpenVideoCapture(id)
	} else {
		vc, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v: %w", source, err, channel.ErrSource)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture %s is not opened: %w", source, channel.ErrSource)
	}

	// Keep latency low: only the newest frame is buffered.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &capture{vc: vc, mat: gocv.NewMat(), source: source}, nil
}

// DeviceID reports whether source names a local camera index.
func DeviceID(source string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(source))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

type capture struct {
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	source string
}

func (c *capture) Read() (model.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return model.Frame{}, fmt.Errorf("failed to read frame from %s: %w", c.source, channel.ErrSource)
	}
	return fromMat(c.mat, time.Now())
}

func (c *capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}
