package video

import (
	"testing"
	"time"

	"edgevision/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h int) model.Frame {
	f := model.BlankFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				i := (y*w + x) * 3
				f.Data[i], f.Data[i+1], f.Data[i+2] = 255, 255, 255
			}
		}
	}
	return f
}

func pixel(f model.Frame, x, y int) []byte {
	i := (y*f.Width + x) * 3
	return f.Data[i : i+3]
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		source string
		id     int
		ok     bool
	}{
		{"0", 0, true},
		{" 2 ", 2, true},
		{"-1", 0, false},
		{"rtsp://10.0.0.5/stream", 0, false},
		{"/dev/video0", 0, false},
	}
	for _, tt := range tests {
		id, ok := DeviceID(tt.source)
		assert.Equal(t, tt.ok, ok, tt.source)
		assert.Equal(t, tt.id, id, tt.source)
	}
}

func TestJPEGRoundTrip(t *testing.T) {
	frame := model.BlankFrame(32, 16)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	data, err := JPEGCodec{}.EncodeJPEG(frame, 90)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	decoded, err := JPEGCodec{}.DecodeJPEG(data, ts)
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Width)
	assert.Equal(t, 16, decoded.Height)
	assert.Equal(t, ts, decoded.Captured)
}

func TestEncodeRejectsEmptyFrame(t *testing.T) {
	_, err := JPEGCodec{}.EncodeJPEG(model.Frame{}, 90)
	assert.Error(t, err)
}

func TestNormalizeCropsToOutputSize(t *testing.T) {
	a := NewAnonymizer(32, 18, 5)
	frame := checkerboard(64, 48)
	frame.Captured = time.Now()

	out, err := a.Normalize(frame)
	require.NoError(t, err)
	assert.Equal(t, 32, out.Width)
	assert.Equal(t, 18, out.Height)
	assert.Len(t, out.Data, 32*18*3)
	assert.Equal(t, frame.Captured, out.Captured)
}

func TestBlurTouchesOnlyDetections(t *testing.T) {
	a := NewAnonymizer(40, 40, 9)
	frame := checkerboard(40, 40)
	original := frame.Clone()

	box := model.DetectionBox{X1: 10, Y1: 10, X2: 30, Y2: 30, Class: model.ClassFace}
	out, err := a.Blur(frame, []model.DetectionBox{box})
	require.NoError(t, err)

	assert.Equal(t, original.Data, frame.Data, "input must not be modified")
	assert.Equal(t, pixel(original, 0, 0), pixel(out, 0, 0))
	assert.Equal(t, pixel(original, 39, 39), pixel(out, 39, 39))
	assert.NotEqual(t, pixel(original, 20, 20), pixel(out, 20, 20))
}

func TestBlurWithoutDetectionsCopies(t *testing.T) {
	a := NewAnonymizer(8, 8, 9)
	frame := checkerboard(8, 8)

	out, err := a.Blur(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, out.Data)

	out.Data[0] = 7
	assert.NotEqual(t, byte(7), frame.Data[0])
}
