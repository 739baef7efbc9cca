package video

import (
	"fmt"
	"time"

	"edgevision/internal/model"

	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is used when a caller passes quality 0.
const DefaultJPEGQuality = 85

// JPEGCodec encodes frames for evidence and live view, and decodes them
// back for export.
type JPEGCodec struct{}

// EncodeJPEG compresses frame at quality (1..100).
func (JPEGCodec) EncodeJPEG(frame model.Frame, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	mat, err := toMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// DecodeJPEG decompresses data into a BGR frame stamped with captured.
func (JPEGCodec) DecodeJPEG(data []byte, captured time.Time) (model.Frame, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return model.Frame{}, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	defer mat.Close()

	return fromMat(mat, captured)
}
