// Package video adapts OpenCV (gocv) to the capture, encoding and
// anonymization interfaces used by the channel pipeline.
package video

import (
	"errors"
	"fmt"
	"time"

	"edgevision/internal/model"

	"gocv.io/x/gocv"
)

var errEmptyFrame = errors.New("empty frame")

// toMat copies frame into a new BGR Mat. The caller closes it.
func toMat(frame model.Frame) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), errEmptyFrame
	}
	if len(frame.Data) != frame.Width*frame.Height*3 {
		return gocv.NewMat(), fmt.Errorf("frame is %dx%d but carries %d bytes", frame.Width, frame.Height, len(frame.Data))
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	return gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, data)
}

// fromMat copies a BGR Mat out into a Frame.
func fromMat(mat gocv.Mat, captured time.Time) (model.Frame, error) {
	if mat.Empty() {
		return model.Frame{}, errEmptyFrame
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		converted := gocv.NewMat()
		defer converted.Close()
		mat.ConvertTo(&converted, gocv.MatTypeCV8UC3)
		mat = converted
	}
	if !mat.IsContinuous() {
		cloned := mat.Clone()
		defer cloned.Close()
		mat = cloned
	}

	return model.Frame{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Data:     mat.ToBytes(),
		Captured: captured,
	}, nil
}
