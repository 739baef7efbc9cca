package video

import (
	"fmt"

	"edgevision/internal/model"
	"edgevision/internal/recorder"

	"gocv.io/x/gocv"
)

// WriterFactory opens OpenCV video writers for the recorder.
type WriterFactory struct{}

// Open creates a writer for path with the given FOURCC.
func (WriterFactory) Open(path string, codec recorder.Codec, fps float64, width, height int) (recorder.FrameWriter, error) {
	vw, err := gocv.VideoWriterFile(path, codec.FourCC, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer %s (%s): %w", path, codec.FourCC, err)
	}
	return &writer{vw: vw, width: width, height: height}, nil
}

type writer struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (w *writer) Write(frame model.Frame) error {
	if frame.Width != w.width || frame.Height != w.height {
		return fmt.Errorf("frame is %dx%d, writer expects %dx%d", frame.Width, frame.Height, w.width, w.height)
	}

	mat, err := toMat(frame)
	if err != nil {
		return err
	}
	defer mat.Close()

	return w.vw.Write(mat)
}

func (w *writer) IsOpened() bool {
	return w.vw.IsOpened()
}

func (w *writer) Close() error {
	return w.vw.Close()
}
