package recorder

import (
	"errors"

	"edgevision/internal/model"
)

// ErrCodec is returned when no candidate encoder could write a frame.
var ErrCodec = errors.New("no usable video codec")

// Codec is a FOURCC plus the container extension it is written into.
type Codec struct {
	FourCC string
	Ext    string
}

func (c Codec) String() string {
	return c.FourCC + c.Ext
}

// DefaultCodecs is the preferred encoder order.
var DefaultCodecs = []Codec{
	{FourCC: "avc1", Ext: ".mp4"},
	{FourCC: "X264", Ext: ".mp4"},
	{FourCC: "mp4v", Ext: ".mp4"},
	{FourCC: "MJPG", Ext: ".avi"},
	{FourCC: "XVID", Ext: ".avi"},
}

// Uncompressed is tried after every configured codec has failed.
var Uncompressed = Codec{FourCC: "IYUV", Ext: ".avi"}

// FrameWriter appends frames to an open container file.
type FrameWriter interface {
	Write(frame model.Frame) error
	IsOpened() bool
	Close() error
}

// WriterFactory opens container files.
type WriterFactory interface {
	Open(path string, codec Codec, fps float64, width, height int) (FrameWriter, error)
}
