package model

import "time"

// Frame is a decoded BGR24 image with its capture time.
type Frame struct {
	Width    int
	Height   int
	Data     []byte
	Captured time.Time
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Clone returns a deep copy, so the caller can hand it to another goroutine.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}

// BlankFrame returns a black frame of the given size.
func BlankFrame(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*3),
	}
}
