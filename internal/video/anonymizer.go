package video

import (
	"fmt"
	"image"
	"image/color"

	"edgevision/internal/imaging"
	"edgevision/internal/model"

	"gocv.io/x/gocv"
)

// Anonymizer normalizes frames to a fixed output size and blurs detected
// faces.
type Anonymizer struct {
	Width   int
	Height  int
	Kernel  int
	Padding float64
}

// NewAnonymizer returns an Anonymizer producing width x height frames and
// blurring with the given Gaussian kernel size.
func NewAnonymizer(width, height, kernel int) *Anonymizer {
	return &Anonymizer{
		Width:   width,
		Height:  height,
		Kernel:  kernel,
		Padding: imaging.DefaultBlurPadding,
	}
}

// Normalize center-crops frame to the output aspect ratio, then resizes it.
func (a *Anonymizer) Normalize(frame model.Frame) (model.Frame, error) {
	if frame.Width == a.Width && frame.Height == a.Height {
		return frame, nil
	}

	mat, err := toMat(frame)
	if err != nil {
		return model.Frame{}, err
	}
	defer mat.Close()

	crop := imaging.CenterCrop(frame.Width, frame.Height, a.Width, a.Height)
	if crop.Empty() {
		return model.Frame{}, fmt.Errorf("cannot crop %dx%d to %dx%d", frame.Width, frame.Height, a.Width, a.Height)
	}
	region := mat.Region(crop)
	defer region.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(a.Width, a.Height), 0, 0, gocv.InterpolationLinear)

	return fromMat(resized, frame.Captured)
}

// Blur returns a copy of frame with every detection region blurred. Person
// boxes are narrowed to their head area first.
func (a *Anonymizer) Blur(frame model.Frame, detections []model.DetectionBox) (model.Frame, error) {
	regions := imaging.BlurRegions(detections, a.Padding, frame.Width, frame.Height)
	if len(regions) == 0 {
		return frame.Clone(), nil
	}

	mat, err := toMat(frame)
	if err != nil {
		return model.Frame{}, err
	}
	defer mat.Close()

	for _, r := range regions {
		if err := a.blurRegion(&mat, r); err != nil {
			return model.Frame{}, err
		}
	}
	return fromMat(mat, frame.Captured)
}

func (a *Anonymizer) blurRegion(mat *gocv.Mat, r image.Rectangle) error {
	roi := mat.Region(r)
	defer roi.Close()

	k := imaging.OddKernel(a.Kernel, min(r.Dx(), r.Dy()))
	blurred := gocv.NewMat()
	defer blurred.Close()

	gocv.GaussianBlur(roi, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	if blurred.Empty() {
		return fmt.Errorf("blur of region %v produced no pixels", r)
	}
	blurred.CopyTo(&roi)
	return nil
}

var (
	faceColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	personColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Annotate draws detection boxes and labels onto a copy of frame. It is used
// when exporting evidence for review.
func Annotate(frame model.Frame, detections []model.DetectionBox) (model.Frame, error) {
	mat, err := toMat(frame)
	if err != nil {
		return model.Frame{}, err
	}
	defer mat.Close()

	for _, d := range detections {
		c := personColor
		if d.Class == model.ClassFace {
			c = faceColor
		}

		rect := image.Rect(d.X1, d.Y1, d.X2, d.Y2)
		if err := gocv.Rectangle(&mat, rect, c, 2); err != nil {
			return model.Frame{}, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s (%.2f)", d.Class, d.Confidence)
		if err := gocv.PutText(&mat, label, image.Pt(d.X1, d.Y1-5), gocv.FontHersheySimplex, 0.5, c, 1); err != nil {
			return model.Frame{}, fmt.Errorf("failed to draw text: %v", err)
		}
	}
	return fromMat(mat, frame.Captured)
}
