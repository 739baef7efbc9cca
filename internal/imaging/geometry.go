// Package imaging holds the pixel geometry used to normalize and anonymize
// frames. It has no OpenCV dependency.
package imaging

import (
	"image"

	"edgevision/internal/model"
)

// DefaultBlurPadding grows each blurred region by this share of its size.
const DefaultBlurPadding = 0.15

// CenterCrop returns the largest centered rectangle of srcW x srcH with the
// aspect ratio dstW:dstH. Scaling that rectangle to dstW x dstH never
// stretches the image.
func CenterCrop(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}

	// Compare srcW/srcH with dstW/dstH without floating point.
	switch {
	case srcW*dstH > dstW*srcH:
		// Too wide: trim the sides.
		w := srcH * dstW / dstH
		x := (srcW - w) / 2
		return image.Rect(x, 0, x+w, srcH)
	case srcW*dstH < dstW*srcH:
		// Too tall: trim top and bottom.
		h := srcW * dstH / dstW
		y := (srcH - h) / 2
		return image.Rect(0, y, srcW, y+h)
	}
	return image.Rect(0, 0, srcW, srcH)
}

// BlurRegion pads box by padding on each side and clips it to the frame.
// An empty rectangle means there is nothing to blur.
func BlurRegion(box model.DetectionBox, padding float64, frameW, frameH int) image.Rectangle {
	padX := int(float64(box.Width()) * padding)
	padY := int(float64(box.Height()) * padding)

	r := image.Rect(box.X1-padX, box.Y1-padY, box.X2+padX, box.Y2+padY)
	return r.Intersect(image.Rect(0, 0, frameW, frameH))
}

// BlurRegions converts detections into padded, clipped regions, using the
// face estimate of person boxes.
func BlurRegions(boxes []model.DetectionBox, padding float64, frameW, frameH int) []image.Rectangle {
	regions := make([]image.Rectangle, 0, len(boxes))
	for _, box := range boxes {
		r := BlurRegion(box.FaceRegion(), padding, frameW, frameH)
		if r.Empty() {
			continue
		}
		regions = append(regions, r)
	}
	return regions
}

// OddKernel rounds k up to the next odd size Gaussian blur accepts, and
// shrinks it so it never exceeds the region it is applied to.
func OddKernel(k, limit int) int {
	if k > limit {
		k = limit
	}
	if k < 1 {
		k = 1
	}
	if k%2 == 0 {
		if k+1 <= limit {
			k++
		} else {
			k--
		}
	}
	if k < 1 {
		return 1
	}
	return k
}
