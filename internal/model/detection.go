package model

// Detection classes produced by the detector.
const (
	ClassFace   = "face"
	ClassPerson = "person"
)

// faceHeightRatio is the share of a person box kept as the face estimate.
const faceHeightRatio = 0.3

// DetectionBox is an axis-aligned region in frame pixel coordinates.
type DetectionBox struct {
	X1         int     `json:"x1" msgpack:"x1"`
	Y1         int     `json:"y1" msgpack:"y1"`
	X2         int     `json:"x2" msgpack:"x2"`
	Y2         int     `json:"y2" msgpack:"y2"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Class      string  `json:"class" msgpack:"class"`
}

// Width of the box in pixels.
func (b DetectionBox) Width() int { return b.X2 - b.X1 }

// Height of the box in pixels.
func (b DetectionBox) Height() int { return b.Y2 - b.Y1 }

// FaceRegion estimates the face area. Person boxes keep their upper 30%,
// every other class is returned unchanged.
func (b DetectionBox) FaceRegion() DetectionBox {
	if b.Class != ClassPerson {
		return b
	}
	face := b
	face.Y2 = b.Y1 + int(float64(b.Height())*faceHeightRatio)
	return face
}

// DistinctClasses returns the classes present in boxes, in first-seen order.
func DistinctClasses(boxes []DetectionBox) []string {
	seen := make(map[string]bool, len(boxes))
	classes := make([]string, 0, len(boxes))
	for _, box := range boxes {
		if seen[box.Class] {
			continue
		}
		seen[box.Class] = true
		classes = append(classes, box.Class)
	}
	return classes
}
