package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"edgevision/internal/config"
	"edgevision/internal/logger"
	"edgevision/internal/model"

	"gocv.io/x/gocv"
)

const (
	// inputSize is the square input of the SSD network.
	inputSize = 300
	// outputWidth is the length of one SSD detection row:
	// [batch_id, class_id, confidence, x1, y1, x2, y2].
	outputWidth = 7
)

// DefaultClasses maps COCO SSD class ids to the classes the pipeline blurs.
// Other classes are ignored.
var DefaultClasses = map[int]string{
	1: model.ClassPerson,
}

var errNotInitialized = errors.New("detection network not initialized")

// DetectorPool runs an OpenCV DNN on frames from many channels. Each slot
// owns its own network, so concurrent calls never share inference state.
type DetectorPool struct {
	nets       chan *gocv.Net
	all        []*gocv.Net
	confidence float64
	classes    map[int]string
	logger     *logger.Logger
}

// NewDetectorPool loads size copies of the configured network.
func NewDetectorPool(cfg *config.Config, size int, log *logger.Logger) (*DetectorPool, error) {
	if size < 1 {
		size = 1
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if _, err := os.Stat(cfg.ModelConfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", cfg.ModelConfigPath)
	}

	p := &DetectorPool{
		nets:       make(chan *gocv.Net, size),
		confidence: cfg.DetectionConfidence,
		classes:    DefaultClasses,
		logger:     log,
	}
	for i := 0; i < size; i++ {
		net, err := loadNet(cfg.ModelPath, cfg.ModelConfigPath, cfg.Device)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.all = append(p.all, net)
		p.nets <- net
	}

	log.Info("Detection network initialized with %d slot(s) on %s", size, cfg.Device)
	return p, nil
}

// loadNet reads the network and picks a backend for device.
func loadNet(modelPath, configPath, device string) (*gocv.Net, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s", modelPath)
	}

	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if strings.EqualFold(device, "cuda") {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}
	return &net, nil
}

// Detect returns the boxes above the confidence threshold, in frame pixels.
func (p *DetectorPool) Detect(frame model.Frame) ([]model.DetectionBox, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	net, ok := <-p.nets
	if !ok || net == nil {
		return nil, errNotInitialized
	}
	defer func() { p.nets <- net }()

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(inputSize, inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")
	output := net.Forward("")
	defer output.Close()

	rows := output.Total() / outputWidth
	values := make([]float32, 0, rows*outputWidth)
	reshaped := output.Reshape(1, rows)
	defer reshaped.Close()
	for i := 0; i < rows; i++ {
		for j := 0; j < outputWidth; j++ {
			values = append(values, reshaped.GetFloatAt(i, j))
		}
	}

	return decodeSSD(values, frame.Width, frame.Height, p.confidence, p.classes), nil
}

// Close releases every network. Detect must not be called afterwards.
func (p *DetectorPool) Close() {
	for _, net := range p.all {
		net.Close()
	}
	p.all = nil
}

// decodeSSD turns flattened SSD output rows into boxes clipped to the frame.
func decodeSSD(values []float32, width, height int, threshold float64, classes map[int]string) []model.DetectionBox {
	var boxes []model.DetectionBox
	for i := 0; i+outputWidth <= len(values); i += outputWidth {
		row := values[i : i+outputWidth]

		confidence := float64(row[2])
		if confidence < threshold {
			continue
		}
		class, ok := classes[int(row[1])]
		if !ok {
			continue
		}

		box := model.DetectionBox{
			X1:         clamp(int(row[3]*float32(width)), width),
			Y1:         clamp(int(row[4]*float32(height)), height),
			X2:         clamp(int(row[5]*float32(width)), width),
			Y2:         clamp(int(row[6]*float32(height)), height),
			Confidence: confidence,
			Class:      class,
		}
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
