//go:build !gocv
// +build !gocv

package detection

import (
	"context"
	"errors"
	"image"
)

// ONNXConfig parameterises the in-process YOLOv8 detector
type ONNXConfig struct {
	ModelPath     string
	InputSize     int
	MinConfidence float32
	NMSThreshold  float32
}

// ONNXDetector is unavailable without OpenCV.
type ONNXDetector struct{}

var errNoGoCV = errors.New("onnx backend requires building with -tags gocv")

// NewONNXDetector returns an error if the build lacks the gocv tag.
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	_ = cfg
	return nil, errNoGoCV
}

// Detect returns an error if the build lacks the gocv tag.
func (d *ONNXDetector) Detect(ctx context.Context, frame *image.RGBA) ([]Detection, error) {
	_ = ctx
	_ = frame
	return nil, errNoGoCV
}

// Close is a no-op.
func (d *ONNXDetector) Close() error { return nil }
