//go:build gocv
// +build gocv

package detection

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// ONNXConfig parameterises the in-process YOLOv8 detector
type ONNXConfig struct {
	ModelPath     string
	InputSize     int     // square network input, e.g. 640
	MinConfidence float32 // candidates below this are dropped before NMS
	NMSThreshold  float32
}

// ONNXDetector runs an exported YOLOv8 ONNX model through the OpenCV DNN module.
type ONNXDetector struct {
	mu     sync.Mutex
	net    gocv.Net
	cfg    ONNXConfig
	closed bool
}

// NewONNXDetector loads the model once; Detect reuses the network.
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read ONNX model %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger.WithComponent("detector").Info().
		Str("model", cfg.ModelPath).
		Int("input_size", cfg.InputSize).
		Msg("ONNX detector loaded")

	return &ONNXDetector{net: net, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *ONNXDetector) Detect(ctx context.Context, frame *image.RGBA) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: detector closed", ErrDetect)
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetect, err)
	}
	defer mat.Close()

	// Pad to a square so the network input keeps the aspect ratio.
	side := maxInt(mat.Cols(), mat.Rows())
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), side, side, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	mat.CopyTo(&roi)
	roi.Close()

	size := d.cfg.InputSize
	scale := float32(side) / float32(size)

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dets, err := d.decode(out, scale)
	if err != nil {
		return nil, err
	}

	b := frame.Bounds()
	for i := range dets {
		dets[i].Box = dets[i].Box.Add(b.Min)
	}
	return dets, nil
}

// decode reads the [1, 4+C, N] YOLOv8 head: cx, cy, w, h then C class scores.
func (d *ONNXDetector) decode(out gocv.Mat, scale float32) ([]Detection, error) {
	dims := out.Size()
	if len(dims) != 3 || dims[1] <= 4 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrDetect, dims)
	}
	rows, candidates := dims[1], dims[2]

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for c := 0; c < candidates; c++ {
		best, bestClass := float32(0), -1
		for r := 4; r < rows; r++ {
			if s := out.GetFloatAt3(0, r, c); s > best {
				best, bestClass = s, r-4
			}
		}
		if best < d.cfg.MinConfidence {
			continue
		}

		cx := out.GetFloatAt3(0, 0, c)
		cy := out.GetFloatAt3(0, 1, c)
		w := out.GetFloatAt3(0, 2, c)
		h := out.GetFloatAt3(0, 3, c)
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*scale), int((cy-h/2)*scale),
			int((cx+w/2)*scale), int((cy+h/2)*scale),
		))
		scores = append(scores, best)
		classes = append(classes, bestClass)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.cfg.MinConfidence, d.cfg.NMSThreshold)
	dets := make([]Detection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, Detection{
			Box:        boxes[i],
			Class:      classes[i],
			Confidence: float64(scores[i]),
		})
	}
	return dets, nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
