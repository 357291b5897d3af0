// Package detection defines detections, the class label table and the
// Detector capability used by the playback loop.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	// ErrClassOutOfRange is returned when a detector reports a class index
	// that has no entry in the label table.
	ErrClassOutOfRange = errors.New("class index out of range")

	// ErrDetect wraps failures reported by a detector backend.
	ErrDetect = errors.New("detection failed")
)

// Detection is one predicted object instance on a single frame.
type Detection struct {
	Box        image.Rectangle `json:"box"` // x1,y1 = Min, x2,y2 = Max, pixel coordinates
	Class      int             `json:"class"`
	Confidence float64         `json:"confidence"` // [0,1]
}

// Detector produces detections for one frame at a time.
type Detector interface {
	Detect(ctx context.Context, frame *image.RGBA) ([]Detection, error)
	Close() error
}

// Labels is a fixed ordered table of category names indexed by Detection.Class.
type Labels []string

// MedicalLabels is the category table of the surgical equipment model.
var MedicalLabels = Labels{
	"gloves", "scalpel", "tube", "needle", "gauze", "tape", "blanket", "stretcher",
	"lights", "monitor", "mask", "iv", "scrubs", "gasses", "instrument",
}

// Name returns the label for class index i.
func (l Labels) Name(i int) (string, error) {
	if i < 0 || i >= len(l) {
		return "", fmt.Errorf("%w: %d (table has %d classes)", ErrClassOutOfRange, i, len(l))
	}
	return l[i], nil
}

// Validate checks every detection's class index against the table.
func (l Labels) Validate(dets []Detection) error {
	for _, d := range dets {
		if _, err := l.Name(d.Class); err != nil {
			return err
		}
	}
	return nil
}

// Nop is a Detector that never finds anything.
type Nop struct{}

// Detect implements Detector.
func (Nop) Detect(context.Context, *image.RGBA) ([]Detection, error) { return nil, nil }

// Close implements Detector.
func (Nop) Close() error { return nil }
