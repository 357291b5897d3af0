package annotate

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
)

func newAnnotator(t *testing.T) *Annotator {
	t.Helper()
	a, err := New(detection.MedicalLabels, DefaultStyle())
	require.NoError(t, err)
	return a
}

func blank() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 320, 400))
}

func isBlank(img *image.RGBA) bool {
	for _, b := range img.Pix {
		if b != 0 {
			return false
		}
	}
	return true
}

func painted(img *image.RGBA, x, y int) bool {
	return img.RGBAAt(x, y) != color.RGBA{}
}

func TestFormatConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.971, "0.98"},
		{0.970, "0.97"},
		{0.97, "0.97"},
		{0.9701, "0.98"},
		{0.5, "0.50"},
		{0.001, "0.01"},
		{0, "0.00"},
		{1, "1.00"},
		{0.29, "0.29"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatConfidence(tt.in), "confidence %v", tt.in)
	}
}

func TestVisibleIsStrict(t *testing.T) {
	dets := []detection.Detection{
		{Class: 0, Confidence: 0.97},
		{Class: 1, Confidence: 0.9700001},
		{Class: 2, Confidence: 0.5},
	}
	got := Visible(dets, 0.97)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Class)

	assert.Empty(t, Visible(dets, 1))
	assert.Len(t, Visible(dets, 0), 3)
}

func TestPlacement(t *testing.T) {
	d := detection.Detection{Box: image.Rect(100, 100, 200, 300)}

	box, anchor := Placement(d, true, 10)
	assert.Equal(t, image.Rect(90, 90, 210, 310), box)
	assert.Equal(t, image.Pt(95, 120), anchor)

	box, anchor = Placement(d, false, 10)
	assert.Equal(t, image.Rect(100, 100, 200, 300), box)
	assert.Equal(t, image.Pt(105, 130), anchor)

	_, anchor = Placement(detection.Detection{Box: image.Rect(0, 0, 20, 20)}, true, 10)
	assert.Equal(t, image.Pt(0, 20), anchor)

	_, anchor = Placement(detection.Detection{Box: image.Rect(-30, -40, 20, 20)}, false, 10)
	assert.Equal(t, image.Pt(0, 10), anchor)
}

func TestAnnotateThresholdBoundaryDrawsNothing(t *testing.T) {
	a := newAnnotator(t)
	img := blank()

	n, err := a.Annotate(img, []detection.Detection{
		{Box: image.Rect(100, 100, 200, 300), Class: 3, Confidence: 0.97},
	}, settings.Settings{ConfidenceThreshold: 0.97, ShowBoxes: true})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, isBlank(img))
}

func TestAnnotateShowBoxes(t *testing.T) {
	a := newAnnotator(t)
	det := detection.Detection{Box: image.Rect(100, 100, 200, 300), Class: 3, Confidence: 0.99}

	img := blank()
	n, err := a.Annotate(img, []detection.Detection{det}, settings.Settings{ConfidenceThreshold: 0.5, ShowBoxes: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, painted(img, 90, 200), "left edge of the expanded box")
	assert.True(t, painted(img, 210, 200), "right edge of the expanded box")
	assert.True(t, painted(img, 95, 122), "label background")
}

func TestAnnotateHiddenBoxesKeepsLabel(t *testing.T) {
	a := newAnnotator(t)
	det := detection.Detection{Box: image.Rect(100, 100, 200, 300), Class: 3, Confidence: 0.99}

	img := blank()
	n, err := a.Annotate(img, []detection.Detection{det}, settings.Settings{ConfidenceThreshold: 0.5, ShowBoxes: false})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, painted(img, 90, 200))
	assert.False(t, painted(img, 100, 250))
	assert.False(t, painted(img, 210, 200))
	assert.True(t, painted(img, 105, 132), "label background at the raw anchor")
}

func TestAnnotateRejectsUnknownClass(t *testing.T) {
	a := newAnnotator(t)
	img := blank()

	_, err := a.Annotate(img, []detection.Detection{
		{Box: image.Rect(10, 10, 50, 50), Class: 1, Confidence: 0.99},
		{Box: image.Rect(10, 10, 50, 50), Class: 15, Confidence: 0.1},
	}, settings.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, detection.ErrClassOutOfRange))
	assert.True(t, isBlank(img))
}
