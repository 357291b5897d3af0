// Package annotate draws detection boxes and labels onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
)

// Style controls colours and geometry of the drawn annotations.
type Style struct {
	BoxColor        color.RGBA
	CornerColor     color.RGBA
	LabelBackground color.RGBA
	LabelText       color.RGBA

	LineWidth    float64 // outline of the box
	CornerWidth  float64 // corner strokes
	CornerLength float64
	Margin       int // box expansion on each side when boxes are shown
	FontSize     float64
	TextPadding  float64 // label background around the text
}

// DefaultStyle is a magenta outline with green corners and white text on magenta labels.
func DefaultStyle() Style {
	return Style{
		BoxColor:        color.RGBA{255, 0, 255, 255},
		CornerColor:     color.RGBA{0, 255, 0, 255},
		LabelBackground: color.RGBA{255, 0, 255, 255},
		LabelText:       color.RGBA{255, 255, 255, 255},
		LineWidth:       1,
		CornerWidth:     2,
		CornerLength:    10,
		Margin:          10,
		FontSize:        20,
		TextPadding:     4,
	}
}

// Annotator renders detections in place. Safe for concurrent use.
type Annotator struct {
	labels detection.Labels
	style  Style

	mu   sync.Mutex
	face font.Face
}

// New parses the Go Regular font and returns an Annotator for labels.
func New(labels detection.Labels, style Style) (*Annotator, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Annotator{
		labels: labels,
		style:  style,
		face:   truetype.NewFace(f, &truetype.Options{Size: style.FontSize}),
	}, nil
}

// Visible returns the detections whose confidence is strictly above threshold.
func Visible(dets []detection.Detection, threshold float64) []detection.Detection {
	out := make([]detection.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence > threshold {
			out = append(out, d)
		}
	}
	return out
}

// Ceil2 rounds c up at the hundredths place. Values already on a hundredth,
// up to float error, are left alone.
func Ceil2(c float64) float64 {
	v := math.Ceil(c*100-1e-9) / 100
	if v == 0 {
		return 0 // drop the sign of -0
	}
	return v
}

// FormatConfidence renders c as Ceil2(c) with exactly two decimals.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", Ceil2(c))
}

// Placement returns the rectangle to draw for d and the label anchor.
// With boxes shown the rectangle is grown by margin on each side and the anchor
// follows it; otherwise the anchor is taken from the raw box.
func Placement(d detection.Detection, showBoxes bool, margin int) (image.Rectangle, image.Point) {
	box := d.Box.Canon()
	if showBoxes {
		box = box.Inset(-margin)
	}
	return box, image.Point{
		X: max(0, box.Min.X+5),
		Y: max(10, box.Min.Y+30),
	}
}

// Annotate draws every detection above s.ConfidenceThreshold onto img and
// returns how many were drawn. An unknown class index anywhere in dets is an
// error and nothing is drawn.
func (a *Annotator) Annotate(img *image.RGBA, dets []detection.Detection, s settings.Settings) (int, error) {
	if err := a.labels.Validate(dets); err != nil {
		return 0, err
	}

	visible := Visible(dets, s.ConfidenceThreshold)
	if len(visible) == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(a.face)

	for _, d := range visible {
		box, anchor := Placement(d, s.ShowBoxes, a.style.Margin)
		if s.ShowBoxes {
			a.drawCornerRect(dc, box)
		}
		name, _ := a.labels.Name(d.Class)
		a.drawLabel(dc, fmt.Sprintf("%s %s", name, FormatConfidence(d.Confidence)), anchor)
	}
	return len(visible), nil
}

func (a *Annotator) drawCornerRect(dc *gg.Context, r image.Rectangle) {
	x1, y1 := float64(r.Min.X), float64(r.Min.Y)
	x2, y2 := float64(r.Max.X), float64(r.Max.Y)

	dc.SetColor(a.style.BoxColor)
	dc.SetLineWidth(a.style.LineWidth)
	dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	dc.Stroke()

	l := a.style.CornerLength
	dc.SetColor(a.style.CornerColor)
	dc.SetLineWidth(a.style.CornerWidth)
	for _, seg := range [][4]float64{
		{x1, y1, x1 + l, y1}, {x1, y1, x1, y1 + l},
		{x2, y1, x2 - l, y1}, {x2, y1, x2, y1 + l},
		{x1, y2, x1 + l, y2}, {x1, y2, x1, y2 - l},
		{x2, y2, x2 - l, y2}, {x2, y2, x2, y2 - l},
	} {
		dc.DrawLine(seg[0], seg[1], seg[2], seg[3])
		dc.Stroke()
	}
}

// drawLabel fills a background rectangle and writes text with its baseline at p.
func (a *Annotator) drawLabel(dc *gg.Context, text string, p image.Point) {
	w, h := dc.MeasureString(text)
	pad := a.style.TextPadding
	x, y := float64(p.X), float64(p.Y)

	dc.SetColor(a.style.LabelBackground)
	dc.DrawRectangle(x-pad, y-h-pad, w+2*pad, h+2*pad)
	dc.Fill()

	dc.SetColor(a.style.LabelText)
	dc.DrawString(text, x, y)
}
