//go:build gocv

package video

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// GoCV decodes files in-process through OpenCV's VideoCapture.
type GoCV struct{}

// NewGoCV returns an OpenCV backed opener.
func NewGoCV() (*GoCV, error) { return &GoCV{}, nil }

// Open starts decoding path.
func (GoCV) Open(path string) (Stream, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpen, path)
	}
	return &gocvStream{vc: vc, mat: gocv.NewMat()}, nil
}

type gocvStream struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat

	closeOnce sync.Once
	closeErr  error
}

func (s *gocvStream) Read() (*image.RGBA, error) {
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, io.EOF
	}
	// ToImage reorders OpenCV's BGR into RGBA.
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

func (s *gocvStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.vc.Close()
		_ = s.mat.Close()
	})
	return s.closeErr
}
