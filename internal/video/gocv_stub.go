//go:build !gocv

package video

import "errors"

// GoCV is unavailable without the gocv build tag.
type GoCV struct{}

// NewGoCV reports that OpenCV support was not compiled in.
func NewGoCV() (*GoCV, error) {
	return nil, errors.New("opencv decoder requires building with -tags gocv")
}

// Open always fails in builds without OpenCV.
func (GoCV) Open(path string) (Stream, error) {
	return nil, ErrOpen
}
