// Package video decodes uploaded video files into RGBA frames.
package video

import (
	"errors"
	"fmt"
	"image"
)

// ErrOpen marks a file that cannot be opened or decoded as video.
// End of stream is not an error: Read returns io.EOF.
var ErrOpen = errors.New("cannot open video")

// ErrDecode marks a decoder that failed after frames started flowing.
var ErrDecode = errors.New("video decoding failed")

// Stream yields decoded frames in order.
type Stream interface {
	// Read returns the next frame, or io.EOF once the stream is exhausted.
	Read() (*image.RGBA, error)

	// Close releases decoder resources. Safe to call more than once.
	Close() error
}

// Opener opens a video file for reading.
type Opener interface {
	Open(path string) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Stream, error)

// Open implements Opener.
func (f OpenerFunc) Open(path string) (Stream, error) { return f(path) }

// Info describes the video stream of a probed file.
type Info struct {
	Width     int
	Height    int
	Frames    int     // 0 when the container does not record it
	FrameRate float64 // frames per second, 0 when unknown
}

// NewOpener returns the decoder registered under name.
func NewOpener(name string) (Opener, error) {
	switch name {
	case "", "ffmpeg":
		f, err := NewFFmpeg()
		if err != nil {
			return nil, err
		}
		return f, nil
	case "gocv":
		g, err := NewGoCV()
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown video decoder: %s", name)
	}
}
