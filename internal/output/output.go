package output

import (
	"image"
)

// Output is a display sink for processed frames.
// The playback loop publishes every frame it produces through WriteFrame.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame publishes a frame. The sink must not retain frame after
	// returning, the caller may reuse it.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	JPEGQuality int
}

// Discard accepts and drops frames. Used by headless runs.
type Discard struct {
	running bool
}

func (d *Discard) Start() error                 { d.running = true; return nil }
func (d *Discard) Stop() error                  { d.running = false; return nil }
func (d *Discard) WriteFrame(*image.RGBA) error { return nil }
func (d *Discard) Name() string                 { return "Discard" }
func (d *Discard) IsRunning() bool              { return d.running }
