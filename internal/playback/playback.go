// Package playback runs the frame loop: read a frame, detect, annotate with
// the current settings, publish to the display sink.
//
// A Loop owns one source path at a time and moves through
//
//	Idle -> Streaming -> Done -> Replaying -> Done
//
// Each pass is sequential. At most one pass runs at a time; a second Run or
// Replay while one is active fails with ErrBusy. The open video handle belongs
// to the pass and is closed exactly once however the pass ends.
package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
	"github.com/bryanchriswhite/DetectStreamer/internal/output"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
	"github.com/bryanchriswhite/DetectStreamer/internal/video"
)

var (
	// ErrBusy is returned when a pass is already running.
	ErrBusy = errors.New("a pass is already running")

	// ErrNotReplayable is returned by Replay unless the loop is Done.
	ErrNotReplayable = errors.New("nothing to replay")
)

// State of the loop
type State string

const (
	Idle      State = "idle"
	Streaming State = "streaming"
	Done      State = "done"
	Replaying State = "replaying"
)

// Mode of a pass
type Mode string

const (
	ModeDetect Mode = "detect"
	ModeReplay Mode = "replay"
)

// Annotator draws detections onto a frame in place.
type Annotator interface {
	Annotate(img *image.RGBA, dets []detection.Detection, s settings.Settings) (int, error)
}

// SettingsSource yields the settings in effect for the next frame.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// FrameHook observes each detection frame after it is published, with the raw
// detections and the settings they were annotated under.
type FrameHook func(index int, dets []detection.Detection, s settings.Settings)

// Options wires the loop's collaborators.
type Options struct {
	Opener    video.Opener
	Detector  detection.Detector
	Annotator Annotator
	Settings  SettingsSource
	Sink      output.Output

	// FPS > 0 caps the publish rate. 0 publishes as fast as frames are processed.
	FPS int

	// OnFrame, when set, is called after every published detection frame.
	OnFrame FrameHook
}

// Stats describes the current or last pass.
type Stats struct {
	PassID     string        `json:"pass_id,omitempty"`
	Mode       Mode          `json:"mode,omitempty"`
	Frames     int           `json:"frames"`
	Detections int           `json:"detections"`
	Started    time.Time     `json:"started,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Status is a snapshot of the loop.
type Status struct {
	State   State  `json:"state"`
	Path    string `json:"-"`
	Stats   Stats  `json:"stats"`
	Warning string `json:"warning,omitempty"` // last OpenError shown to the user
	Error   string `json:"error,omitempty"`   // last pass failure
}

// Loop is the playback state machine.
type Loop struct {
	opts Options

	mu        sync.RWMutex
	busy      bool
	state     State
	path      string
	stats     Stats
	warning   string
	lastErr   error
	listeners []chan Status
}

// New returns an idle loop.
func New(opts Options) *Loop {
	return &Loop{opts: opts, state: Idle}
}

// Status returns the current state and stats.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statusLocked()
}

func (l *Loop) statusLocked() Status {
	s := Status{
		State:   l.state,
		Path:    l.path,
		Stats:   l.stats,
		Warning: l.warning,
	}
	if l.lastErr != nil {
		s.Error = l.lastErr.Error()
	}
	return s
}

// Run performs a detection pass over path and blocks until it ends.
func (l *Loop) Run(ctx context.Context, path string) error {
	if err := l.acquire(ModeDetect); err != nil {
		return err
	}
	defer l.release()
	return l.detectPass(ctx, path)
}

// Start reserves the loop and runs a detection pass on a new goroutine.
// It fails immediately with ErrBusy if a pass is active.
func (l *Loop) Start(ctx context.Context, path string) error {
	if err := l.acquire(ModeDetect); err != nil {
		return err
	}
	go func() {
		defer l.release()
		_ = l.detectPass(ctx, path)
	}()
	return nil
}

// Replay republishes the last processed source without detection and blocks
// until it ends. Only valid from Done.
func (l *Loop) Replay(ctx context.Context) error {
	if err := l.acquire(ModeReplay); err != nil {
		return err
	}
	defer l.release()
	return l.replayPass(ctx)
}

// StartReplay is Replay on a new goroutine.
func (l *Loop) StartReplay(ctx context.Context) error {
	if err := l.acquire(ModeReplay); err != nil {
		return err
	}
	go func() {
		defer l.release()
		_ = l.replayPass(ctx)
	}()
	return nil
}

func (l *Loop) acquire(mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return ErrBusy
	}
	if mode == ModeReplay && (l.state != Done || l.path == "") {
		return fmt.Errorf("%w: loop is %s", ErrNotReplayable, l.state)
	}
	l.busy = true
	return nil
}

func (l *Loop) release() {
	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
}

// Busy reports whether a pass is running or reserved.
func (l *Loop) Busy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.busy
}

// Reset forgets the current source and returns to Idle. No-op while busy.
func (l *Loop) Reset() {
	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return
	}
	l.state = Idle
	l.path = ""
	l.stats = Stats{}
	l.warning = ""
	l.lastErr = nil
	st := l.statusLocked()
	l.mu.Unlock()
	l.notify(st)
}

// Warn records a user-visible warning without changing state.
func (l *Loop) Warn(msg string) {
	l.mu.Lock()
	l.warning = msg
	st := l.statusLocked()
	l.mu.Unlock()
	l.notify(st)
}

func (l *Loop) detectPass(ctx context.Context, path string) error {
	passID := uuid.NewString()
	log := logger.WithPass("playback", passID)

	stream, err := l.opts.Opener.Open(path)
	if err != nil {
		// No retry; the user has to upload again.
		l.mu.Lock()
		l.state = Idle
		l.path = ""
		l.stats = Stats{}
		l.warning = openWarning(err)
		l.lastErr = nil
		st := l.statusLocked()
		l.mu.Unlock()
		l.notify(st)

		log.Warn().Err(err).Str("path", path).Msg("Cannot open video")
		return err
	}
	defer closeStream(stream, log)

	started := time.Now()
	l.setState(func() {
		l.state = Streaming
		l.path = path
		l.warning = ""
		l.lastErr = nil
		l.stats = Stats{PassID: passID, Mode: ModeDetect, Started: started}
	})
	log.Info().Str("path", path).Msg("Detection pass started")

	err = l.pump(ctx, stream, true)
	return l.finish(err, started, log)
}

func (l *Loop) replayPass(ctx context.Context) error {
	passID := uuid.NewString()
	log := logger.WithPass("playback", passID)

	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()

	stream, err := l.opts.Opener.Open(path)
	if err != nil {
		l.Warn(openWarning(err))
		log.Warn().Err(err).Str("path", path).Msg("Cannot reopen video for replay")
		return err
	}
	defer closeStream(stream, log)

	started := time.Now()
	l.setState(func() {
		l.state = Replaying
		l.lastErr = nil
		l.stats = Stats{PassID: passID, Mode: ModeReplay, Started: started}
	})
	log.Info().Str("path", path).Msg("Replay started")

	err = l.pump(ctx, stream, false)
	return l.finish(err, started, log)
}

// pump moves frames from stream to the sink until end of stream or the first
// failure. Detection and annotation run only when detect is set.
func (l *Loop) pump(ctx context.Context, stream video.Stream, detect bool) error {
	var limiter *rate.Limiter
	if l.opts.FPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(l.opts.FPS), 1)
	}

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := stream.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}

		var (
			dets  []detection.Detection
			drawn int
			s     settings.Settings
		)
		if detect {
			s = l.opts.Settings.Snapshot()
			dets, err = l.opts.Detector.Detect(ctx, frame)
			if err != nil {
				return fmt.Errorf("frame %d: %w", index, err)
			}
			drawn, err = l.opts.Annotator.Annotate(frame, dets, s)
			if err != nil {
				return fmt.Errorf("frame %d: %w", index, err)
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := l.opts.Sink.WriteFrame(frame); err != nil {
			return fmt.Errorf("frame %d: publish: %w", index, err)
		}

		l.setState(func() {
			l.stats.Frames++
			l.stats.Detections += drawn
		})
		if detect && l.opts.OnFrame != nil {
			l.opts.OnFrame(index, dets, s)
		}
	}
}

// finish moves the loop to Done and records err, if any.
func (l *Loop) finish(err error, started time.Time, log *zerolog.Logger) error {
	l.mu.Lock()
	l.state = Done
	l.stats.Duration = time.Since(started)
	l.lastErr = err
	st := l.statusLocked()
	l.mu.Unlock()
	l.notify(st)

	if err != nil {
		log.Error().Err(err).
			Str("mode", string(st.Stats.Mode)).
			Int("frames", st.Stats.Frames).
			Msg("Pass aborted")
		return err
	}
	log.Info().
		Str("mode", string(st.Stats.Mode)).
		Int("frames", st.Stats.Frames).
		Int("detections", st.Stats.Detections).
		Dur("duration", st.Stats.Duration).
		Msg("Pass finished")
	return nil
}

func closeStream(stream video.Stream, log *zerolog.Logger) {
	if err := stream.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to release video source")
	}
}

func (l *Loop) setState(fn func()) {
	l.mu.Lock()
	fn()
	st := l.statusLocked()
	l.mu.Unlock()
	l.notify(st)
}

// Subscribe adds a listener for status changes
func (l *Loop) Subscribe() chan Status {
	ch := make(chan Status, 10)
	l.mu.Lock()
	l.listeners = append(l.listeners, ch)
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (l *Loop) Unsubscribe(ch chan Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, listener := range l.listeners {
		if listener == ch {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (l *Loop) notify(st Status) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, listener := range l.listeners {
		select {
		case listener <- st:
		default:
			// Skip if channel is full
		}
	}
}

func openWarning(err error) string {
	return fmt.Sprintf("Could not open the uploaded video: %v. Please upload a different file.", err)
}
