package video

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// FFmpeg decodes files by running ffmpeg as a subprocess and reading raw
// RGBA frames from its stdout.
type FFmpeg struct{}

// NewFFmpeg checks that ffmpeg is on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &FFmpeg{}, nil
}

// Probe reads stream dimensions with ffprobe.
func Probe(path string) (Info, error) {
	if _, err := os.Stat(path); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: probe %s: %v", ErrOpen, path, err)
	}
	info, err := parseProbe([]byte(out))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	return info, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// parseProbe extracts the first video stream from ffprobe JSON output.
func parseProbe(data []byte) (Info, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return Info{}, fmt.Errorf("invalid probe output: %w", err)
	}
	for _, s := range p.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return Info{}, fmt.Errorf("video stream has no dimensions")
		}
		info := Info{Width: s.Width, Height: s.Height}
		info.Frames, _ = strconv.Atoi(s.NbFrames)
		info.FrameRate = parseRate(s.AvgFrameRate)
		return info, nil
	}
	return Info{}, fmt.Errorf("no video stream")
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// Open probes path and starts decoding it.
func (f *FFmpeg) Open(path string) (Stream, error) {
	info, err := Probe(path)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("video")

	ctx, cancel := context.WithCancel(context.Background())
	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "rawvideo",
			"pix_fmt":  "rgba",
			"loglevel": "error",
		})
	stream.Context = ctx
	cmd := stream.Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrOpen, err)
	}

	tail := &stderrTail{done: make(chan struct{})}
	go tail.consume(stderr)

	log.Info().
		Str("path", path).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("frames", info.Frames).
		Float64("fps", info.FrameRate).
		Int("pid", cmd.Process.Pid).
		Msg("Decoder started")

	var (
		waitOnce sync.Once
		waitErr  error
	)
	wait := func() error {
		waitOnce.Do(func() {
			// Wait closes the pipes, so stderr has to be drained first.
			<-tail.done
			if err := cmd.Wait(); err != nil {
				waitErr = fmt.Errorf("ffmpeg: %w%s", err, tail.suffix())
			}
		})
		return waitErr
	}

	return newRawStream(stdout, info.Width, info.Height, wait, cancel), nil
}

// rawStream reads fixed-size RGBA frames from r. It is not safe for
// concurrent use.
type rawStream struct {
	reader    *bufio.Reader
	width     int
	height    int
	frameSize int
	src       io.Reader

	// wait blocks until the decoder exits and returns its failure, if any.
	// It must be safe to call more than once.
	wait func() error
	// stop kills the decoder.
	stop  func()
	ended bool

	closeOnce sync.Once
	closeErr  error
}

func newRawStream(r io.Reader, width, height int, wait func() error, stop func()) *rawStream {
	frameSize := width * height * 4
	return &rawStream{
		reader:    bufio.NewReaderSize(r, frameSize),
		width:     width,
		height:    height,
		frameSize: frameSize,
		src:       r,
		wait:      wait,
		stop:      stop,
	}
}

// Read returns the next frame. Once the output runs dry it returns io.EOF if
// the decoder exited cleanly, and an ErrDecode error otherwise. A truncated
// final frame from a clean exit counts as end of stream.
func (s *rawStream) Read() (*image.RGBA, error) {
	if s.ended {
		return nil, s.endErr()
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.reader, img.Pix); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.ended = true
			return nil, s.endErr()
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return img, nil
}

func (s *rawStream) endErr() error {
	if s.wait == nil {
		return io.EOF
	}
	if err := s.wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return io.EOF
}

// Close stops the decoder and releases the pipe. The exit status is only
// ignored when Close itself had to kill the decoder.
func (s *rawStream) Close() error {
	s.closeOnce.Do(func() {
		killed := false
		if !s.ended && s.stop != nil {
			s.stop()
			killed = true
		}
		if c, ok := s.src.(io.Closer); ok {
			if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				s.closeErr = err
			}
		}
		if s.wait != nil {
			if err := s.wait(); err != nil && !killed {
				s.closeErr = multierr.Append(s.closeErr, err)
			}
		}
		if !killed && s.stop != nil {
			// Releases the context of a decoder that already exited.
			s.stop()
		}
	})
	return s.closeErr
}

// stderrTail logs decoder stderr and keeps the last line for error messages.
type stderrTail struct {
	mu   sync.Mutex
	last string
	done chan struct{}
}

func (t *stderrTail) consume(r io.Reader) {
	defer close(t.done)
	log := logger.WithComponent("video")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		t.mu.Lock()
		t.last = line
		t.mu.Unlock()
		log.Warn().Str("ffmpeg", line).Msg("Decoder message")
	}
}

func (t *stderrTail) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == "" {
		return ""
	}
	return ": " + t.last
}
