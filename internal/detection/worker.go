package detection

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// maxMessageSize bounds a single framed message (one 4K RGB frame is ~25MB).
const maxMessageSize = 64 << 20

// workerRequest is one frame sent to the worker process.
type workerRequest struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Pixels []byte `msgpack:"pixels"` // packed RGB24, row-major
}

type workerBox struct {
	X1         int     `msgpack:"x1"`
	Y1         int     `msgpack:"y1"`
	X2         int     `msgpack:"x2"`
	Y2         int     `msgpack:"y2"`
	Class      int     `msgpack:"class"`
	Confidence float64 `msgpack:"confidence"`
}

// workerResponse is the worker's answer for exactly one request.
type workerResponse struct {
	Detections []workerBox `msgpack:"detections"`
	Error      string      `msgpack:"error,omitempty"`
}

// WorkerConfig describes the external detector process
type WorkerConfig struct {
	Command   string
	Args      []string
	ModelPath string // passed to the worker as --model
}

// Worker delegates detection to an external process (for example an
// ultralytics script holding the trained weights). Frames and results are
// exchanged over stdin/stdout as length-prefixed msgpack messages, one
// request and one response at a time.
type Worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

// NewWorker starts the worker process.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	args := append([]string(nil), cfg.Args...)
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}

	log := logger.WithComponent("detector")

	cmd := exec.Command(cfg.Command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start detector worker %q: %w", cfg.Command, err)
	}

	go logWorkerStderr(stderr)

	log.Info().
		Str("command", cfg.Command).
		Strs("args", args).
		Int("pid", cmd.Process.Pid).
		Msg("Detector worker started")

	w := newWorker(stdin, stdout)
	w.cmd = cmd
	return w, nil
}

func newWorker(stdin io.WriteCloser, stdout io.Reader) *Worker {
	return &Worker{
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64<<10),
	}
}

// Detect sends frame to the worker and blocks until its response arrives.
func (w *Worker) Detect(ctx context.Context, frame *image.RGBA) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("%w: worker closed", ErrDetect)
	}

	b := frame.Bounds()
	req := workerRequest{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: packRGB(frame),
	}
	if err := writeMessage(w.stdin, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetect, err)
	}

	var resp workerResponse
	if err := readMessage(w.stdout, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetect, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: worker: %s", ErrDetect, resp.Error)
	}

	dets := make([]Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		dets = append(dets, Detection{
			Box:        image.Rect(d.X1, d.Y1, d.X2, d.Y2).Add(b.Min),
			Class:      d.Class,
			Confidence: d.Confidence,
		})
	}
	return dets, nil
}

// Close stops the worker by closing its stdin and waits for it to exit.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.stdin.Close()
	if w.cmd != nil {
		err = multierr.Append(err, w.cmd.Wait())
		logger.WithComponent("detector").Info().Msg("Detector worker stopped")
	}
	return err
}

// packRGB drops the alpha channel; the worker expects 3 channels.
func packRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			out = append(out, row[i], row[i+1], row[i+2])
		}
	}
	return out
}

// writeMessage writes a 4-byte big-endian length followed by msgpack(v).
func writeMessage(w io.Writer, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data (expected %d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

func logWorkerStderr(r io.Reader) {
	log := logger.WithComponent("detector")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "Traceback") {
			log.Warn().Str("worker", line).Msg("Detector worker message")
		} else {
			log.Debug().Str("worker", line).Msg("Detector worker output")
		}
	}
}
