package output

import (
	"bytes"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// MJPEGOutput streams frames as Motion JPEG over HTTP.
// The browser page embeds the stream in an <img> tag.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Most recent encoded frame, replayed to clients that connect late
	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time
	frameCount uint64
	startTime  time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// Stats is a point-in-time view of the stream
type Stats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
	Uptime     string    `json:"uptime"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.JPEGQuality < 1 || config.JPEGQuality > 100 {
		config.JPEGQuality = jpeg.DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output running. The HTTP handler is mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true

	m.frameMu.Lock()
	m.startTime = time.Now()
	m.frameCount = 0
	m.frameMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Int("quality", m.config.JPEGQuality).
		Msg("Output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.frameMu.RLock()
	frames := m.frameCount
	m.frameMu.RUnlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", frames).
		Msg("Output stopped")
	return nil
}

// WriteFrame encodes frame and sends it to all connected clients
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.JPEGQuality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameCount++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastFrame returns the most recent JPEG, or nil before the first frame
func (m *MJPEGOutput) LastFrame() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.lastJPEG
}

// Stats returns current stream statistics
func (m *MJPEGOutput) Stats() Stats {
	running := m.IsRunning()

	m.frameMu.RLock()
	s := Stats{
		Running:    running,
		Frames:     m.frameCount,
		LastUpdate: m.lastUpdate,
	}
	startTime := m.startTime
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	s.Clients = len(m.clients)
	m.clientsMu.RUnlock()

	if running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if secs := elapsed.Seconds(); secs > 0 {
			s.FPS = float64(s.Frames) / secs
		}
		s.Uptime = elapsed.Round(time.Second).String()
	}
	return s
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream
// Mount this at /stream or similar endpoint
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		// Show the last frame straight away so a finished pass stays visible.
		if last := m.LastFrame(); last != nil {
			if err := writePart(w, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

// GetSnapshotHandler serves the most recent frame as a single JPEG
func (m *MJPEGOutput) GetSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := m.LastFrame()
		if last == nil {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(last)
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

var statsPage = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>DetectStreamer - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #001F3D; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #2ECC71; }
        .status-running { color: #2ECC71; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>DetectStreamer Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span>
        {{if .Running}}<span class="status-running">Running</span>{{else}}<span class="status-stopped">Stopped</span>{{end}}</div>
    <div class="stat"><span class="label">Average FPS:</span> {{printf "%.2f" .FPS}}</div>
    <div class="stat"><span class="label">Total Frames:</span> {{.Frames}}</div>
    <div class="stat"><span class="label">Connected Clients:</span> {{.Clients}}</div>
    <div class="stat"><span class="label">Last Update:</span> {{if .LastUpdate.IsZero}}never{{else}}{{.LastUpdate.Format "15:04:05"}}{{end}}</div>
    <div class="stat"><span class="label">Uptime:</span> {{.Uptime}}</div>
    <p><a href="/" style="color: #2ECC71;">Back</a></p>
</body>
</html>`))

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statsPage.Execute(w, m.Stats()); err != nil {
			logger.WithComponent("mjpeg").Error().Err(err).Msg("Failed to render stats page")
		}
	}
}
