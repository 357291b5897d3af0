package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/DetectStreamer/internal/config"
	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
	"github.com/bryanchriswhite/DetectStreamer/internal/output"
	"github.com/bryanchriswhite/DetectStreamer/internal/playback"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
	"github.com/bryanchriswhite/DetectStreamer/internal/upload"
)

// Prompt is shown while no video has been uploaded.
const Prompt = "Please upload a video for Medical Object Detection."

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Config   *config.Manager
	Loop     *playback.Loop
	Uploads  *upload.Store
	Settings *settings.Store
	Labels   detection.Labels
	Stream   *output.MJPEGOutput

	// MaxUploadBytes bounds the request body; defaults to the config value.
	MaxUploadBytes int64
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader

	// Passes outlive the request that starts them and stop on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc

	uploadMu   sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 && deps.Config != nil {
		deps.MaxUploadBytes = deps.Config.Get().Upload.MaxBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		baseCtx: ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session
	api.HandleFunc("/upload", s.handleUpload).Methods("POST")
	api.HandleFunc("/replay", s.handleReplay).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/stream", s.handleStatusStream)

	// Settings panel
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")

	api.HandleFunc("/labels", s.handleLabels).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Display
	if s.deps.Stream != nil {
		s.router.HandleFunc("/stream", s.deps.Stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot", s.deps.Stream.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.deps.Stream.GetStatsHandler()).Methods("GET")
	}

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops any running pass and drains HTTP connections
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusResponse is the session view shown by the page
type statusResponse struct {
	State      playback.State    `json:"state"`
	Mode       playback.Mode     `json:"mode,omitempty"`
	PassID     string            `json:"pass_id,omitempty"`
	Frames     int               `json:"frames"`
	Detections int               `json:"detections"`
	DurationMS int64             `json:"duration_ms"`
	Warning    string            `json:"warning,omitempty"`
	Error      string            `json:"error,omitempty"`
	Prompt     string            `json:"prompt,omitempty"`
	Upload     *upload.File      `json:"upload,omitempty"`
	Settings   settings.Settings `json:"settings"`
}

func (s *Server) status() statusResponse {
	st := s.deps.Loop.Status()
	resp := statusResponse{
		State:      st.State,
		Mode:       st.Stats.Mode,
		PassID:     st.Stats.PassID,
		Frames:     st.Stats.Frames,
		Detections: st.Stats.Detections,
		DurationMS: st.Stats.Duration.Milliseconds(),
		Warning:    st.Warning,
		Error:      st.Error,
		Upload:     s.deps.Uploads.Current(),
		Settings:   s.deps.Settings.Snapshot(),
	}
	if st.State == playback.Idle && st.Warning == "" {
		resp.Prompt = Prompt
	}
	return resp
}

// HTTP Handlers

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	// Multipart framing on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+1<<20)

	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, upload.ErrTooLarge.Error())
			return
		}
		// Not an error from the user's point of view.
		writeJSON(w, http.StatusBadRequest, map[string]string{"prompt": Prompt})
		return
	}
	defer file.Close()

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	if s.deps.Loop.Busy() {
		writeError(w, http.StatusConflict, playback.ErrBusy.Error())
		return
	}

	saved, err := s.deps.Uploads.Save(header.Filename, file)
	switch {
	case errors.Is(err, upload.ErrUnsupportedFormat):
		s.deps.Loop.Warn(err.Error())
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, upload.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, upload.ErrNoFile):
		writeJSON(w, http.StatusBadRequest, map[string]string{"prompt": Prompt})
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to save upload")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.deps.Loop.Start(s.baseCtx, saved.Path); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log.Info().Str("name", saved.Name).Int64("bytes", saved.Size).Msg("Detection pass queued")
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	// An upload in progress may be about to remove the file being replayed.
	s.uploadMu.Lock()
	err := s.deps.Loop.StartReplay(s.baseCtx)
	s.uploadMu.Unlock()
	if errors.Is(err, playback.ErrBusy) || errors.Is(err, playback.ErrNotReplayable) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	loopUpdates := s.deps.Loop.Subscribe()
	defer s.deps.Loop.Unsubscribe(loopUpdates)
	settingsUpdates := s.deps.Settings.Subscribe()
	defer s.deps.Settings.Unsubscribe(settingsUpdates)

	// The client never sends anything; a read error means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.status()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case <-s.baseCtx.Done():
			return
		case _, ok := <-loopUpdates:
			if !ok {
				return
			}
		case _, ok := <-settingsUpdates:
			if !ok {
				return
			}
		}
		if err := conn.WriteJSON(s.status()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Snapshot())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.Apply(patch))
}

type labelEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	out := make([]labelEntry, len(s.deps.Labels))
	for i, name := range s.deps.Labels {
		out[i] = labelEntry{Index: i, Name: name}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
