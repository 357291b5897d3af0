package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// Detector backends
const (
	BackendWorker = "worker" // external process speaking the msgpack frame protocol
	BackendONNX   = "onnx"   // in-process gocv DNN, requires the gocv build tag
	BackendNone   = "none"   // no detections, useful to exercise the UI without a model
)

// Config represents the application configuration
type Config struct {
	ServerPort int            `json:"server_port" yaml:"server_port"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
	Detector   DetectorConfig `json:"detector" yaml:"detector"`
	Settings   SettingsConfig `json:"settings" yaml:"settings"`
	Video      VideoConfig    `json:"video" yaml:"video"`
	Upload     UploadConfig   `json:"upload" yaml:"upload"`
	Stream     StreamConfig   `json:"stream" yaml:"stream"`
}

// DetectorConfig selects and parameterises the object detector
type DetectorConfig struct {
	Backend       string   `json:"backend" yaml:"backend"`
	ModelPath     string   `json:"model_path" yaml:"model_path"`
	WorkerCommand string   `json:"worker_command" yaml:"worker_command"`
	WorkerArgs    []string `json:"worker_args" yaml:"worker_args"`
	InputSize     int      `json:"input_size" yaml:"input_size"`
	MinConfidence float64  `json:"min_confidence" yaml:"min_confidence"`
	NMSThreshold  float64  `json:"nms_threshold" yaml:"nms_threshold"`
}

// SettingsConfig holds the initial values of the settings panel
type SettingsConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	ShowBoxes           bool    `json:"show_boxes" yaml:"show_boxes"`
}

// VideoConfig selects the decoder ("ffmpeg" or "gocv")
type VideoConfig struct {
	Decoder string `json:"decoder" yaml:"decoder"`
}

// UploadConfig limits and places uploaded videos
type UploadConfig struct {
	MaxBytes int64  `json:"max_bytes" yaml:"max_bytes"`
	TempDir  string `json:"temp_dir" yaml:"temp_dir"` // empty means os.TempDir()
}

// StreamConfig controls the MJPEG display sink
type StreamConfig struct {
	FPS         int `json:"fps" yaml:"fps"` // 0 publishes as fast as frames are processed
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		// No model ships with the binary. Switch with
		//   detectstreamer config set detector.backend worker
		//   detectstreamer config set detector.worker_command /path/to/worker
		// or backend onnx with detector.model_path on a gocv build.
		Detector: DetectorConfig{
			Backend:       BackendNone,
			ModelPath:     "best.pt",
			WorkerCommand: "detect-worker",
			WorkerArgs:    []string{"--device", "cpu"},
			InputSize:     640,
			MinConfidence: 0.25,
			NMSThreshold:  0.45,
		},
		Settings: SettingsConfig{
			ConfidenceThreshold: 0.97,
			ShowBoxes:           true,
		},
		Video: VideoConfig{
			Decoder: "ffmpeg",
		},
		Upload: UploadConfig{
			MaxBytes: 200 << 20,
		},
		Stream: StreamConfig{
			FPS:         0,
			JPEGQuality: 90,
		},
	}
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log_level: %s (use: %s)", c.LogLevel, strings.Join(logger.Levels, ", "))
	}
	switch c.Detector.Backend {
	case BackendWorker:
		if c.Detector.WorkerCommand == "" {
			return fmt.Errorf("detector.worker_command is required for the %s backend", BackendWorker)
		}
	case BackendONNX:
		if c.Detector.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the %s backend", BackendONNX)
		}
	case BackendNone:
	default:
		return fmt.Errorf("unknown detector.backend: %s (use: %s, %s, %s)", c.Detector.Backend, BackendWorker, BackendONNX, BackendNone)
	}
	if t := c.Settings.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("settings.confidence_threshold must be within [0,1], got %v", t)
	}
	if c.Video.Decoder != "ffmpeg" && c.Video.Decoder != "gocv" {
		return fmt.Errorf("unknown video.decoder: %s (use: ffmpeg, gocv)", c.Video.Decoder)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.Stream.FPS < 0 {
		return fmt.Errorf("stream.fps must not be negative")
	}
	if q := c.Stream.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("stream.jpeg_quality must be within [1,100], got %d", q)
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/detectstreamer/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "detectstreamer", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty.
// A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Detector.Backend).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk, filling unset fields from Defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Detector.WorkerArgs = append([]string(nil), m.config.Detector.WorkerArgs...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort overrides the server port in memory without persisting it
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel overrides the log level in memory without persisting it
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
}

// Set assigns a dotted key from its string form, validates, and saves.
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()

	var err error
	switch key {
	case "server_port":
		cfg.ServerPort, err = strconv.Atoi(value)
	case "log_level":
		cfg.LogLevel = value
	case "detector.backend":
		cfg.Detector.Backend = value
	case "detector.model_path":
		cfg.Detector.ModelPath = value
	case "detector.worker_command":
		cfg.Detector.WorkerCommand = value
	case "detector.worker_args":
		cfg.Detector.WorkerArgs = strings.Fields(value)
	case "detector.input_size":
		cfg.Detector.InputSize, err = strconv.Atoi(value)
	case "detector.min_confidence":
		cfg.Detector.MinConfidence, err = strconv.ParseFloat(value, 64)
	case "detector.nms_threshold":
		cfg.Detector.NMSThreshold, err = strconv.ParseFloat(value, 64)
	case "settings.confidence_threshold":
		cfg.Settings.ConfidenceThreshold, err = strconv.ParseFloat(value, 64)
	case "settings.show_boxes":
		cfg.Settings.ShowBoxes, err = strconv.ParseBool(value)
	case "video.decoder":
		cfg.Video.Decoder = value
	case "upload.max_bytes":
		cfg.Upload.MaxBytes, err = strconv.ParseInt(value, 10, 64)
	case "upload.temp_dir":
		cfg.Upload.TempDir = value
	case "stream.fps":
		cfg.Stream.FPS, err = strconv.Atoi(value)
	case "stream.jpeg_quality":
		cfg.Stream.JPEGQuality, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q", key, value)
	}

	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
