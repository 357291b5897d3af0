package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DetectStreamer/internal/api"
	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
	"github.com/bryanchriswhite/DetectStreamer/internal/output"
	"github.com/bryanchriswhite/DetectStreamer/internal/playback"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
	"github.com/bryanchriswhite/DetectStreamer/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DetectStreamer server",
	Long: `Start the DetectStreamer HTTP server.

The server serves the web page, accepts video uploads, runs detection over each
frame and streams the annotated frames as Motion JPEG.`,
	Example: `  # Start server on default port (8080)
  detectstreamer serve

  # Start server on custom port
  detectstreamer serve --port 9090

  # Start with specific config file
  detectstreamer serve --config /path/to/config.yaml

  # Start with debug logging
  detectstreamer serve --log-level debug --pretty-logs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Str("backend", cfg.Detector.Backend).
		Str("decoder", cfg.Video.Decoder).
		Msg("Configuration loaded")

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.detector.Close(); err != nil {
			log.Warn().Err(err).Msg("Detector did not shut down cleanly")
		}
	}()

	stream := output.NewMJPEGOutput(output.Config{JPEGQuality: cfg.Stream.JPEGQuality})
	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer stream.Stop()

	uploads := upload.NewStore(cfg.Upload.TempDir, cfg.Upload.MaxBytes)
	defer func() {
		if err := uploads.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to clean up upload")
		}
	}()

	store := settings.NewStore(settings.Settings{
		ConfidenceThreshold: cfg.Settings.ConfidenceThreshold,
		ShowBoxes:           cfg.Settings.ShowBoxes,
	})

	loop := playback.New(playback.Options{
		Opener:    p.opener,
		Detector:  p.detector,
		Annotator: p.annotator,
		Settings:  store,
		Sink:      stream,
		FPS:       cfg.Stream.FPS,
	})

	server := api.NewServer(api.Deps{
		Config:   configMgr,
		Loop:     loop,
		Uploads:  uploads,
		Settings: store,
		Labels:   detection.MedicalLabels,
		Stream:   stream,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("web_ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("stream", fmt.Sprintf("http://localhost:%d/stream", cfg.ServerPort)).
		Msg("DetectStreamer is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigChan:
	}

	log.Info().Msg("Shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Streaming clients hold their connections until the output closes them.
	stream.Stop()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	// Let a cancelled pass release its video before the upload is removed.
	deadline := time.Now().Add(5 * time.Second)
	for loop.Busy() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
