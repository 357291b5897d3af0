package commands

import (
	"fmt"

	"github.com/bryanchriswhite/DetectStreamer/internal/annotate"
	"github.com/bryanchriswhite/DetectStreamer/internal/config"
	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
	"github.com/bryanchriswhite/DetectStreamer/internal/video"
)

// pipeline holds the collaborators shared by serve and detect.
type pipeline struct {
	detector  detection.Detector
	opener    video.Opener
	annotator *annotate.Annotator
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	opener, err := video.NewOpener(cfg.Video.Decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize video decoder: %w", err)
	}

	annotator, err := annotate.New(detection.MedicalLabels, annotate.DefaultStyle())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize annotator: %w", err)
	}

	// Loaded once; every pass shares it.
	detector, err := openDetector(cfg)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		detector:  detector,
		opener:    opener,
		annotator: annotator,
	}, nil
}

func openDetector(cfg *config.Config) (detection.Detector, error) {
	detector, err := detection.Open(detection.Options{
		Backend:       cfg.Detector.Backend,
		ModelPath:     cfg.Detector.ModelPath,
		WorkerCommand: cfg.Detector.WorkerCommand,
		WorkerArgs:    cfg.Detector.WorkerArgs,
		InputSize:     cfg.Detector.InputSize,
		MinConfidence: cfg.Detector.MinConfidence,
		NMSThreshold:  cfg.Detector.NMSThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load detector: %w", err)
	}
	if cfg.Detector.Backend == config.BackendNone {
		logger.WithComponent("detector").Warn().
			Msg("No detector configured, frames are shown without detections. Set detector.backend to worker or onnx")
	}
	return detector, nil
}
