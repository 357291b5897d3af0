package detection

import "fmt"

// Options select a backend by name; see config.DetectorConfig.
type Options struct {
	Backend       string // "worker", "onnx" or "none"
	ModelPath     string
	WorkerCommand string
	WorkerArgs    []string
	InputSize     int
	MinConfidence float64
	NMSThreshold  float64
}

// Open loads the configured detector once at startup.
func Open(opts Options) (Detector, error) {
	switch opts.Backend {
	case "worker":
		w, err := NewWorker(WorkerConfig{
			Command:   opts.WorkerCommand,
			Args:      opts.WorkerArgs,
			ModelPath: opts.ModelPath,
		})
		if err != nil {
			return nil, err
		}
		return w, nil
	case "onnx":
		d, err := NewONNXDetector(ONNXConfig{
			ModelPath:     opts.ModelPath,
			InputSize:     opts.InputSize,
			MinConfidence: float32(opts.MinConfidence),
			NMSThreshold:  float32(opts.NMSThreshold),
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", opts.Backend)
	}
}
