package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/DetectStreamer/internal/annotate"
	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/output"
	"github.com/bryanchriswhite/DetectStreamer/internal/playback"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
)

var detectCmd = &cobra.Command{
	Use:   "detect FILE",
	Short: "Run detection over a video without the web UI",
	Long: `Run one detection pass over FILE and print the detections that would be
drawn on each frame, using the same threshold rule as the web UI.`,
	Example: `  # Print a table of detections above the configured threshold
  detectstreamer detect surgery.mp4

  # Lower the threshold and emit JSON lines
  detectstreamer detect surgery.mp4 --threshold 0.5 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

var (
	detectThreshold float64
	detectFormat    string
)

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().Float64Var(&detectThreshold, "threshold", -1, "confidence threshold (default from config)")
	detectCmd.Flags().StringVarP(&detectFormat, "format", "f", "table", "output format (table or json)")
}

// frameResult is one line of json output
type frameResult struct {
	Frame      int               `json:"frame"`
	Detections []detectionResult `json:"detections"`
}

type detectionResult struct {
	Label      string `json:"label"`
	Confidence string `json:"confidence"`
	X1         int    `json:"x1"`
	Y1         int    `json:"y1"`
	X2         int    `json:"x2"`
	Y2         int    `json:"y2"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	if detectFormat != "table" && detectFormat != "json" {
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", detectFormat)
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	initial := settings.Settings{
		ConfidenceThreshold: cfg.Settings.ConfidenceThreshold,
		ShowBoxes:           cfg.Settings.ShowBoxes,
	}
	if detectThreshold >= 0 {
		initial.ConfidenceThreshold = detectThreshold
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.detector.Close()

	out := cmd.OutOrStdout()
	var rows []frameResult
	report := func(index int, dets []detection.Detection, s settings.Settings) {
		res := frameResult{Frame: index, Detections: describe(annotate.Visible(dets, s.ConfidenceThreshold))}
		if detectFormat == "json" {
			_ = json.NewEncoder(out).Encode(res)
			return
		}
		rows = append(rows, res)
	}

	sink := &output.Discard{}
	sink.Start()
	loop := playback.New(playback.Options{
		Opener:    p.opener,
		Detector:  p.detector,
		Annotator: p.annotator,
		Settings:  settings.NewStore(initial),
		Sink:      sink,
		OnFrame:   report,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := loop.Run(ctx, args[0])
	if detectFormat == "table" {
		renderTable(out, rows)
	}
	if runErr != nil {
		return runErr
	}

	st := loop.Status()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d frames, %d detections in %s\n",
		st.Stats.Frames, st.Stats.Detections, st.Stats.Duration.Round(time.Millisecond))
	return nil
}

func describe(dets []detection.Detection) []detectionResult {
	out := make([]detectionResult, 0, len(dets))
	for _, d := range dets {
		name, _ := detection.MedicalLabels.Name(d.Class)
		out = append(out, detectionResult{
			Label:      name,
			Confidence: annotate.FormatConfidence(d.Confidence),
			X1:         d.Box.Min.X,
			Y1:         d.Box.Min.Y,
			X2:         d.Box.Max.X,
			Y2:         d.Box.Max.Y,
		})
	}
	return out
}

func renderTable(w io.Writer, rows []frameResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Frame", "Label", "Confidence", "Box"})
	for _, r := range rows {
		for _, d := range r.Detections {
			t.AppendRow(table.Row{r.Frame, d.Label, d.Confidence, fmt.Sprintf("(%d,%d)-(%d,%d)", d.X1, d.Y1, d.X2, d.Y2)})
		}
	}
	t.Render()
}
