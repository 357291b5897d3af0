package commands

import (
	"bytes"
	"context"
	"image"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/DetectStreamer/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigSetGetPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "set", "settings.confidence_threshold", "0.5", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "settings.confidence_threshold = 0.5")

	out, err = execute(t, "config", "get", "settings.confidence_threshold", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "0.5", strings.TrimSpace(out))

	out, err = execute(t, "config", "get", "detector.backend", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "none", strings.TrimSpace(out))

	out, err = execute(t, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	_, err = execute(t, "config", "get", "no_such_key", "--config", path)
	assert.Error(t, err)

	_, err = execute(t, "config", "set", "settings.confidence_threshold", "2", "--config", path)
	assert.Error(t, err)
}

func TestConfigShowJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "show", "--format", "json", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"confidence_threshold": 0.97`)
	assert.Contains(t, out, `"decoder": "ffmpeg"`)

	formatFlag = "yaml"
}

func TestLabelsCommand(t *testing.T) {
	out, err := execute(t, "labels")
	require.NoError(t, err)
	assert.Contains(t, out, "gloves")
	assert.Contains(t, out, "instrument")
	assert.Contains(t, out, "14")
}

func TestDefaultDetectorLoads(t *testing.T) {
	d, err := openDetector(config.Defaults())
	require.NoError(t, err)
	defer d.Close()

	dets, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Empty(t, dets)
}
