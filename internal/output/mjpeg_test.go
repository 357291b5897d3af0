package output

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 200, 0, 255})
		}
	}
	return img
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{JPEGQuality: 80})
	assert.Error(t, m.WriteFrame(testFrame()))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start")
	require.NoError(t, m.WriteFrame(testFrame()))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestLastFrameIsJPEG(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	assert.Nil(t, m.LastFrame())
	require.NoError(t, m.WriteFrame(testFrame()))

	img, err := jpeg.Decode(bytes.NewReader(m.LastFrame()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	stats := m.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Frames)
}

func TestStreamHandlerSendsLastFrame(t *testing.T) {
	m := NewMJPEGOutput(Config{JPEGQuality: 75})
	require.NoError(t, m.Start())
	require.NoError(t, m.WriteFrame(testFrame()))

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)

	// Stopping closes client channels and ends the response.
	require.NoError(t, m.Stop())
	_, err = io.Copy(io.Discard, r)
	require.NoError(t, err)
}

func TestSnapshotHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, m.WriteFrame(testFrame()))
	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, m.LastFrame(), rec.Body.Bytes())
}

func TestStatsHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.GetStatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "Stopped"))
	assert.True(t, strings.Contains(body, "never"))
}
