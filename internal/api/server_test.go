package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/DetectStreamer/internal/annotate"
	"github.com/bryanchriswhite/DetectStreamer/internal/detection"
	"github.com/bryanchriswhite/DetectStreamer/internal/output"
	"github.com/bryanchriswhite/DetectStreamer/internal/playback"
	"github.com/bryanchriswhite/DetectStreamer/internal/settings"
	"github.com/bryanchriswhite/DetectStreamer/internal/upload"
	"github.com/bryanchriswhite/DetectStreamer/internal/video"
)

type frameStream struct {
	left int
}

func (f *frameStream) Read() (*image.RGBA, error) {
	if f.left == 0 {
		return nil, io.EOF
	}
	f.left--
	return image.NewRGBA(image.Rect(0, 0, 32, 32)), nil
}

func (f *frameStream) Close() error { return nil }

type testEnv struct {
	server *Server
	http   *httptest.Server

	mu      sync.Mutex
	opens   int
	openErr error
}

func newTestEnv(t *testing.T, frames int) *testEnv {
	t.Helper()

	env := &testEnv{}
	opener := video.OpenerFunc(func(path string) (video.Stream, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.opens++
		if env.openErr != nil {
			return nil, env.openErr
		}
		return &frameStream{left: frames}, nil
	})

	ann, err := annotate.New(detection.MedicalLabels, annotate.DefaultStyle())
	require.NoError(t, err)

	sink := output.NewMJPEGOutput(output.Config{JPEGQuality: 70})
	require.NoError(t, sink.Start())

	store := settings.NewStore(settings.Default())
	loop := playback.New(playback.Options{
		Opener:    opener,
		Detector:  detection.Nop{},
		Annotator: ann,
		Settings:  store,
		Sink:      sink,
	})
	uploads := upload.NewStore(t.TempDir(), 1<<20)

	env.server = NewServer(Deps{
		Loop:           loop,
		Uploads:        uploads,
		Settings:       store,
		Labels:         detection.MedicalLabels,
		Stream:         sink,
		MaxUploadBytes: 1 << 20,
	})
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		env.http.Close()
		env.server.cancel()
		sink.Stop()
		uploads.Close()
	})
	return env
}

func (e *testEnv) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *testEnv) status(t *testing.T) statusResponse {
	t.Helper()
	resp, err := http.Get(e.http.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func (e *testEnv) upload(t *testing.T, field, name, content string) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.http.URL+"/api/upload", mw.FormDataContentType(), body)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) waitState(t *testing.T, want playback.State) statusResponse {
	t.Helper()
	var st statusResponse
	require.Eventually(t, func() bool {
		st = e.status(t)
		return st.State == want && !e.server.deps.Loop.Busy()
	}, 3*time.Second, 10*time.Millisecond)
	return st
}

func TestStatusShowsPromptWhenIdle(t *testing.T) {
	env := newTestEnv(t, 3)

	st := env.status(t)
	assert.Equal(t, playback.Idle, st.State)
	assert.Equal(t, Prompt, st.Prompt)
	assert.Nil(t, st.Upload)
	assert.Equal(t, 0.97, st.Settings.ConfidenceThreshold)
	assert.True(t, st.Settings.ShowBoxes)
}

func TestUploadWithoutFileStaysIdle(t *testing.T) {
	env := newTestEnv(t, 3)

	resp := env.upload(t, "", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, Prompt, body["prompt"])

	st := env.status(t)
	assert.Equal(t, playback.Idle, st.State)
	assert.Equal(t, Prompt, st.Prompt)
	assert.Equal(t, 0, env.openCount())
}

func TestUploadRejectsOtherFormats(t *testing.T) {
	env := newTestEnv(t, 3)

	resp := env.upload(t, "video", "clip.avi", "data")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	st := env.status(t)
	assert.Equal(t, playback.Idle, st.State)
	assert.Contains(t, st.Warning, "unsupported video format")
	assert.Equal(t, 0, env.openCount())
}

func TestUploadRunsPassThenReplay(t *testing.T) {
	env := newTestEnv(t, 4)

	resp := env.upload(t, "video", "surgery.mp4", "not really a video")
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	st := env.waitState(t, playback.Done)
	assert.Equal(t, 4, st.Frames)
	assert.Equal(t, playback.ModeDetect, st.Mode)
	assert.Empty(t, st.Prompt)
	require.NotNil(t, st.Upload)
	assert.Equal(t, "surgery.mp4", st.Upload.Name)

	resp, err := http.Post(env.http.URL+"/api/replay", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		st = env.status(t)
		return st.Mode == playback.ModeReplay && st.State == playback.Done
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, st.Frames)
	assert.Equal(t, 2, env.openCount())
}

func TestReplayBeforeAnyPass(t *testing.T) {
	env := newTestEnv(t, 3)

	resp, err := http.Post(env.http.URL+"/api/replay", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 0, env.openCount())
}

func TestCorruptUploadWarnsOnce(t *testing.T) {
	env := newTestEnv(t, 3)
	env.openErr = fmt.Errorf("%w: invalid data found when processing input", video.ErrOpen)

	resp := env.upload(t, "video", "broken.mp4", "garbage")
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var st statusResponse
	require.Eventually(t, func() bool {
		st = env.status(t)
		return st.Warning != "" && !env.server.deps.Loop.Busy()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, playback.Idle, st.State)
	assert.Contains(t, st.Warning, "invalid data found")
	assert.Equal(t, 0, st.Frames)
	assert.Equal(t, 1, env.openCount())
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t, 1)

	req, err := http.NewRequest(http.MethodPut, env.http.URL+"/api/settings",
		strings.NewReader(`{"confidence_threshold": 1.7}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var got settings.Settings
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, 1.0, got.ConfidenceThreshold)
	assert.True(t, got.ShowBoxes)

	req, err = http.NewRequest(http.MethodPut, env.http.URL+"/api/settings", strings.NewReader(`{"show_boxes": false}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(env.http.URL + "/api/settings")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, settings.Settings{ConfidenceThreshold: 1, ShowBoxes: false}, got)

	req, err = http.NewRequest(http.MethodPut, env.http.URL+"/api/settings", strings.NewReader(`{nope`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLabelsEndpoint(t *testing.T) {
	env := newTestEnv(t, 1)

	resp, err := http.Get(env.http.URL + "/api/labels")
	require.NoError(t, err)
	defer resp.Body.Close()

	var labels []labelEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&labels))
	require.Len(t, labels, 15)
	assert.Equal(t, labelEntry{Index: 0, Name: "gloves"}, labels[0])
	assert.Equal(t, labelEntry{Index: 14, Name: "instrument"}, labels[14])
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, 1)

	resp, err := http.Get(env.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(data)
	assert.Contains(t, page, "#001F3D")
	assert.Contains(t, page, "Confidence Threshold")
	assert.Contains(t, page, `src="/stream"`)
}

func TestStatusWebSocket(t *testing.T) {
	env := newTestEnv(t, 2)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st statusResponse
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, playback.Idle, st.State)

	off := false
	env.server.deps.Settings.Apply(settings.Patch{ShowBoxes: &off})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&st))
	assert.False(t, st.Settings.ShowBoxes)
}
