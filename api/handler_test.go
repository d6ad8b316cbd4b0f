package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clipmerge/config"
	"clipmerge/export"
	"clipmerge/media"
	"clipmerge/task"
)

type mockProber struct {
	probeFunc func(ctx context.Context, path string) (media.Descriptor, error)
}

func (m *mockProber) Probe(ctx context.Context, path string) (media.Descriptor, error) {
	if m.probeFunc != nil {
		return m.probeFunc(ctx, path)
	}
	return media.Descriptor{VideoCodec: "h264", AudioCodec: "aac", Width: 1920, Height: 1080, FrameRate: 60}, nil
}

type mockExporter struct{}

func (m *mockExporter) Export(ctx context.Context, req export.Request, md media.Metadata, sink export.Sink) export.Outcome {
	sink(export.Progress{Stage: export.StageConverting, Current: 1, Total: 1, Percent: 50})
	sink(export.Progress{Stage: export.StageMerging, Current: 1, Total: 1, Percent: 100})
	return export.Outcome{OutputPath: filepath.Join(req.OutputDir, "output_20240503_090000.mp4")}
}

type mockThumbnailer struct {
	thumbFunc func(ctx context.Context, path string) (string, error)
}

func (m *mockThumbnailer) Thumbnail(ctx context.Context, path string) (string, error) {
	return m.thumbFunc(ctx, path)
}

// closeNotifyingRecorder lets gin's Stream run against a recorder.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool { return r.closed }

type testEnv struct {
	router *gin.Engine
	cfg    *config.Config
	tm     *task.Manager
	prober *mockProber
	thumbs *mockThumbnailer
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		cfg: &config.Config{
			AuthEnable:  false,
			FFTimeout:   10 * time.Second,
			JobLifetime: time.Hour,
		},
		prober: &mockProber{},
		thumbs: &mockThumbnailer{},
	}
	tm, err := task.NewManager(env.cfg, env.prober, &mockExporter{}, nil, zap.NewNop())
	require.NoError(t, err)
	env.tm = tm
	env.router = SetupRouter(tm, env.thumbs, env.cfg, zap.NewNop())
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	env.router.ServeHTTP(w, req)
	return w
}

func TestHandleCreateExport(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("POST", "/api/v1/exports", `{"videoPaths": ["/v/a.mp4", "/v/b.mov"], "outputDir": "/out"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["exportId"])

	job, found := env.tm.Get(resp["exportId"])
	require.True(t, found)
	assert.Equal(t, []string{"/v/a.mp4", "/v/b.mov"}, job.VideoPaths)

	t.Run("missing fields", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/exports", `{"outputDir": "/out"}`).Code)
		assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/exports", `{"videoPaths": ["/v/a.mp4"]}`).Code)
		assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/exports", `not json`).Code)
	})
}

func TestHandleGetExport(t *testing.T) {
	env := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.tm.Start(ctx)

	job, err := env.tm.Submit(export.Request{VideoPaths: []string{"/v/a.mp4"}, OutputDir: "/out"})
	require.NoError(t, err)

	var resp task.Job
	require.Eventually(t, func() bool {
		w := env.do("GET", "/api/v1/exports/"+job.ID, "")
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, "/out/output_20240503_090000.mp4", resp.OutputPath)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 100, resp.Progress.Percent)

	w := env.do("GET", "/api/v1/exports/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListExports(t *testing.T) {
	env := setupTestRouter(t)
	first, _ := env.tm.Submit(export.Request{VideoPaths: []string{"/v/a.mp4"}, OutputDir: "/out"})
	second, _ := env.tm.Submit(export.Request{VideoPaths: []string{"/v/b.mp4"}, OutputDir: "/out"})

	w := env.do("GET", "/api/v1/exports", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var jobs []task.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestHandleCancelExport(t *testing.T) {
	env := setupTestRouter(t)
	job, _ := env.tm.Submit(export.Request{VideoPaths: []string{"/v/a.mp4"}, OutputDir: "/out"})

	w := env.do("PATCH", "/api/v1/exports/"+job.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	canceled, _ := env.tm.Get(job.ID)
	assert.Equal(t, task.StatusCanceled, canceled.Status)

	w = env.do("PATCH", "/api/v1/exports/"+job.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("PATCH", "/api/v1/exports/nonexistent/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExportEvents(t *testing.T) {
	env := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := env.tm.Submit(export.Request{VideoPaths: []string{"/v/a.mp4"}, OutputDir: "/out"})
	require.NoError(t, err)
	env.tm.Start(ctx)

	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	req, _ := http.NewRequest("GET", "/api/v1/exports/"+job.ID+"/events", nil)
	env.router.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 2, bytes.Count([]byte(body), []byte("event:progress")))
	assert.Contains(t, body, "event:complete")
	assert.Contains(t, body, "output_20240503_090000.mp4")
	assert.NotContains(t, body, "event:error")

	t.Run("unknown export", func(t *testing.T) {
		w := env.do("GET", "/api/v1/exports/nonexistent/events", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleProbe(t *testing.T) {
	env := setupTestRouter(t)
	env.prober.probeFunc = func(ctx context.Context, path string) (media.Descriptor, error) {
		switch path {
		case "/v/IMG_0001.MOV":
			return media.Descriptor{VideoCodec: "hevc", AudioCodec: "aac", Width: 3840, Height: 2160, FrameRate: 30}, nil
		case "/v/00001.MTS":
			return media.Descriptor{VideoCodec: "h264", AudioCodec: "ac3", Width: 1920, Height: 1080, FrameRate: 59.94}, nil
		}
		return media.Descriptor{}, &media.ProbeError{Path: path, ExitCode: 1, Stderr: "Invalid data found when processing input"}
	}

	w := env.do("POST", "/api/v1/probe", `{"paths": ["/v/IMG_0001.MOV", "/v/00001.MTS", "/v/broken.mp4"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results      []ProbeResult `json:"results"`
		MixedSources bool          `json:"mixedSources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.MixedSources)

	assert.Equal(t, media.SourcePhone, resp.Results[0].Source)
	assert.True(t, resp.Results[0].NeedsConversion)
	assert.Equal(t, media.SourceCamcorder, resp.Results[1].Source)
	assert.Nil(t, resp.Results[2].Metadata)
	assert.Contains(t, resp.Results[2].Error, "Invalid data found")

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/probe", `{"paths": []}`).Code)
}

func TestHandleThumbnail(t *testing.T) {
	env := setupTestRouter(t)
	thumb := filepath.Join(t.TempDir(), "thumb.jpg")
	require.NoError(t, os.WriteFile(thumb, []byte("jpeg bytes"), 0o644))

	env.thumbs.thumbFunc = func(ctx context.Context, path string) (string, error) {
		if path == "/v/a.mp4" {
			return thumb, nil
		}
		return "", errors.New("ffmpeg thumbnail failed (exit code 1)")
	}

	w := env.do("GET", "/api/v1/thumbnail?path=/v/a.mp4", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg bytes", w.Body.String())

	assert.Equal(t, http.StatusUnprocessableEntity, env.do("GET", "/api/v1/thumbnail?path=/v/missing.mp4", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/thumbnail?path=relative.mp4", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/v1/thumbnail", "").Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		env.cfg.AuthEnable = false
		assert.Equal(t, http.StatusOK, env.do("GET", "/api/v1/exports", "").Code)
	})

	send := func(header string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		env.router.ServeHTTP(w, req)
		return w.Code
	}

	env.cfg.AuthEnable = true
	env.cfg.AuthKey = "secret"

	t.Run("Auth enabled, no token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send(""))
	})

	t.Run("Auth enabled, bad scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send("Basic secret"))
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send("Bearer wrong-key"))
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("Bearer secret"))
	})

	t.Run("Health is public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, env.do("GET", "/health", "").Code)
	})
}
