package control

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/frame"
	"edge-viewer-go/internal/pipeline"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Coordinator) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := pipeline.NewCoordinator(nil, pipeline.Options{Format: frame.FormatNV21, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return NewServer(c, logger), c
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)
	c.Start()
	s.AddHealthSection("capture", func() interface{} { return map[string]int{"fps": 30} })

	rec := do(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	decodeJSON(t, rec, &doc)
	assert.Equal(t, "ok", doc["status"])
	assert.Equal(t, true, doc["running"])
	assert.Equal(t, c.SessionID(), doc["session"])
	assert.Equal(t, map[string]interface{}{"fps": float64(30)}, doc["capture"])
}

func TestParamsRoundTrip(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)

	var got ParamsBody
	decodeJSON(t, do(t, s, "GET", "/params", ""), &got)
	assert.Equal(t, 50.0, *got.LowThreshold)
	assert.Equal(t, "canny", *got.Policy)

	rec := do(t, s, "PUT", "/params", `{"high_threshold": 90, "policy": "sobel"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeJSON(t, rec, &got)
	assert.Equal(t, 90.0, *got.HighThreshold)
	assert.Equal(t, 50.0, *got.LowThreshold, "absent fields keep their value")
	assert.True(t, got.Pending)

	assert.Equal(t, edge.Params{LowThreshold: 50, HighThreshold: 90, BlurKernelSize: 3, Policy: edge.PolicySobel}, c.Params())
}

// sliderPipeline applies a concurrent controller update right before every
// parameter merge.
type sliderPipeline struct {
	*pipeline.Coordinator
	slide func()
}

func (p sliderPipeline) ModifyParameters(fn func(*edge.Params)) (edge.Params, error) {
	p.slide()
	return p.Coordinator.ModifyParameters(fn)
}

func TestParamsMergeKeepsConcurrentUpdate(t *testing.T) {
	t.Parallel()

	logger, _ := test.NewNullLogger()
	c, err := pipeline.NewCoordinator(nil, pipeline.Options{Format: frame.FormatNV21, Logger: logger})
	require.NoError(t, err)
	s := NewServer(sliderPipeline{c, func() { require.NoError(t, c.UpdateParameters(20, 150, 5)) }}, logger)

	rec := do(t, s, "PUT", "/params", `{"high_threshold": 90}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	want := edge.Params{LowThreshold: 20, HighThreshold: 90, BlurKernelSize: 5, Policy: edge.PolicyCanny}
	assert.Equal(t, want, c.Params(), "slider change survives the partial PUT")

	var got ParamsBody
	decodeJSON(t, rec, &got)
	assert.Equal(t, 20.0, *got.LowThreshold)
	assert.Equal(t, 5, *got.BlurKernelSize)
}

func TestParamsRejected(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)
	before := c.Params()

	for name, body := range map[string]string{
		"inverted":       `{"low_threshold": 200}`,
		"even kernel":    `{"blur_kernel_size": 4}`,
		"unknown policy": `{"policy": "laplace"}`,
		"unknown field":  `{"low": 1}`,
		"not json":       `low=1`,
	} {
		rec := do(t, s, "PUT", "/params", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		var e errorBody
		decodeJSON(t, rec, &e)
		assert.NotEmpty(t, e.Error, name)
	}
	assert.Equal(t, before, c.Params(), "last good parameters kept")
}

func TestProcessingToggle(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)

	rec := do(t, s, "PUT", "/processing", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, c.ProcessingEnabled())

	assert.Equal(t, http.StatusBadRequest, do(t, s, "PUT", "/processing", `{}`).Code)
	assert.False(t, c.ProcessingEnabled())
}

func TestPipelineStartStop(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)

	rec := do(t, s, "POST", "/pipeline/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, c.Running())

	rec = do(t, s, "POST", "/pipeline/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, c.Running())

	assert.Equal(t, http.StatusNotFound, do(t, s, "POST", "/pipeline/restart", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, "GET", "/pipeline/start", "").Code)
}

func TestStatsAndSnapshot(t *testing.T) {
	t.Parallel()

	s, c := newTestServer(t)
	c.Start()

	rec := do(t, s, "GET", "/snapshot.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	w, h := 8, 4
	data := bytes.Repeat([]byte{128}, frame.PackedSize(frame.FormatNV21, w, h))
	c.HandleFrame(data, w, h)
	require.Eventually(t, func() bool { return c.Stats().FramesProcessed == 1 }, 2*time.Second, 2*time.Millisecond)

	rec = do(t, s, "GET", "/snapshot.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, w, img.Bounds().Dx())

	var stats struct {
		FramesProcessed uint64 `json:"frames_processed"`
		Summary         string `json:"summary"`
	}
	decodeJSON(t, do(t, s, "GET", "/stats", ""), &stats)
	assert.EqualValues(t, 1, stats.FramesProcessed)
	assert.True(t, strings.HasPrefix(stats.Summary, "Frames: 1, FPS: "), stats.Summary)

	assert.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/stats", "").Code)
	assert.Zero(t, c.Stats().FramesProcessed)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Shutdown(ctx))
}
