package camera

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/frame"
)

func newTestManager(t *testing.T, cfg ManagerConfig, cameras []Camera) (*Manager, *recordingHandler, *[]string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := &recordingHandler{}
	var released []string
	m := NewManager(cfg, h, func(path string) []int {
		released = append(released, path)
		return []int{42}
	}, logger)
	m.discover = func() ([]Camera, error) { return cameras, nil }
	t.Cleanup(m.Stop)
	return m, h, &released
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{Width: 8, Height: 6, FPS: 100, Format: frame.FormatNV21, ReconnectInterval: time.Hour}
}

func TestManagerPatternSource(t *testing.T) {
	t.Parallel()

	m, h, released := newTestManager(t, ManagerConfig{Source: "Pattern", KillHolders: true, Worker: testWorkerConfig()}, nil)
	assert.ErrorIs(t, m.Start(), ErrManagerNotInitialized)
	assert.Zero(t, m.GetFPS())

	require.NoError(t, m.Initialize())
	assert.Equal(t, PatternCamera, m.Camera())
	assert.Equal(t, frame.FormatNV21, m.Format())

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return h.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, *released, "nothing to release for the pattern")

	m.SetFPS(40)
	assert.Equal(t, 40, m.GetFPS())
	stats, ok := m.Stats()
	assert.True(t, ok)
	assert.True(t, stats.Pattern)
	m.Stop()
}

func TestManagerAutoWithoutCameraUsesPattern(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, ManagerConfig{Worker: testWorkerConfig()}, nil)
	require.NoError(t, m.Initialize())
	assert.Equal(t, PatternCamera, m.Camera())
	assert.Empty(t, m.GetCameras())
}

func TestManagerDeviceRequiresCamera(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, ManagerConfig{Source: SourceDevice, Worker: testWorkerConfig()}, nil)
	err := m.Initialize()
	assert.ErrorIs(t, err, ErrNoCamera)
	assert.ErrorIs(t, err, frame.ErrResourceUnavailable)

	m, _, _ = newTestManager(t, ManagerConfig{
		Source: SourceDevice,
		Device: filepath.Join(t.TempDir(), "video7"),
		Worker: testWorkerConfig(),
	}, nil)
	assert.ErrorIs(t, m.Initialize(), frame.ErrResourceUnavailable)
}

func TestManagerPicksFirstDiscovered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "video0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cams := []Camera{{DeviceID: "video0", DevicePath: path}, {DeviceID: "video1", DevicePath: filepath.Join(dir, "video1")}}

	m, _, released := newTestManager(t, ManagerConfig{Source: SourceDevice, KillHolders: true, Worker: testWorkerConfig()}, cams)
	require.NoError(t, m.Initialize())
	assert.Equal(t, "video0", m.Camera().DeviceID)
	assert.Len(t, m.GetCameras(), 2)

	// ffmpeg cannot read a regular file, so the worker just keeps retrying.
	require.NoError(t, m.Start())
	assert.Equal(t, []string{path}, *released)
}

func TestManagerRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, ManagerConfig{Source: "webrtc", Worker: testWorkerConfig()}, nil)
	assert.ErrorIs(t, m.Initialize(), frame.ErrInvalidParameter)
}

func TestManagerGocvWithoutTag(t *testing.T) {
	if GocvAvailable {
		t.Skip("built with gocv")
	}
	t.Parallel()

	cams := []Camera{{DeviceID: "video0", DevicePath: "/dev/video0"}}
	m, _, _ := newTestManager(t, ManagerConfig{Source: SourceGocv, Worker: testWorkerConfig()}, cams)
	assert.ErrorIs(t, m.Initialize(), frame.ErrResourceUnavailable)
}

func TestOutputFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, frame.FormatI420, OutputFormat(" GOCV", frame.FormatNV21))
	assert.Equal(t, frame.FormatNV12, OutputFormat("auto", frame.FormatNV12))
}
