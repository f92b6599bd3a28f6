package camera

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverOrdersByIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0", "vcs", "videoX"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	cameras, err := discoverIn(dir, func(fs.FileInfo) bool { return true })
	require.NoError(t, err)

	var ids []string
	for _, c := range cameras {
		ids = append(ids, c.DeviceID)
	}
	assert.Equal(t, []string{"videoX", "video0", "video2", "video10"}, ids)
	assert.Equal(t, filepath.Join(dir, "video0"), cameras[1].DevicePath)
}

func TestDiscoverSkipsNonDevices(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), nil, 0o644))

	cameras, err := discoverIn(dir, func(info fs.FileInfo) bool { return info.Mode()&os.ModeDevice != 0 })
	require.NoError(t, err)
	assert.Empty(t, cameras)

	_, err = discoverIn(filepath.Join(dir, "missing"), func(fs.FileInfo) bool { return true })
	assert.Error(t, err)
}

func TestCameraAt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "video3")
	_, err := CameraAt(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cam, err := CameraAt(path)
	require.NoError(t, err)
	assert.Equal(t, "video3", cam.DeviceID)
	assert.Equal(t, 3, cam.Index())
	assert.Equal(t, -1, PatternCamera.Index())
}
