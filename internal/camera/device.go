package camera

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Camera represents a camera device
type Camera struct {
	DeviceID   string
	DevicePath string
	Name       string
	Available  bool
}

// PatternCamera stands in for a device when capture runs on the synthetic
// test pattern only.
var PatternCamera = Camera{DeviceID: "pattern", Name: "Test pattern", Available: true}

// Index returns the N in videoN, or -1.
func (c Camera) Index() int {
	n, err := strconv.Atoi(strings.TrimPrefix(c.DeviceID, "video"))
	if err != nil || !strings.HasPrefix(c.DeviceID, "video") {
		return -1
	}
	return n
}

// DiscoverCameras finds all available camera devices on Linux
func DiscoverCameras() ([]Camera, error) {
	return discoverIn("/dev", func(info fs.FileInfo) bool {
		return info.Mode()&os.ModeDevice != 0
	})
}

// CameraAt builds a Camera for an explicit device path, checking that it
// exists.
func CameraAt(path string) (Camera, error) {
	if _, err := os.Stat(path); err != nil {
		return Camera{}, errors.Wrapf(err, "camera device %s", path)
	}
	id := filepath.Base(path)
	return Camera{DeviceID: id, DevicePath: path, Name: fmt.Sprintf("Camera %s", id), Available: true}, nil
}

// discoverIn lists videoN entries of dir accepted by isDevice, ordered by
// N so video10 sorts after video2.
func discoverIn(dir string, isDevice func(fs.FileInfo) bool) ([]Camera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s directory", dir)
	}

	var cameras []Camera
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "video") {
			continue
		}
		info, err := e.Info()
		if err != nil || !isDevice(info) {
			continue // Skip errors
		}
		cameras = append(cameras, Camera{
			DeviceID:   e.Name(),
			DevicePath: filepath.Join(dir, e.Name()),
			Name:       fmt.Sprintf("Camera %s", e.Name()),
			Available:  true,
		})
	}

	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].Index() < cameras[j].Index()
	})
	return cameras, nil
}
