//go:build !gocv

package camera

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/frame"
)

// GocvAvailable reports whether this binary was built with OpenCV capture.
const GocvAvailable = false

// GocvSource is unavailable without the gocv build tag.
type GocvSource struct{}

// NewGocvSource always fails; rebuild with -tags gocv.
func NewGocvSource(Camera, FrameHandler, WorkerConfig, logrus.FieldLogger) (*GocvSource, error) {
	return nil, errors.Wrap(frame.ErrResourceUnavailable, "gocv capture not compiled in (build with -tags gocv)")
}

func (*GocvSource) Start() error { return frame.ErrResourceUnavailable }
func (*GocvSource) Stop()        {}
func (*GocvSource) SetFPS(int)   {}
func (*GocvSource) GetFPS() int  { return 0 }
