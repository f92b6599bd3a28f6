//go:build gocv

package camera

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"edge-viewer-go/internal/frame"
)

// GocvAvailable reports whether this binary was built with OpenCV capture.
const GocvAvailable = true

// GocvSource captures through OpenCV's VideoCapture and hands out I420
// frames. Build with -tags gocv.
type GocvSource struct {
	camera  Camera
	handler FrameHandler
	cfg     WorkerConfig
	log     logrus.FieldLogger

	lifeMu  sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	targetFPS atomic.Int32
	frames    atomic.Uint64
}

// NewGocvSource opens nothing yet; the device is opened by Start. Frames
// are always delivered as I420 regardless of cfg.Format.
func NewGocvSource(camera Camera, handler FrameHandler, cfg WorkerConfig, logger logrus.FieldLogger) (*GocvSource, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Format = frame.FormatI420
	s := &GocvSource{
		camera:  camera,
		handler: handler,
		cfg:     cfg,
		log:     logger.WithFields(logrus.Fields{"component": "capture", "device": camera.DeviceID, "backend": "gocv"}),
	}
	s.targetFPS.Store(int32(cfg.FPS))
	return s, nil
}

// Start opens the device and begins reading.
func (s *GocvSource) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running.Load() {
		return errors.New("gocv source already running")
	}

	idx := s.camera.Index()
	if idx < 0 {
		idx = 0
	}
	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return errors.Wrapf(frame.ErrResourceUnavailable, "open camera %d: %v", idx, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(s.cfg.FPS))

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(vc, s.stopCh, s.done)
	return nil
}

// Stop ends capture and releases the device.
func (s *GocvSource) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
	<-s.done
}

// SetFPS clamps fps to [1, configured FPS].
func (s *GocvSource) SetFPS(fps int) {
	if fps < minCaptureFPS {
		fps = minCaptureFPS
	}
	if fps > s.cfg.FPS {
		fps = s.cfg.FPS
	}
	s.targetFPS.Store(int32(fps))
}

// GetFPS returns the current target rate.
func (s *GocvSource) GetFPS() int {
	return int(s.targetFPS.Load())
}

func (s *GocvSource) loop(vc *gocv.VideoCapture, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer vc.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	yuv := gocv.NewMat()
	defer yuv.Close()
	crop := gocv.NewMat()
	defer crop.Close()

	var last time.Time
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if ok := vc.Read(&bgr); !ok || bgr.Empty() {
			s.handler.HandleError(fmt.Sprintf("camera %s: empty read", s.camera.DeviceID))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		now := time.Now()
		if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(s.GetFPS()) {
			continue
		}
		last = now

		// I420 needs even dimensions.
		w, h := bgr.Cols()&^1, bgr.Rows()&^1
		src := bgr
		if w != bgr.Cols() || h != bgr.Rows() {
			region := bgr.Region(image.Rect(0, 0, w, h))
			region.CopyTo(&crop)
			region.Close()
			src = crop
		}
		gocv.CvtColor(src, &yuv, gocv.ColorBGRToYUVI420)

		count := s.frames.Add(1)
		if s.cfg.LogEvery > 0 && count%s.cfg.LogEvery == 1 {
			s.log.WithFields(logrus.Fields{"frame": count, "width": w, "height": h}).Info("Capture progress")
		}
		s.handler.HandleFrame(yuv.ToBytes(), w, h)
	}
}
