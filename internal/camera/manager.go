package camera

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/frame"
)

// Capture source names accepted by ManagerConfig.Source.
const (
	SourceAuto    = "auto"
	SourceDevice  = "device"
	SourcePattern = "pattern"
	SourceGocv    = "gocv"
)

// Errors
var (
	ErrManagerNotInitialized = errors.New("camera manager not initialized")
	ErrNoCamera              = errors.Wrap(frame.ErrResourceUnavailable, "no camera found")
)

// ManagerConfig chooses and configures the capture source.
type ManagerConfig struct {
	Source      string // auto, device, pattern or gocv
	Device      string // explicit device path; empty picks the first discovered
	KillHolders bool
	Worker      WorkerConfig
}

// Manager owns the single capture source feeding the pipeline.
type Manager struct {
	cfg     ManagerConfig
	handler FrameHandler
	log     logrus.FieldLogger

	discover func() ([]Camera, error)
	release  func(devicePath string) []int

	mutex   sync.RWMutex
	cameras []Camera
	camera  Camera
	source  Source
	format  frame.PixelFormat
	running bool
}

// NewManager creates a new camera manager. release frees a device held by
// another process and may be nil.
func NewManager(cfg ManagerConfig, handler FrameHandler, release func(string) []int, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = SourceAuto
	}
	return &Manager{
		cfg:      cfg,
		handler:  handler,
		log:      logger.WithField("component", "camera"),
		discover: DiscoverCameras,
		release:  release,
		format:   cfg.Worker.Format,
	}
}

// Initialize discovers cameras and builds the source. It fails when a
// device or gocv source was requested and no device can be found; auto
// falls back to the test pattern instead.
func (m *Manager) Initialize() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.source != nil {
		return nil
	}

	switch m.cfg.Source {
	case SourcePattern:
		m.camera = PatternCamera
		m.source = NewCaptureWorker(PatternCamera, m.handler, m.cfg.Worker, m.log)
		m.format = m.cfg.Worker.Format

	case SourceAuto, SourceDevice:
		cam, err := m.findCamera()
		if err != nil {
			if m.cfg.Source == SourceDevice {
				return err
			}
			m.log.WithError(err).Warn("No camera available, using test pattern")
			cam = PatternCamera
		}
		wcfg := m.cfg.Worker
		wcfg.Fallback = m.cfg.Source == SourceAuto
		m.camera = cam
		m.source = NewCaptureWorker(cam, m.handler, wcfg, m.log)
		m.format = wcfg.Format

	case SourceGocv:
		cam, err := m.findCamera()
		if err != nil {
			return err
		}
		src, err := NewGocvSource(cam, m.handler, m.cfg.Worker, m.log)
		if err != nil {
			return err
		}
		m.camera = cam
		m.source = src
		m.format = frame.FormatI420

	default:
		return errors.Wrapf(frame.ErrInvalidParameter, "unknown capture source %q", m.cfg.Source)
	}

	m.log.WithFields(logrus.Fields{
		"source": m.cfg.Source,
		"device": m.camera.DeviceID,
		"format": m.format.String(),
	}).Info("Capture source selected")
	return nil
}

// findCamera resolves the configured device or the first discovered one.
func (m *Manager) findCamera() (Camera, error) {
	if m.cfg.Device != "" {
		cam, err := CameraAt(m.cfg.Device)
		if err != nil {
			return Camera{}, errors.Wrap(frame.ErrResourceUnavailable, err.Error())
		}
		m.cameras = []Camera{cam}
		return cam, nil
	}

	cameras, err := m.discover()
	if err != nil {
		return Camera{}, errors.Wrap(frame.ErrResourceUnavailable, err.Error())
	}
	m.cameras = cameras
	if len(cameras) == 0 {
		return Camera{}, ErrNoCamera
	}
	return cameras[0], nil
}

// Start frees the device if asked to and starts the source.
func (m *Manager) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.source == nil {
		return ErrManagerNotInitialized
	}
	if m.running {
		return nil
	}
	if m.cfg.KillHolders && m.release != nil && m.camera.DevicePath != "" {
		if pids := m.release(m.camera.DevicePath); len(pids) > 0 {
			m.log.WithField("pids", pids).Info("Released capture device")
		}
	}
	if err := m.source.Start(); err != nil {
		return errors.Wrapf(err, "start capture on %s", m.camera.DeviceID)
	}
	m.running = true
	return nil
}

// Stop stops the capture source
func (m *Manager) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return
	}
	m.source.Stop()
	m.running = false
}

// GetCameras returns list of cameras
func (m *Manager) GetCameras() []Camera {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	cameras := make([]Camera, len(m.cameras))
	copy(cameras, m.cameras)
	return cameras
}

// Camera returns the device being captured, PatternCamera for the
// synthetic source.
func (m *Manager) Camera() Camera {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.camera
}

// Format is the pixel layout of frames handed to the FrameHandler.
func (m *Manager) Format() frame.PixelFormat {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.format
}

// Stats returns worker counters; the gocv source reports none.
func (m *Manager) Stats() (CaptureStats, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if cw, ok := m.source.(*CaptureWorker); ok {
		return cw.GetStats(), true
	}
	return CaptureStats{}, false
}

// SetFPS forwards to the source.
func (m *Manager) SetFPS(fps int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.source != nil {
		m.source.SetFPS(fps)
	}
}

// GetFPS returns the source's target rate, 0 before Initialize.
func (m *Manager) GetFPS() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.source == nil {
		return 0
	}
	return m.source.GetFPS()
}

// OutputFormat is the layout a source delivers given the configured one;
// gocv always produces I420.
func OutputFormat(source string, configured frame.PixelFormat) frame.PixelFormat {
	if strings.EqualFold(strings.TrimSpace(source), SourceGocv) {
		return frame.FormatI420
	}
	return configured
}
