package camera

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/frame"
)

// minCaptureFPS is the floor for SetFPS.
const minCaptureFPS = 1

// ErrStreamEnded is returned when FFmpeg closes its output.
var ErrStreamEnded = errors.New("capture stream ended")

// FrameHandler receives packed frames from a source. HandleFrame must not
// retain data after it returns.
type FrameHandler interface {
	HandleFrame(data []byte, width, height int)
	HandleError(msg string)
}

// Source is a running frame producer.
type Source interface {
	Start() error
	Stop()
	SetFPS(fps int)
	GetFPS() int
}

// WorkerConfig describes what FFmpeg is asked to deliver.
type WorkerConfig struct {
	Width             int
	Height            int
	FPS               int               // capture rate and SetFPS ceiling
	Format            frame.PixelFormat // -pix_fmt of the rawvideo output
	InputFormat       string            // "mjpeg" or "yuyv", tried first
	ReconnectInterval time.Duration
	Fallback          bool   // run the test pattern while the device is down
	LogEvery          uint64 // 0 disables periodic frame logs
}

// CaptureStats is a snapshot of worker counters.
type CaptureStats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
	Errors  uint32 `json:"errors"`
	FPS     int    `json:"fps"`
	Pattern bool   `json:"pattern"`
}

// CaptureWorker handles camera capture in a goroutine
type CaptureWorker struct {
	camera  Camera
	handler FrameHandler
	cfg     WorkerConfig
	log     logrus.FieldLogger

	lifeMu  sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	// FFmpeg capture
	ffmpegCmd *exec.Cmd
	ffmpegMu  sync.Mutex
	command   func(name string, args ...string) *exec.Cmd

	targetFPS atomic.Int32
	now       func() time.Time

	// Stats
	lastFrameTime atomic.Int64
	frameCount    atomic.Uint64
	errorCount    atomic.Uint32
	skippedFrames atomic.Uint64
	onPattern     atomic.Bool
}

// NewCaptureWorker creates a capture worker for camera. A camera without a
// DevicePath (PatternCamera) only ever produces the test pattern.
func NewCaptureWorker(camera Camera, handler FrameHandler, cfg WorkerConfig, logger logrus.FieldLogger) *CaptureWorker {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cw := &CaptureWorker{
		camera:  camera,
		handler: handler,
		cfg:     cfg,
		log: logger.WithFields(logrus.Fields{
			"component": "capture",
			"device":    camera.DeviceID,
		}),
		command: exec.Command,
		now:     time.Now,
	}
	cw.targetFPS.Store(int32(cfg.FPS))
	cw.log.WithFields(logrus.Fields{
		"width":  cfg.Width,
		"height": cfg.Height,
		"fps":    cfg.FPS,
		"format": cfg.Format.String(),
	}).Info("Capture worker configured")
	return cw
}

// SetFPS updates the target FPS. FFmpeg keeps running at the configured
// rate and surplus frames are skipped, so this never restarts capture.
func (cw *CaptureWorker) SetFPS(fps int) {
	if fps < minCaptureFPS {
		fps = minCaptureFPS
	}
	if fps > cw.cfg.FPS {
		fps = cw.cfg.FPS
	}
	oldFPS := cw.targetFPS.Swap(int32(fps))
	if oldFPS != int32(fps) {
		cw.log.WithFields(logrus.Fields{"from": oldFPS, "to": fps}).Info("Target FPS changed")
	}
}

// GetFPS returns current FPS setting
func (cw *CaptureWorker) GetFPS() int {
	return int(cw.targetFPS.Load())
}

// GetMaxFPS returns the rate FFmpeg is asked for
func (cw *CaptureWorker) GetMaxFPS() int {
	return cw.cfg.FPS
}

// GetResolution returns current capture resolution
func (cw *CaptureWorker) GetResolution() (int, int) {
	return cw.cfg.Width, cw.cfg.Height
}

// Camera returns the device this worker reads.
func (cw *CaptureWorker) Camera() Camera {
	return cw.camera
}

// Start begins capturing frames from camera
func (cw *CaptureWorker) Start() error {
	cw.lifeMu.Lock()
	defer cw.lifeMu.Unlock()

	if cw.running.Load() {
		return errors.New("capture worker already running")
	}
	if frame.PackedSize(cw.cfg.Format, cw.cfg.Width, cw.cfg.Height) == 0 {
		return errors.Wrapf(frame.ErrInvalidParameter, "capture size %dx%d", cw.cfg.Width, cw.cfg.Height)
	}

	cw.stopCh = make(chan struct{})
	cw.done = make(chan struct{})
	cw.running.Store(true)
	go cw.captureLoop(cw.stopCh, cw.done)
	return nil
}

// Stop stops the worker and waits for the capture goroutine to exit.
func (cw *CaptureWorker) Stop() {
	cw.lifeMu.Lock()
	defer cw.lifeMu.Unlock()

	if !cw.running.Swap(false) {
		return
	}
	close(cw.stopCh)
	cw.killFFmpeg()
	<-cw.done
}

// GetStats returns capture statistics
func (cw *CaptureWorker) GetStats() CaptureStats {
	return CaptureStats{
		Frames:  cw.frameCount.Load(),
		Skipped: cw.skippedFrames.Load(),
		Errors:  cw.errorCount.Load(),
		FPS:     cw.GetFPS(),
		Pattern: cw.onPattern.Load(),
	}
}

// captureLoop runs the main capture loop using FFmpeg. When the device
// fails it either falls back to the test pattern, which hands control back
// every ReconnectInterval, or just waits that long before retrying.
func (cw *CaptureWorker) captureLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if cw.camera.DevicePath == "" {
		cw.runTestPatternLoop(stopCh, false)
		return
	}

	for cw.running.Load() {
		err := cw.tryRealCameraCapture()
		if !cw.running.Load() {
			return
		}
		if err != nil {
			cw.errorCount.Add(1)
			cw.handler.HandleError(fmt.Sprintf("camera %s: %v", cw.camera.DeviceID, err))
		}

		if cw.cfg.Fallback {
			cw.log.WithError(err).Warn("Real camera failed, entering recovery mode")
			if !cw.runTestPatternLoop(stopCh, true) {
				return
			}
			continue
		}

		select {
		case <-stopCh:
			return
		case <-time.After(cw.cfg.ReconnectInterval):
		}
	}
}

// tryRealCameraCapture walks the input formats until one streams. It
// returns once a working stream ends or every format failed.
func (cw *CaptureWorker) tryRealCameraCapture() error {
	var lastErr error
	for _, input := range cw.inputFormats() {
		delivered, err := cw.tryFFmpegCapture(cw.ffmpegArgs(input))
		if !cw.running.Load() {
			return nil
		}
		if delivered > 0 {
			return err
		}
		lastErr = err
		cw.log.WithError(err).WithField("input_format", input).Debug("Input format produced no frames")
	}
	return lastErr
}

// inputFormats orders the v4l2 input formats: configured first, then the
// other one, then FFmpeg's own choice.
func (cw *CaptureWorker) inputFormats() []string {
	if cw.cfg.InputFormat == "mjpeg" {
		return []string{"mjpeg", "yuyv422", ""}
	}
	return []string{"yuyv422", "mjpeg", ""}
}

// ffmpegArgs builds the command line for one input format; an empty input
// lets FFmpeg pick.
func (cw *CaptureWorker) ffmpegArgs(input string) []string {
	args := []string{"-hide_banner", "-loglevel", "error",
		"-thread_queue_size", "512", "-probesize", "32", "-analyzeduration", "0",
		"-f", "v4l2"}
	if input != "" {
		args = append(args, "-input_format", input)
	}
	return append(args,
		"-video_size", fmt.Sprintf("%dx%d", cw.cfg.Width, cw.cfg.Height),
		"-framerate", strconv.Itoa(cw.cfg.FPS),
		"-i", cw.camera.DevicePath,
		"-f", "rawvideo", "-pix_fmt", cw.cfg.Format.FFmpegName(), "-")
}

// tryFFmpegCapture runs one FFmpeg process until its stream ends.
func (cw *CaptureWorker) tryFFmpegCapture(args []string) (uint64, error) {
	cw.log.WithField("args", args).Debug("Starting FFmpeg")

	cw.ffmpegMu.Lock()
	if !cw.running.Load() {
		cw.ffmpegMu.Unlock()
		return 0, nil
	}
	cmd := cw.command("ffmpeg", args...)
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cw.ffmpegMu.Unlock()
		return 0, errors.Wrap(err, "ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		cw.ffmpegMu.Unlock()
		return 0, errors.Wrap(err, "start ffmpeg")
	}
	cw.ffmpegCmd = cmd
	cw.ffmpegMu.Unlock()

	// Always reap the process to prevent zombies
	defer func() {
		cw.killFFmpeg()
		cmd.Wait()
		cw.ffmpegMu.Lock()
		if cw.ffmpegCmd == cmd {
			cw.ffmpegCmd = nil
		}
		cw.ffmpegMu.Unlock()
	}()

	cw.log.WithField("pid", cmd.Process.Pid).Info("FFmpeg started")
	cw.onPattern.Store(false)
	return cw.pump(stdout)
}

func (cw *CaptureWorker) killFFmpeg() {
	cw.ffmpegMu.Lock()
	defer cw.ffmpegMu.Unlock()
	if cw.ffmpegCmd != nil && cw.ffmpegCmd.Process != nil {
		cw.ffmpegCmd.Process.Kill()
	}
}

// pump reads fixed-size rawvideo frames from r and hands them on, applying
// time-based frame limiting. It returns the number of frames delivered.
func (cw *CaptureWorker) pump(r io.Reader) (uint64, error) {
	w, h := cw.cfg.Width, cw.cfg.Height
	buf := make([]byte, frame.PackedSize(cw.cfg.Format, w, h))

	var delivered uint64
	var lastProcessed time.Time
	for cw.running.Load() {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !cw.running.Load() {
				return delivered, nil
			}
			if errors.Is(err, io.EOF) {
				return delivered, ErrStreamEnded
			}
			return delivered, errors.Wrap(err, "read frame")
		}

		// Cameras may ignore -framerate, so limit by wall time.
		now := cw.now()
		if !lastProcessed.IsZero() && now.Sub(lastProcessed) < cw.frameInterval() {
			cw.skippedFrames.Add(1)
			continue
		}
		lastProcessed = now

		cw.deliver(buf, now)
		delivered++
	}
	return delivered, nil
}

func (cw *CaptureWorker) frameInterval() time.Duration {
	fps := cw.GetFPS()
	if fps <= 0 {
		fps = cw.cfg.FPS
	}
	return time.Second / time.Duration(fps)
}

func (cw *CaptureWorker) deliver(buf []byte, at time.Time) {
	count := cw.frameCount.Add(1)
	cw.lastFrameTime.Store(at.UnixNano())
	if cw.cfg.LogEvery > 0 && count%cw.cfg.LogEvery == 1 {
		cw.log.WithFields(logrus.Fields{
			"frame":   count,
			"fps":     cw.GetFPS(),
			"skipped": cw.skippedFrames.Load(),
			"pattern": cw.onPattern.Load(),
		}).Info("Capture progress")
	}
	cw.handler.HandleFrame(buf, cw.cfg.Width, cw.cfg.Height)
}

// runTestPatternLoop generates test patterns at the target rate. With
// retry set it returns true every ReconnectInterval so the caller can try
// the device again; it returns false once the worker is stopped.
func (cw *CaptureWorker) runTestPatternLoop(stopCh <-chan struct{}, retry bool) bool {
	cw.log.Info("Using test pattern")
	cw.onPattern.Store(true)

	var retryC <-chan time.Time
	if retry {
		retryTicker := time.NewTicker(cw.cfg.ReconnectInterval)
		defer retryTicker.Stop()
		retryC = retryTicker.C
	}

	var buf []byte
	n := 0
	for cw.running.Load() {
		buf = PatternFrame(cw.cfg.Format, cw.cfg.Width, cw.cfg.Height, n, buf)
		n++
		cw.deliver(buf, cw.now())

		select {
		case <-stopCh:
			return false
		case <-retryC:
			cw.log.Debug("Attempting to reconnect")
			return true
		case <-time.After(cw.frameInterval()):
		}
	}
	return false
}
