// Package pipeline moves camera frames through conversion and edge
// filtering to a display sink.
//
// The capture side submits frames into a single-slot mailbox and never
// waits; one consumer goroutine takes the newest frame, converts it,
// filters it and hands it to the Sink. Frames that arrive while the
// consumer is busy replace the waiting frame, so at most one frame is in
// flight and the display always shows the most recent capture.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/convert"
	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/frame"
)

// ErrNotRunning is returned for submissions while the pipeline is stopped.
var ErrNotRunning = errors.New("pipeline not running")

// Source is a capture producer. Once attached, it is started and stopped
// together with the coordinator.
type Source interface {
	Start() error
	Stop()
}

// State is the coordinator's position in the per-frame cycle.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateConverting
	StateFiltering
	StateRendering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateConverting:
		return "converting"
	case StateFiltering:
		return "filtering"
	case StateRendering:
		return "rendering"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	// Format is the layout of byte slices passed to HandleFrame.
	Format frame.PixelFormat
	// Params are the initial filter parameters.
	Params edge.Params
	// DisableProcessing starts with the filter chain off; converted
	// frames are then shown as-is.
	DisableProcessing bool
	// LogEvery logs a debug line every N completed frames. 0 disables.
	LogEvery uint64
	Logger   logrus.FieldLogger
	Clock    func() time.Time
}

// Coordinator owns the slot, the consumer goroutine, the current filter
// parameters and the performance counters.
type Coordinator struct {
	format   frame.PixelFormat
	logEvery uint64
	log      logrus.FieldLogger
	now      func() time.Time
	sink     Sink

	params     *paramStore
	stats      *statsTracker
	processing atomic.Bool
	state      atomic.Int32
	running    atomic.Bool
	slot       atomic.Pointer[frameSlot]

	// lifeMu serialises Start and Stop, including the wait for the
	// consumer to exit.
	lifeMu    sync.Mutex
	source    Source
	cancel    context.CancelFunc
	done      chan struct{}
	sessionID atomic.Value // string

	outMu  sync.RWMutex
	latest *frame.PixelBuffer
}

// NewCoordinator returns a stopped coordinator delivering to sink. A nil
// sink is replaced by DiscardSink.
func NewCoordinator(sink Sink, opts Options) (*Coordinator, error) {
	if sink == nil {
		sink = DiscardSink{}
	}
	if opts.Params == (edge.Params{}) {
		opts.Params = edge.DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, errors.Wrap(err, "initial filter parameters")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Coordinator{
		format:   opts.Format,
		logEvery: opts.LogEvery,
		log:      opts.Logger.WithField("component", "pipeline"),
		now:      opts.Clock,
		sink:     sink,
		params:   newParamStore(opts.Params),
		stats:    newStatsTracker(opts.Clock),
	}
	c.processing.Store(!opts.DisableProcessing)
	c.sessionID.Store("")
	return c, nil
}

// Start launches the consumer and begins a fresh session: counters are
// reset and a new session id is issued. Calling Start on a running
// coordinator does nothing.
func (c *Coordinator) Start() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.running.Load() {
		return
	}

	slot := newFrameSlot()
	slot.onStored = c.markCapturing
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	id := uuid.NewString()

	c.stats.reset()
	c.slot.Store(slot)
	c.cancel = cancel
	c.done = done
	c.sessionID.Store(id)
	c.state.Store(int32(StateIdle))
	c.running.Store(true)

	go c.run(ctx, slot, done)
	c.log.WithFields(logrus.Fields{
		"session": id,
		"params":  fmt.Sprintf("%+v", c.params.Get()),
	}).Info("Pipeline started")

	if c.source != nil {
		if err := c.source.Start(); err != nil {
			c.stats.recordCaptureError()
			c.log.WithError(err).Error("Capture source failed to start")
		}
	}
}

// AttachSource ties src to the coordinator's lifecycle: later Start calls
// start it after the consumer, Stop stops it before the slot closes. The
// caller starts src itself if the coordinator is already running.
func (c *Coordinator) AttachSource(src Source) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.source = src
}

// Stop refuses further submissions, discards the pending frame, cancels
// the frame being filtered and waits for the consumer to exit. Safe to
// call more than once.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.running.Swap(false) {
		return
	}

	if c.source != nil {
		c.source.Stop()
	}
	if slot := c.slot.Load(); slot != nil {
		slot.Close()
	}
	c.cancel()
	<-c.done

	c.cancel = nil
	c.done = nil
	c.state.Store(int32(StateIdle))

	s := c.stats.snapshot()
	c.log.WithFields(logrus.Fields{
		"session":   c.SessionID(),
		"processed": s.FramesProcessed,
		"dropped":   s.FramesDropped,
		"failed":    s.FramesFailed(),
	}).Info("Pipeline stopped")
}

// Running reports whether the consumer is active.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// SubmitFrame places raw in the slot, replacing any frame still waiting.
// It never blocks on processing.
func (c *Coordinator) SubmitFrame(raw *frame.RawFrame) error {
	if raw == nil {
		return frame.ErrEmptyFrame
	}
	if !c.running.Load() {
		return ErrNotRunning
	}
	slot := c.slot.Load()
	if slot == nil {
		return ErrNotRunning
	}
	_, dropped, ok := slot.Put(raw)
	if !ok {
		return ErrNotRunning
	}
	c.stats.recordSubmit(dropped)
	return nil
}

// markCapturing runs under the slot lock when a frame is stored.
func (c *Coordinator) markCapturing() {
	c.state.CompareAndSwap(int32(StateIdle), int32(StateCapturing))
}

// settle records where the consumer goes after a frame: straight back to
// Capturing when another frame is waiting, otherwise Idle.
func (c *Coordinator) settle(slot *frameSlot) {
	slot.Settle(func(pending bool) {
		next := StateIdle
		if pending {
			next = StateCapturing
		}
		c.state.Store(int32(next))
	})
}

// HandleFrame accepts one packed capture buffer in the configured format.
// data is copied, so the caller may reuse it once HandleFrame returns.
func (c *Coordinator) HandleFrame(data []byte, width, height int) {
	if !c.running.Load() {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	raw, err := frame.FromPacked(c.format, buf, width, height)
	if err != nil {
		c.stats.recordFailure(failConvert)
		c.log.WithError(err).WithFields(logrus.Fields{
			"width": width, "height": height, "bytes": len(data),
		}).Warn("Rejected capture buffer")
		return
	}
	if err := c.SubmitFrame(raw); err != nil && !errors.Is(err, ErrNotRunning) {
		c.log.WithError(err).Warn("Submit failed")
	}
}

// HandleError records a capture-side failure. The pipeline keeps running.
func (c *Coordinator) HandleError(msg string) {
	c.stats.recordCaptureError()
	c.log.WithField("source", "capture").Warn(msg)
}

// LatestOutput returns a copy of the most recently delivered frame, or nil
// before the first one.
func (c *Coordinator) LatestOutput() *frame.PixelBuffer {
	c.outMu.RLock()
	defer c.outMu.RUnlock()
	return c.latest.Clone()
}

// Stats returns a snapshot of the performance counters.
func (c *Coordinator) Stats() PerformanceStats {
	return c.stats.snapshot()
}

// ResetStats zeroes all counters and restarts the FPS window.
func (c *Coordinator) ResetStats() {
	c.stats.reset()
}

// Params returns the parameters the next frame will use.
func (c *Coordinator) Params() edge.Params {
	return c.params.Get()
}

// ParametersPending reports whether an update has not yet reached a frame.
func (c *Coordinator) ParametersPending() bool {
	return c.params.Pending()
}

// SetParameters replaces the filter parameters from the next frame on. An
// invalid value is rejected and the current parameters stay in force.
func (c *Coordinator) SetParameters(p edge.Params) error {
	if err := c.params.Set(p); err != nil {
		c.log.WithError(err).Warn("Rejected filter parameters")
		return err
	}
	c.log.WithField("params", fmt.Sprintf("%+v", p)).Debug("Filter parameters updated")
	return nil
}

// UpdateParameters is the controller entry point: thresholds and kernel
// size change, the policy is kept.
func (c *Coordinator) UpdateParameters(low, high float64, kernel int) error {
	_, err := c.ModifyParameters(func(p *edge.Params) {
		p.LowThreshold = low
		p.HighThreshold = high
		p.BlurKernelSize = kernel
	})
	return err
}

// SetPolicy switches between Canny and Sobel magnitude.
func (c *Coordinator) SetPolicy(policy edge.Policy) error {
	_, err := c.ModifyParameters(func(p *edge.Params) { p.Policy = policy })
	return err
}

// ModifyParameters applies fn to the current parameters and stores the
// result if it validates. fn runs under the parameter lock; concurrent
// partial updates never undo each other.
func (c *Coordinator) ModifyParameters(fn func(*edge.Params)) (edge.Params, error) {
	p, err := c.params.Update(fn)
	if err != nil {
		c.log.WithError(err).WithField("current", fmt.Sprintf("%+v", p)).Warn("Rejected filter parameters")
		return p, err
	}
	c.log.WithField("params", fmt.Sprintf("%+v", p)).Debug("Filter parameters updated")
	return p, nil
}

// SetProcessingEnabled turns the filter chain on or off. While off,
// converted frames are delivered unfiltered.
func (c *Coordinator) SetProcessingEnabled(on bool) {
	if c.processing.Swap(on) != on {
		c.log.WithField("enabled", on).Info("Edge processing toggled")
	}
}

func (c *Coordinator) ProcessingEnabled() bool {
	return c.processing.Load()
}

// State returns where the consumer is in the frame cycle.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// SessionID identifies the current (or last) Start..Stop session. It is
// empty before the first Start.
func (c *Coordinator) SessionID() string {
	return c.sessionID.Load().(string)
}

// worker holds the consumer's reusable buffers for one session.
type worker struct {
	det     *edge.Detector
	scratch *frame.PixelBuffer
	spare   *frame.PixelBuffer
}

func (c *Coordinator) run(ctx context.Context, slot *frameSlot, done chan struct{}) {
	defer close(done)

	w := &worker{det: edge.NewDetector()}
	for {
		raw := slot.Take()
		if raw == nil {
			return
		}
		c.process(ctx, w, raw)
		c.settle(slot)
	}
}

// process carries one frame from conversion to the sink. Any failure drops
// just this frame.
func (c *Coordinator) process(ctx context.Context, w *worker, raw *frame.RawFrame) {
	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			c.stats.recordFailure(failFilter)
			c.log.WithFields(logrus.Fields{"seq": raw.Seq, "panic": r}).Error("Recovered from panic in frame processing")
		}
	}()

	c.state.Store(int32(StateConverting))
	rgba, err := convert.ConvertInto(raw, w.scratch)
	if err != nil {
		c.drop(failConvert, raw.Seq, err)
		return
	}
	w.scratch = rgba

	var out *frame.PixelBuffer
	if c.processing.Load() {
		params := c.params.Acquire()
		c.state.Store(int32(StateFiltering))
		out, err = w.det.Detect(ctx, rgba, params, w.spare)
		if err != nil {
			c.drop(failFilter, raw.Seq, err)
			return
		}
	} else {
		out = w.spare.Reuse(rgba.Width, rgba.Height)
		copy(out.Pix, rgba.Pix)
	}

	c.state.Store(int32(StateRendering))
	if err := c.sink.UpdateTexture(out.Pix, out.Width, out.Height); err != nil {
		w.spare = out
		c.drop(failSink, raw.Seq, err)
		return
	}
	c.sink.RequestRender()

	c.outMu.Lock()
	w.spare, c.latest = c.latest, out
	c.outMu.Unlock()

	s := c.stats.recordFrame(c.now().Sub(start))
	if c.logEvery > 0 && s.FramesProcessed%c.logEvery == 0 {
		c.log.WithFields(logrus.Fields{
			"seq":        raw.Seq,
			"frames":     s.FramesProcessed,
			"fps":        fmt.Sprintf("%.1f", s.AverageFps),
			"latency_ms": fmt.Sprintf("%.2f", s.LastFrameLatencyMs),
			"dropped":    s.FramesDropped,
		}).Debug("Frame delivered")
	}
}

// drop counts a failed frame. A frame abandoned because Stop cancelled it
// is not a failure.
func (c *Coordinator) drop(kind failureKind, seq uint64, err error) {
	entry := c.log.WithError(err).WithFields(logrus.Fields{"seq": seq, "stage": kind.String()})
	if errors.Is(err, context.Canceled) {
		entry.Debug("Frame abandoned on stop")
		return
	}
	c.stats.recordFailure(kind)
	entry.Warn("Frame dropped")
}
