package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent frame latencies feed the mean/p95.
const latencyWindow = 120

// fpsWindow is the minimum interval between FPS samples.
const fpsWindow = time.Second

// PerformanceStats is a point-in-time copy of the pipeline counters.
type PerformanceStats struct {
	FramesProcessed    uint64  `json:"frames_processed"`
	LastFrameLatencyMs float64 `json:"last_frame_latency_ms"`
	AverageFps         float64 `json:"average_fps"`

	FramesSubmitted uint64 `json:"frames_submitted"`
	FramesDropped   uint64 `json:"frames_dropped"`
	ConvertErrors   uint64 `json:"convert_errors"`
	FilterErrors    uint64 `json:"filter_errors"`
	SinkErrors      uint64 `json:"sink_errors"`
	CaptureErrors   uint64 `json:"capture_errors"`

	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`
}

// FramesFailed totals frames lost to converter, filter or sink errors.
func (s PerformanceStats) FramesFailed() uint64 {
	return s.ConvertErrors + s.FilterErrors + s.SinkErrors
}

// String is the one-line status shown under the preview.
func (s PerformanceStats) String() string {
	return fmt.Sprintf("Frames: %d, FPS: %.1f", s.FramesProcessed, s.AverageFps)
}

type failureKind int

const (
	failConvert failureKind = iota
	failFilter
	failSink
)

func (k failureKind) String() string {
	switch k {
	case failConvert:
		return "convert"
	case failFilter:
		return "filter"
	default:
		return "sink"
	}
}

// statsTracker accumulates PerformanceStats. FPS is recomputed at most once
// per fpsWindow from frames completed since the previous sample.
type statsTracker struct {
	mu  sync.Mutex
	now func() time.Time

	s            PerformanceStats
	windowStart  time.Time
	windowFrames uint64

	latencies []float64
	next      int
}

func newStatsTracker(now func() time.Time) *statsTracker {
	t := &statsTracker{now: now}
	t.reset()
	return t
}

func (t *statsTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = PerformanceStats{}
	t.windowStart = t.now()
	t.windowFrames = 0
	t.latencies = make([]float64, 0, latencyWindow)
	t.next = 0
}

func (t *statsTracker) recordSubmit(dropped bool) {
	t.mu.Lock()
	t.s.FramesSubmitted++
	if dropped {
		t.s.FramesDropped++
	}
	t.mu.Unlock()
}

func (t *statsTracker) recordFailure(kind failureKind) {
	t.mu.Lock()
	switch kind {
	case failConvert:
		t.s.ConvertErrors++
	case failFilter:
		t.s.FilterErrors++
	case failSink:
		t.s.SinkErrors++
	}
	t.mu.Unlock()
}

func (t *statsTracker) recordCaptureError() {
	t.mu.Lock()
	t.s.CaptureErrors++
	t.mu.Unlock()
}

// recordFrame counts one completed frame and returns the updated copy.
func (t *statsTracker) recordFrame(latency time.Duration) PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms := float64(latency) / float64(time.Millisecond)
	t.s.FramesProcessed++
	t.s.LastFrameLatencyMs = ms

	if len(t.latencies) < latencyWindow {
		t.latencies = append(t.latencies, ms)
	} else {
		t.latencies[t.next] = ms
		t.next = (t.next + 1) % latencyWindow
	}

	t.windowFrames++
	now := t.now()
	if elapsed := now.Sub(t.windowStart); elapsed >= fpsWindow {
		t.s.AverageFps = float64(t.windowFrames) / elapsed.Seconds()
		t.windowFrames = 0
		t.windowStart = now
	}
	return t.snapshotLocked()
}

func (t *statsTracker) snapshot() PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *statsTracker) snapshotLocked() PerformanceStats {
	out := t.s
	if len(t.latencies) == 0 {
		return out
	}
	sorted := append([]float64(nil), t.latencies...)
	sort.Float64s(sorted)
	out.LatencyMeanMs = stat.Mean(sorted, nil)
	out.LatencyP95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return out
}
