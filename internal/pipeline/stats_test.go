package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestStatsFPSWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	st := newStatsTracker(clock.Now)

	for i := 0; i < 9; i++ {
		clock.Advance(100 * time.Millisecond)
		s := st.recordFrame(5 * time.Millisecond)
		assert.Zero(t, s.AverageFps, "no sample before a full second")
	}
	clock.Advance(100 * time.Millisecond)
	s := st.recordFrame(5 * time.Millisecond)
	assert.InDelta(t, 10.0, s.AverageFps, 1e-9)
	assert.Equal(t, uint64(10), s.FramesProcessed)
	assert.Equal(t, "Frames: 10, FPS: 10.0", s.String())

	// next window: 3 frames over 1.5s
	for i := 0; i < 3; i++ {
		clock.Advance(500 * time.Millisecond)
		s = st.recordFrame(5 * time.Millisecond)
	}
	assert.InDelta(t, 2.0, s.AverageFps, 1e-9)
}

func TestStatsLatencySummary(t *testing.T) {
	t.Parallel()

	st := newStatsTracker(newFakeClock().Now)
	for i := 20; i >= 1; i-- {
		st.recordFrame(time.Duration(i) * time.Millisecond)
	}
	s := st.snapshot()
	assert.InDelta(t, 1.0, s.LastFrameLatencyMs, 1e-9)
	assert.InDelta(t, 10.5, s.LatencyMeanMs, 1e-9)
	assert.InDelta(t, 19.0, s.LatencyP95Ms, 1.0)
}

func TestStatsLatencyWindowIsBounded(t *testing.T) {
	t.Parallel()

	st := newStatsTracker(newFakeClock().Now)
	for i := 0; i < latencyWindow; i++ {
		st.recordFrame(100 * time.Millisecond)
	}
	for i := 0; i < latencyWindow; i++ {
		st.recordFrame(2 * time.Millisecond)
	}
	assert.InDelta(t, 2.0, st.snapshot().LatencyMeanMs, 1e-9)
	assert.Len(t, st.latencies, latencyWindow)
}

func TestStatsCountersAndReset(t *testing.T) {
	t.Parallel()

	st := newStatsTracker(newFakeClock().Now)
	st.recordSubmit(false)
	st.recordSubmit(true)
	st.recordFailure(failConvert)
	st.recordFailure(failFilter)
	st.recordFailure(failSink)
	st.recordCaptureError()

	s := st.snapshot()
	assert.Equal(t, uint64(2), s.FramesSubmitted)
	assert.Equal(t, uint64(1), s.FramesDropped)
	assert.Equal(t, uint64(3), s.FramesFailed())
	assert.Equal(t, uint64(1), s.CaptureErrors)

	st.reset()
	assert.Equal(t, PerformanceStats{}, st.snapshot())
	assert.Equal(t, "Frames: 0, FPS: 0.0", st.snapshot().String())
}
