package ui

import (
	"sync/atomic"
	"testing"

	"fyne.io/fyne/v2/test"
	"fyne.io/fyne/v2/widget"
	"github.com/stretchr/testify/assert"

	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/pipeline"
)

// fakePipeline tracks Start/Stop calls.
type fakePipeline struct {
	running atomic.Bool
	starts  atomic.Int32
	stops   atomic.Int32
}

func (f *fakePipeline) Start() { f.starts.Add(1); f.running.Store(true) }
func (f *fakePipeline) Stop() { f.stops.Add(1); f.running.Store(false) }
func (f *fakePipeline) Running() bool { return f.running.Load() }
func (f *fakePipeline) Params() edge.Params { return edge.DefaultParams() }
func (f *fakePipeline) UpdateParameters(float64, float64, int) error { return nil }
func (f *fakePipeline) SetPolicy(edge.Policy) error { return nil }
func (f *fakePipeline) SetProcessingEnabled(bool) {}
func (f *fakePipeline) ProcessingEnabled() bool { return true }
func (f *fakePipeline) Stats() pipeline.PerformanceStats { return pipeline.PerformanceStats{} }
func (f *fakePipeline) Snapshot(string) (string, error) { return "", nil }

func TestToggleRunningFollowsPipeline(t *testing.T) {
	test.NewTempApp(t)

	pipe := &fakePipeline{}
	pipe.running.Store(true)
	a := &App{pipe: pipe}
	a.runBtn = widget.NewButton(runLabel(pipe.Running()), a.toggleRunning)
	assert.Equal(t, "Stop", a.runBtn.Text)

	test.Tap(a.runBtn)
	assert.False(t, pipe.Running())
	assert.EqualValues(t, 1, pipe.stops.Load())
	assert.Equal(t, "Start", a.runBtn.Text)

	test.Tap(a.runBtn)
	assert.True(t, pipe.Running())
	assert.EqualValues(t, 1, pipe.starts.Load())
	assert.Equal(t, "Stop", a.runBtn.Text)
}
