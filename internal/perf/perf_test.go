package perf

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc lays out a minimal /proc and /sys tree under a temp dir.
func fakeProc(t *testing.T, loadavg, meminfo string, temps ...string) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, body string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	if loadavg != "" {
		write("proc/loadavg", loadavg)
	}
	if meminfo != "" {
		write("proc/meminfo", meminfo)
	}
	for i, temp := range temps {
		write(thermalZones[i], temp)
	}
	return root
}

func TestMonitorReadsProbes(t *testing.T) {
	t.Parallel()

	root := fakeProc(t,
		"1.25 0.80 0.50 2/345 6789\n",
		"MemTotal:       1000000 kB\nMemFree:         100000 kB\nMemAvailable:    250000 kB\n",
		"50000\n", "60000\n")

	m := NewMonitorAt(root)
	s, err := m.UpdateStats()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, s.LoadAvg, 1e-9)
	assert.True(t, s.HasTemperature)
	assert.InDelta(t, 55.0, s.TemperatureC, 1e-9)
	assert.InDelta(t, 75.0, s.MemoryUsedPct, 1e-9)
	assert.Equal(t, s, m.Last())
}

func TestMonitorWithoutThermalZones(t *testing.T) {
	t.Parallel()

	m := NewMonitorAt(fakeProc(t, "0.10 0.10 0.10 1/1 1\n", ""))
	s, err := m.UpdateStats()
	require.NoError(t, err)
	assert.False(t, s.HasTemperature)
	assert.Zero(t, s.MemoryUsedPct)
}

func TestMonitorLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := NewMonitorAt(t.TempDir()).UpdateStats()
	assert.Error(t, err)

	_, err = NewMonitorAt(fakeProc(t, "garbage\n", "")).UpdateStats()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)

	_, err = NewMonitorAt(fakeProc(t, "   \n", "")).UpdateStats()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)
}

type fakeTarget struct {
	mu  sync.Mutex
	fps int
	set []int
}

func (f *fakeTarget) SetFPS(fps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fps = fps
	f.set = append(f.set, fps)
}

func (f *fakeTarget) GetFPS() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}

func newController(t *testing.T, target *fakeTarget) *AdaptiveController {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewAdaptiveController(NewMonitorAt(t.TempDir()), target, nil, ControllerConfig{
		MinFPS:          10,
		MaxFPS:          30,
		Step:            4,
		LoadThreshold:   3.0,
		TempThresholdC:  75.0,
		LatencyBudgetMS: 40,
		StressHold:      2,
		RecoverHold:     3,
	}, logger)
}

func TestAdaptiveStepsDownUnderStress(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{fps: 30}
	ac := newController(t, target)
	hot := Sample{LoadAvg: 0.5, TemperatureC: 82, HasTemperature: true}

	ac.adjust(hot, 0)
	assert.Equal(t, 30, target.GetFPS(), "one stressed check is not enough")
	ac.adjust(hot, 0)
	assert.Equal(t, 26, target.GetFPS())

	st := ac.GetSystemStatus()
	assert.True(t, st.Stressed)
	assert.Equal(t, "temperature", st.Reason)
	assert.Equal(t, 26, st.FPS)

	for i := 0; i < 20; i++ {
		ac.adjust(Sample{LoadAvg: 5}, 0)
	}
	assert.Equal(t, 10, target.GetFPS(), "clamped at MinFPS")
	assert.Equal(t, "load", ac.GetSystemStatus().Reason)
}

func TestAdaptiveLatencyBudget(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{fps: 30}
	ac := newController(t, target)
	ac.adjust(Sample{}, 55)
	ac.adjust(Sample{}, 55)
	assert.Equal(t, 26, target.GetFPS())
	assert.Equal(t, "latency", ac.GetSystemStatus().Reason)

	// temperature is ignored when the host has no sensor
	ac.adjust(Sample{TemperatureC: 99}, 0)
	assert.False(t, ac.GetSystemStatus().Stressed)
}

func TestAdaptiveRecovers(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{fps: 18}
	ac := newController(t, target)

	calm := Sample{LoadAvg: 0.3}
	ac.adjust(calm, 5)
	ac.adjust(calm, 5)
	assert.Equal(t, 18, target.GetFPS())
	ac.adjust(calm, 5)
	assert.Equal(t, 22, target.GetFPS())

	// a stressed check resets the recovery streak
	ac.adjust(Sample{LoadAvg: 9}, 5)
	ac.adjust(calm, 5)
	ac.adjust(calm, 5)
	assert.Equal(t, 22, target.GetFPS())

	for i := 0; i < 30; i++ {
		ac.adjust(calm, 5)
	}
	assert.Equal(t, 30, target.GetFPS(), "clamped at MaxFPS")
	assert.Equal(t, []int{22, 26, 30}, target.set)
}

func TestAdaptiveRunStopsWithContext(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{fps: 30}
	logger, _ := test.NewNullLogger()
	root := fakeProc(t, "9.0 9.0 9.0 1/1 1\n", "")
	ac := NewAdaptiveController(NewMonitorAt(root), target, func() float64 { return 0 },
		ControllerConfig{Interval: 5 * time.Millisecond, MinFPS: 10, MaxFPS: 30, Step: 2, LoadThreshold: 3}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ac.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return target.GetFPS() < 30 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
