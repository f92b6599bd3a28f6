// Package perf watches system load and pipeline latency and steps the
// capture frame rate down while the host is struggling.
package perf

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FPSTarget is the capture side the controller adjusts.
type FPSTarget interface {
	SetFPS(fps int)
	GetFPS() int
}

// ControllerConfig holds the thresholds of the adaptation loop.
type ControllerConfig struct {
	Interval        time.Duration
	MinFPS          int
	MaxFPS          int
	Step            int
	LoadThreshold   float64
	TempThresholdC  float64
	LatencyBudgetMS float64 // 0 disables the latency check
	StressHold      int     // consecutive stressed checks before stepping down
	RecoverHold     int     // consecutive calm checks before stepping up
}

// Status is a snapshot of the controller's view.
type Status struct {
	Sample    Sample  `json:"sample"`
	LatencyMs float64 `json:"latency_p95_ms"`
	Stressed  bool    `json:"stressed"`
	Reason    string  `json:"reason,omitempty"`
	FPS       int     `json:"fps"`
}

// AdaptiveController manages dynamic performance adjustments
type AdaptiveController struct {
	monitor *Monitor
	target  FPSTarget
	latency func() float64
	cfg     ControllerConfig
	log     logrus.FieldLogger

	mutex         sync.RWMutex
	status        Status
	stressCount   int
	recoveryCount int
}

// NewAdaptiveController creates a new adaptive performance controller.
// latency returns the pipeline's recent p95 frame latency in ms and may be
// nil.
func NewAdaptiveController(monitor *Monitor, target FPSTarget, latency func() float64, cfg ControllerConfig, logger logrus.FieldLogger) *AdaptiveController {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Step <= 0 {
		cfg.Step = 2
	}
	if cfg.MinFPS <= 0 {
		cfg.MinFPS = 1
	}
	if cfg.MaxFPS < cfg.MinFPS {
		cfg.MaxFPS = cfg.MinFPS
	}
	if cfg.StressHold <= 0 {
		cfg.StressHold = 1
	}
	if cfg.RecoverHold <= 0 {
		cfg.RecoverHold = 1
	}
	if latency == nil {
		latency = func() float64 { return 0 }
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdaptiveController{
		monitor: monitor,
		target:  target,
		latency: latency,
		cfg:     cfg,
		log:     logger.WithField("component", "perf"),
		status:  Status{FPS: target.GetFPS()},
	}
}

// Run checks the system every Interval until ctx is done.
func (ac *AdaptiveController) Run(ctx context.Context) {
	ticker := time.NewTicker(ac.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := ac.monitor.UpdateStats()
			if err != nil {
				ac.log.WithError(err).Debug("System probe failed")
				continue // Skip this iteration on error
			}
			ac.adjust(sample, ac.latency())
		}
	}
}

// adjust applies one control step.
func (ac *AdaptiveController) adjust(sample Sample, latencyMs float64) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	reason := ""
	switch {
	case sample.LoadAvg > ac.cfg.LoadThreshold:
		reason = "load"
	case sample.HasTemperature && sample.TemperatureC > ac.cfg.TempThresholdC:
		reason = "temperature"
	case ac.cfg.LatencyBudgetMS > 0 && latencyMs > ac.cfg.LatencyBudgetMS:
		reason = "latency"
	}
	stressed := reason != ""

	if stressed {
		ac.recoveryCount = 0
		ac.stressCount++
		if ac.stressCount >= ac.cfg.StressHold {
			ac.stressCount = 0
			ac.stepFPS(-ac.cfg.Step, reason)
		}
	} else {
		ac.stressCount = 0
		ac.recoveryCount++
		if ac.recoveryCount >= ac.cfg.RecoverHold {
			ac.recoveryCount = 0
			ac.stepFPS(ac.cfg.Step, "recovered")
		}
	}

	ac.status = Status{
		Sample:    sample,
		LatencyMs: latencyMs,
		Stressed:  stressed,
		Reason:    reason,
		FPS:       ac.target.GetFPS(),
	}
}

// stepFPS moves the capture rate by delta, clamped to [MinFPS, MaxFPS].
func (ac *AdaptiveController) stepFPS(delta int, reason string) {
	cur := ac.target.GetFPS()
	next := cur + delta
	if next < ac.cfg.MinFPS {
		next = ac.cfg.MinFPS
	}
	if next > ac.cfg.MaxFPS {
		next = ac.cfg.MaxFPS
	}
	if next == cur {
		return
	}
	ac.target.SetFPS(next)
	ac.log.WithFields(logrus.Fields{
		"from":   cur,
		"to":     next,
		"reason": reason,
	}).Info("Capture FPS adjusted")
}

// GetCurrentFPS returns the current FPS setting
func (ac *AdaptiveController) GetCurrentFPS() int {
	return ac.target.GetFPS()
}

// GetSystemStatus returns the last observed system status
func (ac *AdaptiveController) GetSystemStatus() Status {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	return ac.status
}
