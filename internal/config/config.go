// Package config manages configuration for Edge Viewer.
//
// Handles loading config from a TOML file, environment variables,
// and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/frame"
)

// =============================================================================
// Configuration struct
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	// Logging
	LogLevel       string
	LogFormat      string // "text" or "json"
	LogFile        string
	LogMaxBytes    int
	LogBackupCount int
	LogToStdout    bool

	// Capture
	CaptureSource       string // "auto", "device", "pattern" or "gocv"
	CaptureDevice       string // empty = first discovered /dev/video*
	CaptureWidth        int
	CaptureHeight       int
	CaptureFPS          int
	CaptureFormat       string // pixel layout handed to the pipeline
	CaptureInputFormat  string // "mjpeg" or "yuyv"; passed to FFmpeg as -input_format
	KillDeviceHolders   bool
	ReconnectIntervalMS int

	// Filter
	LowThreshold      float64
	HighThreshold     float64
	BlurKernelSize    int
	EdgePolicy        string
	ProcessingEnabled bool

	// Performance
	DynamicFPSEnabled   bool
	PerfCheckIntervalMS int
	MinDynamicFPS       int
	FPSStep             int
	CPULoadThreshold    float64
	CPUTempThresholdC   float64
	LatencyBudgetMS     float64
	StressHoldCount     int
	RecoverHoldCount    int

	// Display
	WindowWidth      int
	WindowHeight     int
	Fullscreen       bool
	ShowStatsOverlay bool
	StatsRefreshMS   int

	// Control
	ControlEnabled bool
	ControlAddr    string

	// Health
	HealthLogIntervalSec float64
	FrameLogEvery        int

	// Snapshot
	SnapshotDir string
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		// Logging
		LogLevel:       "info",
		LogFormat:      "text",
		LogFile:        "./logs/edge_viewer.log",
		LogMaxBytes:    5 * 1024 * 1024, // 5 MB
		LogBackupCount: 3,
		LogToStdout:    true,

		// Capture
		CaptureSource:       "auto",
		CaptureDevice:       "",
		CaptureWidth:        640,
		CaptureHeight:       480,
		CaptureFPS:          30,
		CaptureFormat:       "nv21",
		CaptureInputFormat:  "yuyv",
		KillDeviceHolders:   true,
		ReconnectIntervalMS: 5000,

		// Filter
		LowThreshold:      50,
		HighThreshold:     150,
		BlurKernelSize:    3,
		EdgePolicy:        "canny",
		ProcessingEnabled: true,

		// Performance
		DynamicFPSEnabled:   true,
		PerfCheckIntervalMS: 2000,
		MinDynamicFPS:       10,
		FPSStep:             2,
		CPULoadThreshold:    3.0,
		CPUTempThresholdC:   75.0,
		LatencyBudgetMS:     40.0,
		StressHoldCount:     3,
		RecoverHoldCount:    3,

		// Display
		WindowWidth:      960,
		WindowHeight:     640,
		Fullscreen:       false,
		ShowStatsOverlay: true,
		StatsRefreshMS:   500,

		// Control
		ControlEnabled: true,
		ControlAddr:    "127.0.0.1:8090",

		// Health
		HealthLogIntervalSec: 30.0,
		FrameLogEvery:        300,

		// Snapshot
		SnapshotDir: "./snapshots",
	}
}

// =============================================================================
// File layout
// =============================================================================

// fileConfig mirrors the TOML file. Pointer fields distinguish "absent"
// from a zero value so absent keys keep their defaults.
type fileConfig struct {
	Logging struct {
		Level       *string `toml:"level"`
		Format      *string `toml:"format"`
		File        *string `toml:"file"`
		MaxBytes    *int    `toml:"max_bytes"`
		BackupCount *int    `toml:"backup_count"`
		Stdout      *bool   `toml:"stdout"`
	} `toml:"logging"`

	Capture struct {
		Source              *string `toml:"source"`
		Device              *string `toml:"device"`
		Width               *int    `toml:"width"`
		Height              *int    `toml:"height"`
		FPS                 *int    `toml:"fps"`
		Format              *string `toml:"format"`
		InputFormat         *string `toml:"input_format"`
		KillDeviceHolders   *bool   `toml:"kill_device_holders"`
		ReconnectIntervalMS *int    `toml:"reconnect_interval_ms"`
	} `toml:"capture"`

	Filter struct {
		LowThreshold   *float64 `toml:"low_threshold"`
		HighThreshold  *float64 `toml:"high_threshold"`
		BlurKernelSize *int     `toml:"blur_kernel_size"`
		Policy         *string  `toml:"policy"`
		Enabled        *bool    `toml:"enabled"`
	} `toml:"filter"`

	Performance struct {
		DynamicFPS          *bool    `toml:"dynamic_fps"`
		PerfCheckIntervalMS *int     `toml:"perf_check_interval_ms"`
		MinDynamicFPS       *int     `toml:"min_dynamic_fps"`
		FPSStep             *int     `toml:"fps_step"`
		CPULoadThreshold    *float64 `toml:"cpu_load_threshold"`
		CPUTempThresholdC   *float64 `toml:"cpu_temp_threshold_c"`
		LatencyBudgetMS     *float64 `toml:"latency_budget_ms"`
		StressHoldCount     *int     `toml:"stress_hold_count"`
		RecoverHoldCount    *int     `toml:"recover_hold_count"`
	} `toml:"performance"`

	Display struct {
		Width          *int  `toml:"width"`
		Height         *int  `toml:"height"`
		Fullscreen     *bool `toml:"fullscreen"`
		StatsOverlay   *bool `toml:"stats_overlay"`
		StatsRefreshMS *int  `toml:"stats_refresh_ms"`
	} `toml:"display"`

	Control struct {
		Enabled *bool   `toml:"enabled"`
		Addr    *string `toml:"addr"`
	} `toml:"control"`

	Health struct {
		LogIntervalSec *float64 `toml:"log_interval_sec"`
		FrameLogEvery  *int     `toml:"frame_log_every"`
	} `toml:"health"`

	Snapshot struct {
		Dir *string `toml:"dir"`
	} `toml:"snapshot"`
}

// =============================================================================
// Clamping helpers
// =============================================================================

// setInt copies v into dst when present, clamped to [minVal, maxVal].
// Pass nil for an unbounded side.
func setInt(dst *int, v *int, minVal, maxVal *int) {
	if v == nil {
		return
	}
	parsed := *v
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	*dst = parsed
}

// setFloat is setInt for float64.
func setFloat(dst *float64, v *float64, minVal, maxVal *float64) {
	if v == nil {
		return
	}
	parsed := *v
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	*dst = parsed
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// setString copies a trimmed, lower-cased v into dst when it is one of
// allowed. An empty allowed list accepts anything non-empty.
func setString(dst *string, v *string, allowed ...string) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(*v)
	if len(allowed) == 0 {
		if s != "" {
			*dst = s
		}
		return
	}
	s = strings.ToLower(s)
	for _, a := range allowed {
		if s == a {
			*dst = s
			return
		}
	}
}

// Helper functions to create pointers for min/max bounds
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// =============================================================================
// Load + Apply
// =============================================================================

// ConfigPath returns the TOML file path to use, respecting env vars.
func ConfigPath() string {
	if p := os.Getenv("EDGE_VIEWER_CONFIG"); p != "" {
		return p
	}
	return "./edge-viewer.toml"
}

// Load reads the TOML file at the given path (or the default/env path)
// and returns a fully populated Config. Missing sections or keys
// fall back to DefaultConfig() values. Keys the file sets but Config
// does not know are returned as warnings.
func Load(path string) (*Config, []string, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	// If file doesn't exist, return defaults (not an error)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil, nil
	}

	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return cfg, nil, errors.Wrapf(err, "config: failed to parse %s", path)
	}

	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, fmt.Sprintf("unknown config key %q", key.String()))
	}

	applyFile(cfg, &fc)
	applyEnv(cfg)
	return cfg, unknown, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if logFile := os.Getenv("EDGE_VIEWER_LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}
}

// applyFile maps decoded TOML values onto the Config struct.
func applyFile(cfg *Config, fc *fileConfig) {
	// [logging]
	l := fc.Logging
	setString(&cfg.LogLevel, l.Level, "trace", "debug", "info", "warn", "warning", "error")
	setString(&cfg.LogFormat, l.Format, "text", "json")
	if l.File != nil {
		// empty string disables file logging
		cfg.LogFile = strings.TrimSpace(*l.File)
	}
	setInt(&cfg.LogMaxBytes, l.MaxBytes, intPtr(1024), nil)
	setInt(&cfg.LogBackupCount, l.BackupCount, intPtr(1), nil)
	setBool(&cfg.LogToStdout, l.Stdout)

	// [capture]
	c := fc.Capture
	setString(&cfg.CaptureSource, c.Source, "auto", "device", "pattern", "gocv")
	setString(&cfg.CaptureDevice, c.Device)
	setInt(&cfg.CaptureWidth, c.Width, intPtr(1), intPtr(1920))
	setInt(&cfg.CaptureHeight, c.Height, intPtr(1), intPtr(1080))
	setInt(&cfg.CaptureFPS, c.FPS, intPtr(1), intPtr(60))
	setString(&cfg.CaptureFormat, c.Format, "nv21", "nv12", "i420", "yuv420p", "yuyv", "yuyv422")
	setString(&cfg.CaptureInputFormat, c.InputFormat, "mjpeg", "yuyv")
	setBool(&cfg.KillDeviceHolders, c.KillDeviceHolders)
	setInt(&cfg.ReconnectIntervalMS, c.ReconnectIntervalMS, intPtr(500), nil)

	// [filter]
	f := fc.Filter
	setFloat(&cfg.LowThreshold, f.LowThreshold, floatPtr(0), floatPtr(1000))
	setFloat(&cfg.HighThreshold, f.HighThreshold, floatPtr(0), floatPtr(1000))
	setInt(&cfg.BlurKernelSize, f.BlurKernelSize, intPtr(3), intPtr(7))
	if !edge.ValidKernel(cfg.BlurKernelSize) {
		// even sizes round up to the next odd side
		cfg.BlurKernelSize++
	}
	setString(&cfg.EdgePolicy, f.Policy, "canny", "sobel")
	setBool(&cfg.ProcessingEnabled, f.Enabled)

	// [performance]
	p := fc.Performance
	setBool(&cfg.DynamicFPSEnabled, p.DynamicFPS)
	setInt(&cfg.PerfCheckIntervalMS, p.PerfCheckIntervalMS, intPtr(250), nil)
	setInt(&cfg.MinDynamicFPS, p.MinDynamicFPS, intPtr(1), nil)
	setInt(&cfg.FPSStep, p.FPSStep, intPtr(1), nil)
	setFloat(&cfg.CPULoadThreshold, p.CPULoadThreshold, floatPtr(0.1), floatPtr(20.0))
	setFloat(&cfg.CPUTempThresholdC, p.CPUTempThresholdC, floatPtr(30.0), floatPtr(100.0))
	setFloat(&cfg.LatencyBudgetMS, p.LatencyBudgetMS, floatPtr(1.0), nil)
	setInt(&cfg.StressHoldCount, p.StressHoldCount, intPtr(1), nil)
	setInt(&cfg.RecoverHoldCount, p.RecoverHoldCount, intPtr(1), nil)

	// [display]
	d := fc.Display
	setInt(&cfg.WindowWidth, d.Width, intPtr(320), nil)
	setInt(&cfg.WindowHeight, d.Height, intPtr(240), nil)
	setBool(&cfg.Fullscreen, d.Fullscreen)
	setBool(&cfg.ShowStatsOverlay, d.StatsOverlay)
	setInt(&cfg.StatsRefreshMS, d.StatsRefreshMS, intPtr(100), nil)

	// [control]
	setBool(&cfg.ControlEnabled, fc.Control.Enabled)
	setString(&cfg.ControlAddr, fc.Control.Addr)

	// [health]
	setFloat(&cfg.HealthLogIntervalSec, fc.Health.LogIntervalSec, floatPtr(5.0), nil)
	setInt(&cfg.FrameLogEvery, fc.Health.FrameLogEvery, intPtr(0), nil)

	// [snapshot]
	setString(&cfg.SnapshotDir, fc.Snapshot.Dir)
}

// =============================================================================
// Derived values
// =============================================================================

// FilterParams builds the initial edge filter parameters.
func (c *Config) FilterParams() (edge.Params, error) {
	policy, err := edge.ParsePolicy(c.EdgePolicy)
	if err != nil {
		return edge.Params{}, err
	}
	p := edge.Params{
		LowThreshold:   c.LowThreshold,
		HighThreshold:  c.HighThreshold,
		BlurKernelSize: c.BlurKernelSize,
		Policy:         policy,
	}
	if err := p.Validate(); err != nil {
		return edge.Params{}, err
	}
	return p, nil
}

// PixelFormat returns the layout the capture source produces.
func (c *Config) PixelFormat() (frame.PixelFormat, error) {
	return frame.ParsePixelFormat(c.CaptureFormat)
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	if _, err := c.FilterParams(); err != nil {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Filter parameters rejected: %v", err))
	}

	if _, err := c.PixelFormat(); err != nil {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Capture format rejected: %v", err))
	}

	pixels := c.CaptureWidth * c.CaptureHeight
	if pixels > 1280*720 {
		warnings = append(warnings, "Capture resolution above 720p will struggle to hold interactive frame rates on the CPU filter")
	}

	// Per-frame work budget: the filter has 1000/fps ms per frame
	frameBudget := 1000.0 / float64(c.CaptureFPS)
	if c.LatencyBudgetMS > frameBudget {
		warnings = append(warnings, fmt.Sprintf("Latency budget %.0fms exceeds frame interval %.1fms at %d FPS",
			c.LatencyBudgetMS, frameBudget, c.CaptureFPS))
	}

	if c.MinDynamicFPS > c.CaptureFPS {
		warnings = append(warnings, fmt.Sprintf("MinDynamicFPS (%d) > CaptureFPS (%d)", c.MinDynamicFPS, c.CaptureFPS))
	}

	if c.CaptureSource == "gocv" && c.CaptureFormat != "i420" && c.CaptureFormat != "yuv420p" {
		warnings = append(warnings, "gocv source always produces i420; capture format is ignored")
	}

	if !c.LogToStdout && c.LogFile == "" {
		warnings = append(warnings, "No log destination configured, falling back to stdout")
	}

	return ok, warnings
}
