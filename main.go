package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/camera"
	"edge-viewer-go/internal/config"
	"edge-viewer-go/internal/control"
	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/helpers"
	"edge-viewer-go/internal/perf"
	"edge-viewer-go/internal/pipeline"
	"edge-viewer-go/internal/ui"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Command line flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	configPath := flag.String("config", "", "Path to edge-viewer.toml (default: ./edge-viewer.toml or $EDGE_VIEWER_CONFIG)")
	headless := flag.Bool("headless", false, "Run without a window; control over HTTP only")
	debug := flag.Bool("debug", false, "Force debug logging")
	source := flag.String("source", "", "Override capture source: auto, device, pattern or gocv")
	device := flag.String("device", "", "Override capture device path")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Edge Viewer %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  gocv:       %v\n", camera.GocvAvailable)
		return 0
	}

	// Load configuration; on error Load still hands back defaults
	cfg, unknown, loadErr := config.Load(*configPath)
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *source != "" {
		cfg.CaptureSource = *source
	}
	if *device != "" {
		cfg.CaptureDevice = *device
	}

	logger, logCleanup, err := config.ConfigureLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		return 1
	}
	defer logCleanup()
	log := logger.WithField("component", "main")

	if loadErr != nil {
		log.WithError(loadErr).Warn("Config load error, using defaults")
	}
	for _, key := range unknown {
		log.WithField("key", key).Warn("Unknown config key ignored")
	}
	ok, warnings := cfg.Validate()
	if !ok {
		log.Warn("Config validation failed")
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	params, err := cfg.FilterParams()
	if err != nil {
		log.WithError(err).Warn("Falling back to default filter parameters")
		params = edge.DefaultParams()
	}
	format, err := cfg.PixelFormat()
	if err != nil {
		log.WithError(err).Error("Bad capture format")
		return 1
	}
	format = camera.OutputFormat(cfg.CaptureSource, format)

	log.WithFields(logrus.Fields{
		"version":  Version,
		"source":   cfg.CaptureSource,
		"size":     fmt.Sprintf("%dx%d", cfg.CaptureWidth, cfg.CaptureHeight),
		"fps":      cfg.CaptureFPS,
		"format":   format.String(),
		"headless": *headless,
	}).Info("Edge Viewer starting")

	var sink pipeline.Sink = pipeline.DiscardSink{}
	var texSink *ui.TextureSink
	if !*headless {
		texSink = ui.NewTextureSink()
		sink = texSink
	}

	coord, err := pipeline.NewCoordinator(sink, pipeline.Options{
		Format:            format,
		Params:            params,
		DisableProcessing: !cfg.ProcessingEnabled,
		LogEvery:          uint64(cfg.FrameLogEvery),
		Logger:            logger,
	})
	if err != nil {
		log.WithError(err).Error("Pipeline setup failed")
		return 1
	}

	releaser := helpers.NewReleaser(logger)
	mgr := camera.NewManager(camera.ManagerConfig{
		Source:      cfg.CaptureSource,
		Device:      cfg.CaptureDevice,
		KillHolders: cfg.KillDeviceHolders,
		Worker: camera.WorkerConfig{
			Width:             cfg.CaptureWidth,
			Height:            cfg.CaptureHeight,
			FPS:               cfg.CaptureFPS,
			Format:            format,
			InputFormat:       cfg.CaptureInputFormat,
			ReconnectInterval: time.Duration(cfg.ReconnectIntervalMS) * time.Millisecond,
			LogEvery:          uint64(cfg.FrameLogEvery),
		},
	}, coord, releaser.Release, logger)

	if err := mgr.Initialize(); err != nil {
		log.WithError(err).Error("Capture source unavailable")
		return 1
	}

	coord.Start()
	if err := mgr.Start(); err != nil {
		log.WithError(err).Error("Capture failed to start")
		coord.Stop()
		return 1
	}
	// later Stop/Start from the UI or the control API pause capture too
	coord.AttachSource(mgr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	monitor := perf.NewMonitor()
	var adaptive *perf.AdaptiveController
	if cfg.DynamicFPSEnabled {
		adaptive = perf.NewAdaptiveController(monitor, mgr,
			func() float64 { return coord.Stats().LatencyP95Ms },
			perf.ControllerConfig{
				Interval:        time.Duration(cfg.PerfCheckIntervalMS) * time.Millisecond,
				MinFPS:          cfg.MinDynamicFPS,
				MaxFPS:          cfg.CaptureFPS,
				Step:            cfg.FPSStep,
				LoadThreshold:   cfg.CPULoadThreshold,
				TempThresholdC:  cfg.CPUTempThresholdC,
				LatencyBudgetMS: cfg.LatencyBudgetMS,
				StressHold:      cfg.StressHoldCount,
				RecoverHold:     cfg.RecoverHoldCount,
			}, logger)
		go adaptive.Run(ctx)
	}

	var server *control.Server
	if cfg.ControlEnabled {
		server = control.NewServer(coord, logger)
		server.AddHealthSection("capture", func() interface{} {
			stats, _ := mgr.Stats()
			return map[string]interface{}{
				"device": mgr.Camera().DeviceID,
				"format": mgr.Format().String(),
				"stats":  stats,
			}
		})
		server.AddHealthSection("system", func() interface{} {
			if adaptive != nil {
				return adaptive.GetSystemStatus()
			}
			return monitor.Last()
		})
		if _, err := server.Start(cfg.ControlAddr); err != nil {
			log.WithError(err).Warn("Control server disabled")
			server = nil
		}
	}

	go runHealthLog(ctx, time.Duration(cfg.HealthLogIntervalSec*float64(time.Second)), coord, mgr, monitor, logger)

	if *headless {
		<-ctx.Done()
		log.Info("Signal received, shutting down")
	} else {
		app := ui.NewApp(cfg, coord, texSink, logger, cancel)
		go func() {
			<-ctx.Done()
			app.Quit()
		}()
		app.Run()
		cancel()
	}

	coord.Stop()
	mgr.Stop()
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Control server shutdown")
		}
	}

	s := coord.Stats()
	log.WithFields(logrus.Fields{
		"processed": s.FramesProcessed,
		"dropped":   s.FramesDropped,
		"failed":    s.FramesFailed(),
	}).Info("Edge Viewer stopped")
	return 0
}

// runHealthLog writes a periodic summary of pipeline and host health.
// Disabled when interval <= 0.
func runHealthLog(ctx context.Context, interval time.Duration, coord *pipeline.Coordinator, mgr *camera.Manager, monitor *perf.Monitor, logger logrus.FieldLogger) {
	log := logger.WithField("component", "health")
	if interval <= 0 {
		log.Debug("Health logging disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := coord.Stats()
		fields := logrus.Fields{
			"stats":       s.String(),
			"latency_ms":  fmt.Sprintf("%.1f/%.1f", s.LatencyMeanMs, s.LatencyP95Ms),
			"dropped":     s.FramesDropped,
			"failed":      s.FramesFailed(),
			"capture_err": s.CaptureErrors,
			"state":       coord.State().String(),
			"capture_fps": mgr.GetFPS(),
		}
		sample := monitor.Last()
		if time.Since(sample.TakenAt) > interval {
			sample, _ = monitor.UpdateStats()
		}
		if !sample.TakenAt.IsZero() {
			fields["load"] = sample.LoadAvg
			if sample.HasTemperature {
				fields["temp_c"] = sample.TemperatureC
			}
		}

		entry := log.WithFields(fields)
		if s.FramesProcessed == 0 && coord.Running() {
			entry.Warn("No frames delivered yet")
			continue
		}
		entry.Info("Health")
	}
}
