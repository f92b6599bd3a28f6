// Package ui is the Fyne front end: a live preview of the pipeline output
// plus controls for the edge filter.
package ui

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/config"
	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/pipeline"
)

// Pipeline is the part of the coordinator the UI drives.
type Pipeline interface {
	Start()
	Stop()
	Running() bool
	Params() edge.Params
	UpdateParameters(low, high float64, kernel int) error
	SetPolicy(policy edge.Policy) error
	SetProcessingEnabled(on bool)
	ProcessingEnabled() bool
	Stats() pipeline.PerformanceStats
	Snapshot(dir string) (string, error)
}

// App represents the main edge viewer window
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     *config.Config
	pipe    Pipeline
	sink    *TextureSink
	log     logrus.FieldLogger

	preview    *canvas.Image
	statsLabel *widget.Label
	statusLbl  *widget.Label
	lowSlider  *widget.Slider
	highSlider *widget.Slider
	lowLabel   *widget.Label
	highLabel  *widget.Label
	kernelSel  *widget.Select
	policyGrp  *widget.RadioGroup
	procCheck  *widget.Check
	runBtn     *widget.Button

	stopCh      chan struct{}
	cleanupOnce sync.Once
	onQuit      func()
}

// NewApp creates the window and wires sink to it. onQuit runs once when
// the window closes, before the Fyne loop exits.
func NewApp(cfg *config.Config, pipe Pipeline, sink *TextureSink, logger logrus.FieldLogger, onQuit func()) *App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	fyneApp := app.New()
	window := fyneApp.NewWindow("Edge Viewer")
	window.Resize(fyne.NewSize(float32(cfg.WindowWidth), float32(cfg.WindowHeight)))
	window.SetFullScreen(cfg.Fullscreen)

	a := &App{
		fyneApp: fyneApp,
		window:  window,
		cfg:     cfg,
		pipe:    pipe,
		sink:    sink,
		log:     logger.WithField("component", "ui"),
		stopCh:  make(chan struct{}),
		onQuit:  onQuit,
	}

	a.preview = canvas.NewImageFromImage(createColoredImage(cfg.CaptureWidth, cfg.CaptureHeight, color.RGBA{25, 25, 25, 255}))
	a.preview.FillMode = canvas.ImageFillContain
	a.preview.ScaleMode = canvas.ImageScaleFastest

	sink.Attach(a.present, fyne.Do)
	if cfg.ShowStatsOverlay {
		sink.SetOverlay(func() []string {
			return StatsLines(pipe.Stats(), pipe.Params(), pipe.ProcessingEnabled())
		})
	}
	return a
}

func createColoredImage(width, height int, c color.Color) image.Image {
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	r, g, b, a := c.RGBA()
	r8, g8, b8, a8 := uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8)

	// Fill first row with direct Pix writes
	stride := img.Stride
	for x := 0; x < width; x++ {
		off := x * 4
		img.Pix[off+0] = r8
		img.Pix[off+1] = g8
		img.Pix[off+2] = b8
		img.Pix[off+3] = a8
	}
	// Copy first row to remaining rows
	firstRow := img.Pix[:stride]
	for y := 1; y < height; y++ {
		copy(img.Pix[y*stride:(y+1)*stride], firstRow)
	}
	return img
}

// Run builds the UI and blocks in the Fyne event loop.
func (a *App) Run() {
	a.setupUI()
	go a.refreshStats()
	a.window.ShowAndRun()
}

// Quit closes the window from any goroutine.
func (a *App) Quit() {
	fyne.Do(a.cleanup)
}

// present runs on the UI goroutine.
func (a *App) present(img *image.RGBA) {
	a.preview.Image = img
	a.preview.Refresh()
}

func (a *App) setupUI() {
	p := a.pipe.Params()

	a.statsLabel = widget.NewLabel(a.pipe.Stats().String())
	a.statusLbl = widget.NewLabel("")
	a.lowLabel = widget.NewLabel("")
	a.highLabel = widget.NewLabel("")
	a.lowSlider = widget.NewSlider(0, 255)
	a.lowSlider.Step = 1
	a.lowSlider.Value = p.LowThreshold
	a.lowSlider.OnChanged = func(float64) { a.applyThresholds() }
	a.highSlider = widget.NewSlider(1, 255)
	a.highSlider.Step = 1
	a.highSlider.Value = p.HighThreshold
	a.highSlider.OnChanged = func(float64) { a.applyThresholds() }
	a.setThresholdLabels(p.LowThreshold, p.HighThreshold)

	a.kernelSel = widget.NewSelect([]string{"3", "5", "7"}, func(string) { a.applyThresholds() })
	a.kernelSel.SetSelected(strconv.Itoa(p.BlurKernelSize))

	a.policyGrp = widget.NewRadioGroup([]string{edge.PolicyCanny.String(), edge.PolicySobel.String()}, a.onPolicy)
	a.policyGrp.Horizontal = true
	a.policyGrp.SetSelected(p.Policy.String())

	a.procCheck = widget.NewCheck("Edge filter", a.onProcessing)
	a.procCheck.SetChecked(a.pipe.ProcessingEnabled())

	a.runBtn = widget.NewButton(runLabel(a.pipe.Running()), a.toggleRunning)
	snapBtn := widget.NewButton("Snapshot", a.onSnapshot)
	exitBtn := widget.NewButton("Exit", a.cleanup)

	controls := container.NewVBox(
		a.procCheck,
		a.policyGrp,
		a.lowLabel, a.lowSlider,
		a.highLabel, a.highSlider,
		container.NewHBox(widget.NewLabel("Blur kernel"), a.kernelSel),
		container.NewGridWithColumns(3, a.runBtn, snapBtn, exitBtn),
		a.statsLabel,
		a.statusLbl,
	)

	bg := canvas.NewRectangle(color.RGBA{20, 20, 20, 255})
	content := container.NewBorder(nil, nil, nil, controls, container.NewStack(bg, a.preview))
	a.window.SetContent(content)

	a.window.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyEscape:
			a.cleanup()
		case fyne.KeyF11:
			a.window.SetFullScreen(!a.window.FullScreen())
		case fyne.KeySpace:
			a.toggleRunning()
		}
	})
	a.window.SetCloseIntercept(a.cleanup)
}

func (a *App) setThresholdLabels(low, high float64) {
	a.lowLabel.SetText(fmt.Sprintf("Low threshold: %.0f", low))
	a.highLabel.SetText(fmt.Sprintf("High threshold: %.0f", high))
}

// applyThresholds pushes slider and kernel values to the pipeline. A
// rejected combination leaves the previous parameters in force.
func (a *App) applyThresholds() {
	if a.lowSlider == nil || a.highSlider == nil || a.kernelSel == nil {
		return // still building the UI
	}
	low, high := a.lowSlider.Value, a.highSlider.Value
	a.setThresholdLabels(low, high)

	kernel, err := strconv.Atoi(a.kernelSel.Selected)
	if err != nil {
		return
	}
	if err := a.pipe.UpdateParameters(low, high, kernel); err != nil {
		a.statusLbl.SetText("Rejected: " + err.Error())
		a.log.WithError(err).Debug("Parameter update rejected")
		return
	}
	a.statusLbl.SetText("")
}

func (a *App) onPolicy(name string) {
	policy, err := edge.ParsePolicy(name)
	if err != nil {
		return
	}
	if err := a.pipe.SetPolicy(policy); err != nil {
		a.statusLbl.SetText("Rejected: " + err.Error())
	}
}

func (a *App) onProcessing(on bool) {
	a.pipe.SetProcessingEnabled(on)
}

// toggleRunning starts or stops the pipeline together with its capture
// source.
func (a *App) toggleRunning() {
	if a.pipe.Running() {
		a.pipe.Stop()
	} else {
		a.pipe.Start()
	}
	a.runBtn.SetText(runLabel(a.pipe.Running()))
}

// runLabel is the run button text for the given pipeline state.
func runLabel(running bool) string {
	if running {
		return "Stop"
	}
	return "Start"
}

func (a *App) onSnapshot() {
	path, err := a.pipe.Snapshot(a.cfg.SnapshotDir)
	if err != nil {
		a.statusLbl.SetText("Snapshot failed: " + err.Error())
		a.log.WithError(err).Warn("Snapshot failed")
		return
	}
	a.statusLbl.SetText("Saved " + path)
}

// refreshStats updates the stats label every StatsRefreshMS.
func (a *App) refreshStats() {
	interval := time.Duration(a.cfg.StatsRefreshMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			s := a.pipe.Stats()
			text := fmt.Sprintf("%s\nLatency p95: %.1f ms\nDropped: %d", s, s.LatencyP95Ms, s.FramesDropped)
			// the control API can start or stop the pipeline too
			label := runLabel(a.pipe.Running())
			fyne.Do(func() {
				a.statsLabel.SetText(text)
				if a.runBtn.Text != label {
					a.runBtn.SetText(label)
				}
			})
		}
	}
}

// cleanup runs onQuit once and exits the event loop.
func (a *App) cleanup() {
	a.cleanupOnce.Do(func() {
		a.log.Info("Window closing")
		close(a.stopCh)
		if a.onQuit != nil {
			a.onQuit()
		}
		a.fyneApp.Quit()
	})
}
