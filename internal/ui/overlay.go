package ui

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/pipeline"
)

const (
	overlayPad    = 4
	overlayLineHt = 14
)

var overlayBg = image.NewUniform(color.RGBA{0, 0, 0, 160})

// DrawStatsOverlay writes lines into the top-left corner of img on a
// translucent backing box. Lines that do not fit are clipped.
func DrawStatsOverlay(img *image.RGBA, lines []string) {
	if img == nil || len(lines) == 0 {
		return
	}

	face := basicfont.Face7x13
	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	box := image.Rect(0, 0, width+2*overlayPad, len(lines)*overlayLineHt+2*overlayPad).Intersect(img.Bounds())
	draw.Draw(img, box, overlayBg, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
	}
	for i, l := range lines {
		d.Dot = fixed.P(overlayPad, overlayPad+(i+1)*overlayLineHt-3)
		d.DrawString(l)
	}
}

// StatsLines formats the overlay text for one frame.
func StatsLines(s pipeline.PerformanceStats, p edge.Params, processing bool) []string {
	mode := p.Policy.String()
	if !processing {
		mode = "passthrough"
	}
	return []string{
		s.String(),
		fmt.Sprintf("Latency: %.1f ms (p95 %.1f)", s.LastFrameLatencyMs, s.LatencyP95Ms),
		fmt.Sprintf("%s %.0f/%.0f k=%d", mode, p.LowThreshold, p.HighThreshold, p.BlurKernelSize),
		fmt.Sprintf("Dropped: %d Failed: %d", s.FramesDropped, s.FramesFailed()),
	}
}
