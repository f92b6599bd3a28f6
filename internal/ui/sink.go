package ui

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"edge-viewer-go/internal/frame"
)

// TextureSink receives processed frames from the pipeline and hands them
// to the display on the UI goroutine.
//
// Frames are copied into a back buffer under mu. RequestRender schedules a
// single present at a time, so a slow UI thread coalesces frames instead
// of queueing them.
type TextureSink struct {
	mu      sync.Mutex
	back    *image.RGBA
	front   *image.RGBA
	fresh   bool
	overlay func() []string

	present  func(*image.RGBA)
	schedule func(func())

	scheduled atomic.Bool
	presented atomic.Uint64
}

// NewTextureSink returns a sink that rejects frames until Attach is called.
func NewTextureSink() *TextureSink {
	return &TextureSink{}
}

// Attach connects the sink to a display. present runs on the goroutine
// schedule dispatches to, typically fyne.Do.
func (s *TextureSink) Attach(present func(*image.RGBA), schedule func(func())) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = present
	s.schedule = schedule
}

// SetOverlay installs a provider of text lines drawn over every frame;
// nil removes the overlay.
func (s *TextureSink) SetOverlay(lines func() []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = lines
}

// UpdateTexture copies rgba into the back buffer.
func (s *TextureSink) UpdateTexture(rgba []byte, width, height int) error {
	if width <= 0 || height <= 0 || len(rgba) < width*height*4 {
		return errors.Wrapf(frame.ErrMalformedFrame, "texture %dx%d with %d bytes", width, height, len(rgba))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present == nil {
		return errors.Wrap(frame.ErrResourceUnavailable, "display not attached")
	}

	s.back = reuseRGBA(s.back, width, height)
	copy(s.back.Pix, rgba[:width*height*4])
	if s.overlay != nil {
		DrawStatsOverlay(s.back, s.overlay())
	}
	s.fresh = true
	return nil
}

// RequestRender schedules a present unless one is already queued.
func (s *TextureSink) RequestRender() {
	s.mu.Lock()
	schedule := s.schedule
	s.mu.Unlock()
	if schedule == nil || !s.scheduled.CompareAndSwap(false, true) {
		return
	}
	schedule(s.flip)
}

// flip swaps buffers and presents the newest frame.
func (s *TextureSink) flip() {
	s.scheduled.Store(false)

	s.mu.Lock()
	if !s.fresh {
		s.mu.Unlock()
		return
	}
	s.back, s.front = s.front, s.back
	s.fresh = false
	img, present := s.front, s.present
	s.mu.Unlock()

	present(img)
	s.presented.Add(1)
}

// Presented counts frames handed to the display.
func (s *TextureSink) Presented() uint64 {
	return s.presented.Load()
}

func reuseRGBA(img *image.RGBA, width, height int) *image.RGBA {
	n := width * height * 4
	if img == nil || cap(img.Pix) < n {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
	img.Pix = img.Pix[:n]
	img.Stride = width * 4
	img.Rect = image.Rect(0, 0, width, height)
	return img
}
