package pipeline

// Sink receives processed frames for display.
//
// UpdateTexture must copy rgba before returning; the coordinator reuses the
// backing array for a later frame. It must not block on the display: a
// sink that cannot upload right now returns frame.ErrResourceUnavailable
// and the frame is dropped. RequestRender asks for a redraw and returns
// immediately.
type Sink interface {
	UpdateTexture(rgba []byte, width, height int) error
	RequestRender()
}

// DiscardSink accepts every frame and draws nothing. It backs headless
// runs where output is only read through LatestOutput.
type DiscardSink struct{}

func (DiscardSink) UpdateTexture([]byte, int, int) error { return nil }
func (DiscardSink) RequestRender()                       {}
