// Package edge implements the edge filter chain applied to every displayed
// frame: BT.601 grayscale, separable Gaussian blur, then either Canny
// (binary edges) or Sobel gradient magnitude, expanded back to RGBA.
//
// All stages are integer arithmetic except the Sobel magnitude square
// root, so identical input and parameters give identical output.
package edge

import (
	"context"

	"github.com/pkg/errors"

	"edge-viewer-go/internal/frame"
)

// Detector runs the filter chain and keeps its scratch buffers between
// calls. A Detector is not safe for concurrent use; the pipeline owns one
// per consumer goroutine.
type Detector struct {
	gray  []byte
	blur  []byte
	edges []byte
	tmp   []int32
	gx    []int32
	gy    []int32
	mag   []int32
	stack []int
}

// NewDetector returns a Detector with no buffers allocated yet.
func NewDetector() *Detector {
	return &Detector{}
}

func (d *Detector) grow(n int) {
	if cap(d.gray) < n {
		d.gray = make([]byte, n)
		d.blur = make([]byte, n)
		d.edges = make([]byte, n)
		d.tmp = make([]int32, 2*n)
		d.gx = make([]int32, n)
		d.gy = make([]int32, n)
		d.mag = make([]int32, n)
		d.stack = make([]int, 0, n/8+1)
	}
	d.gray, d.blur, d.edges = d.gray[:n], d.blur[:n], d.edges[:n]
	d.tmp, d.gx, d.gy, d.mag = d.tmp[:2*n], d.gx[:n], d.gy[:n], d.mag[:n]
}

// DetectEdges runs the chain once with fresh scratch space.
func DetectEdges(pb *frame.PixelBuffer, p Params) (*frame.PixelBuffer, error) {
	return NewDetector().Detect(context.Background(), pb, p, nil)
}

// DetectEdgesContext is DetectEdges that gives up between stages once ctx
// is done.
func DetectEdgesContext(ctx context.Context, pb *frame.PixelBuffer, p Params) (*frame.PixelBuffer, error) {
	return NewDetector().Detect(ctx, pb, p, nil)
}

// Detect filters pb with p and writes the RGBA result into dst when dst
// has room, otherwise into a new buffer. The input is never modified.
func (d *Detector) Detect(ctx context.Context, pb *frame.PixelBuffer, p Params, dst *frame.PixelBuffer) (*frame.PixelBuffer, error) {
	if err := pb.Validate(); err != nil {
		return nil, errors.Wrap(err, "edge input")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	w, h := pb.Width, pb.Height
	d.grow(w * h)

	grayscale(pb.Pix, d.gray)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "edge after grayscale")
	}

	gaussianBlur(d.gray, d.blur, d.tmp, w, h, p.BlurKernelSize)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "edge after blur")
	}

	// Sobel magnitude uses the blur side as its aperture too; Canny
	// always takes 3x3 gradients.
	switch p.Policy {
	case PolicySobel:
		sobelGradients(d.blur, d.gx, d.gy, d.tmp, w, h, p.BlurKernelSize)
		sobelMagnitude(d.gx, d.gy, d.edges)
	default:
		sobelGradients(d.blur, d.gx, d.gy, d.tmp, w, h, 3)
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "edge after gradients")
		}
		d.stack = canny(d.gx, d.gy, d.mag, d.edges, d.stack, w, h, p.LowThreshold, p.HighThreshold)
	}

	out := dst.Reuse(w, h)
	expand(d.edges, out.Pix)
	return out, nil
}

// EdgeMap runs the chain but stops before channel expansion.
func (d *Detector) EdgeMap(pb *frame.PixelBuffer, p Params) (*frame.EdgeMap, error) {
	if _, err := d.Detect(context.Background(), pb, p, nil); err != nil {
		return nil, err
	}
	m := frame.NewEdgeMap(pb.Width, pb.Height)
	copy(m.Pix, d.edges)
	return m, nil
}

func expand(edges, rgba []byte) {
	for i, v := range edges {
		o := i * 4
		rgba[o], rgba[o+1], rgba[o+2], rgba[o+3] = v, v, v, v
	}
}
