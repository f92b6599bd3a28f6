// Package frame defines the buffers that move between the capture,
// conversion, filtering and display stages.
//
// Every buffer carries its own width and height. Camera frame size can
// change between captures, so no stage infers dimensions from an earlier
// frame.
package frame

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PixelFormat identifies the sensor layout of a RawFrame.
type PixelFormat int

const (
	// FormatNV21 is a luma plane followed by one interleaved V,U plane.
	// This is what Android camera stacks hand out by default.
	FormatNV21 PixelFormat = iota
	// FormatNV12 is a luma plane followed by one interleaved U,V plane.
	FormatNV12
	// FormatI420 is three planes: Y, U, V.
	FormatI420
	// FormatYUYV is packed 4:2:2, Y0 U Y1 V per pair of pixels.
	FormatYUYV
)

var formatNames = map[PixelFormat]string{
	FormatNV21: "nv21",
	FormatNV12: "nv12",
	FormatI420: "i420",
	FormatYUYV: "yuyv",
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat maps a config/CLI name onto a PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "yuv420p":
		return FormatI420, nil
	case "yuyv422":
		return FormatYUYV, nil
	}
	for f, s := range formatNames {
		if s == n {
			return f, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidParameter, "unknown pixel format %q", name)
}

// FFmpegName returns the -pix_fmt value producing this layout.
func (f PixelFormat) FFmpegName() string {
	switch f {
	case FormatNV12:
		return "nv12"
	case FormatI420:
		return "yuv420p"
	case FormatYUYV:
		return "yuyv422"
	default:
		return "nv21"
	}
}

// ChromaSize returns the subsampled chroma grid for a width x height frame.
func ChromaSize(width, height int) (cw, ch int) {
	return (width + 1) / 2, (height + 1) / 2
}

// PackedSize returns the byte length of a contiguous frame with default
// strides, as produced by ffmpeg rawvideo output.
func PackedSize(f PixelFormat, width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	cw, ch := ChromaSize(width, height)
	if f == FormatYUYV {
		return 4 * cw * height
	}
	return width*height + 2*cw*ch
}

// Plane is one sensor plane. Stride is the distance in bytes between the
// starts of two consecutive rows.
type Plane struct {
	Data   []byte
	Stride int
}

// RawFrame is sensor-native pixel data. It is immutable once captured and
// is owned by the capture stage until it is submitted to the pipeline.
type RawFrame struct {
	Format     PixelFormat
	Width      int
	Height     int
	Planes     []Plane
	Seq        uint64
	CapturedAt time.Time
}

// FromPacked splits a contiguous capture buffer into planes using default
// strides. The slice is referenced, not copied.
func FromPacked(f PixelFormat, data []byte, width, height int) (*RawFrame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrMalformedFrame, "dimensions %dx%d", width, height)
	}
	need := PackedSize(f, width, height)
	if len(data) < need {
		return nil, errors.Wrapf(ErrMalformedFrame, "%s %dx%d needs %d bytes, got %d",
			f, width, height, need, len(data))
	}

	cw, ch := ChromaSize(width, height)
	raw := &RawFrame{Format: f, Width: width, Height: height, CapturedAt: time.Now()}
	luma := width * height

	switch f {
	case FormatNV21, FormatNV12:
		raw.Planes = []Plane{
			{Data: data[:luma], Stride: width},
			{Data: data[luma : luma+2*cw*ch], Stride: 2 * cw},
		}
	case FormatI420:
		u := luma + cw*ch
		raw.Planes = []Plane{
			{Data: data[:luma], Stride: width},
			{Data: data[luma:u], Stride: cw},
			{Data: data[u : u+cw*ch], Stride: cw},
		}
	case FormatYUYV:
		raw.Planes = []Plane{{Data: data[:need], Stride: 4 * cw}}
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unsupported format %s", f)
	}
	return raw, nil
}

// Empty reports whether every plane is zero length.
func (r *RawFrame) Empty() bool {
	if r == nil {
		return true
	}
	for _, p := range r.Planes {
		if len(p.Data) > 0 {
			return false
		}
	}
	return true
}

// Validate checks that the planes can hold a Width x Height frame of the
// declared format without any out-of-bounds read.
func (r *RawFrame) Validate() error {
	if r.Empty() {
		return ErrEmptyFrame
	}
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Wrapf(ErrMalformedFrame, "dimensions %dx%d", r.Width, r.Height)
	}

	cw, ch := ChromaSize(r.Width, r.Height)
	var want []struct{ rowBytes, rows int }
	switch r.Format {
	case FormatNV21, FormatNV12:
		want = []struct{ rowBytes, rows int }{{r.Width, r.Height}, {2 * cw, ch}}
	case FormatI420:
		want = []struct{ rowBytes, rows int }{{r.Width, r.Height}, {cw, ch}, {cw, ch}}
	case FormatYUYV:
		want = []struct{ rowBytes, rows int }{{4 * cw, r.Height}}
	default:
		return errors.Wrapf(ErrMalformedFrame, "unsupported format %s", r.Format)
	}

	if len(r.Planes) != len(want) {
		return errors.Wrapf(ErrMalformedFrame, "%s expects %d planes, got %d",
			r.Format, len(want), len(r.Planes))
	}
	for i, w := range want {
		p := r.Planes[i]
		if p.Stride < w.rowBytes {
			return errors.Wrapf(ErrMalformedFrame, "plane %d stride %d < row size %d", i, p.Stride, w.rowBytes)
		}
		need := p.Stride*(w.rows-1) + w.rowBytes
		if len(p.Data) < need {
			return errors.Wrapf(ErrMalformedFrame, "plane %d has %d bytes, need %d", i, len(p.Data), need)
		}
	}
	return nil
}

// PixelBuffer is a packed RGBA image: Width*Height*4 bytes, R,G,B,A,
// row-major, no padding.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewPixelBuffer allocates a zeroed width x height buffer.
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

// Reuse returns pb resized to width x height when its capacity allows,
// otherwise a new buffer. Contents are unspecified.
func (pb *PixelBuffer) Reuse(width, height int) *PixelBuffer {
	n := width * height * 4
	if pb == nil || cap(pb.Pix) < n {
		return NewPixelBuffer(width, height)
	}
	pb.Width, pb.Height, pb.Pix = width, height, pb.Pix[:n]
	return pb
}

// Validate reports ErrEmptyFrame for a zero-area or zero-length buffer and
// ErrMalformedFrame when the length does not match the dimensions.
func (pb *PixelBuffer) Validate() error {
	if pb == nil || len(pb.Pix) == 0 || pb.Width <= 0 || pb.Height <= 0 {
		return ErrEmptyFrame
	}
	if len(pb.Pix) != pb.Width*pb.Height*4 {
		return errors.Wrapf(ErrMalformedFrame, "rgba buffer %d bytes for %dx%d",
			len(pb.Pix), pb.Width, pb.Height)
	}
	return nil
}

// Clone returns an independent copy.
func (pb *PixelBuffer) Clone() *PixelBuffer {
	if pb == nil {
		return nil
	}
	out := &PixelBuffer{Width: pb.Width, Height: pb.Height, Pix: make([]byte, len(pb.Pix))}
	copy(out.Pix, pb.Pix)
	return out
}

// Image wraps the buffer as an *image.RGBA sharing the same memory.
func (pb *PixelBuffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    pb.Pix,
		Stride: pb.Width * 4,
		Rect:   image.Rect(0, 0, pb.Width, pb.Height),
	}
}

// EdgeMap is a single-channel edge strength image, Width*Height bytes.
type EdgeMap struct {
	Width  int
	Height int
	Pix    []byte
}

// NewEdgeMap allocates a zeroed edge map.
func NewEdgeMap(width, height int) *EdgeMap {
	return &EdgeMap{Width: width, Height: height, Pix: make([]byte, width*height)}
}

// Expand replicates each edge value into R, G, B and A so edges render
// white over a background that is both black and transparent.
func (m *EdgeMap) Expand() *PixelBuffer {
	out := NewPixelBuffer(m.Width, m.Height)
	for i, v := range m.Pix {
		o := i * 4
		out.Pix[o+0] = v
		out.Pix[o+1] = v
		out.Pix[o+2] = v
		out.Pix[o+3] = v
	}
	return out
}
