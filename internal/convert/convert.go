// Package convert turns sensor YUV frames into packed RGBA.
//
// The arithmetic is the fixed-point BT.601 video-range transform used by
// Android camera previews:
//
//	y' = max(Y-16, 0)   u' = U-128   v' = V-128
//	R = clamp(1192y' + 1634v', 0, 262143) >> 10
//	G = clamp(1192y' - 833v' - 400u', 0, 262143) >> 10
//	B = clamp(1192y' + 2066u', 0, 262143) >> 10
//	A = 255
//
// One (U, V) pair covers a 2x2 block of luma samples.
package convert

import (
	"github.com/pkg/errors"

	"edge-viewer-go/internal/frame"
)

const maxFixed = 262143 // (255 << 10) | 1023

// Convert transforms raw into a newly allocated PixelBuffer. It has no
// side effects; a frame whose planes do not match its declared size fails
// with frame.ErrMalformedFrame and produces nothing.
func Convert(raw *frame.RawFrame) (*frame.PixelBuffer, error) {
	return ConvertInto(raw, nil)
}

// ConvertInto is Convert writing into dst when dst has enough capacity.
// The returned buffer is dst (resized) or a fresh allocation.
func ConvertInto(raw *frame.RawFrame, dst *frame.PixelBuffer) (*frame.PixelBuffer, error) {
	if err := raw.Validate(); err != nil {
		return nil, errors.Wrap(err, "convert")
	}

	out := dst.Reuse(raw.Width, raw.Height)
	switch raw.Format {
	case frame.FormatNV21:
		semiPlanar(raw, out, 1, 0)
	case frame.FormatNV12:
		semiPlanar(raw, out, 0, 1)
	case frame.FormatI420:
		planar(raw, out)
	case frame.FormatYUYV:
		packed(raw, out)
	}
	return out, nil
}

// semiPlanar handles NV12/NV21. uOff and vOff locate U and V inside each
// interleaved chroma pair.
func semiPlanar(raw *frame.RawFrame, out *frame.PixelBuffer, uOff, vOff int) {
	yp, cp := raw.Planes[0], raw.Planes[1]
	w, h := raw.Width, raw.Height
	for j := 0; j < h; j++ {
		yRow := yp.Data[j*yp.Stride:]
		cRow := cp.Data[(j>>1)*cp.Stride:]
		o := j * w * 4
		for i := 0; i < w; i++ {
			c := (i >> 1) * 2
			pixel(out.Pix[o:o+4], yRow[i], cRow[c+uOff], cRow[c+vOff])
			o += 4
		}
	}
}

func planar(raw *frame.RawFrame, out *frame.PixelBuffer) {
	yp, up, vp := raw.Planes[0], raw.Planes[1], raw.Planes[2]
	w, h := raw.Width, raw.Height
	for j := 0; j < h; j++ {
		yRow := yp.Data[j*yp.Stride:]
		uRow := up.Data[(j>>1)*up.Stride:]
		vRow := vp.Data[(j>>1)*vp.Stride:]
		o := j * w * 4
		for i := 0; i < w; i++ {
			pixel(out.Pix[o:o+4], yRow[i], uRow[i>>1], vRow[i>>1])
			o += 4
		}
	}
}

// packed handles YUYV: Y0 U Y1 V for each horizontal pixel pair. Chroma is
// only horizontally subsampled in this layout.
func packed(raw *frame.RawFrame, out *frame.PixelBuffer) {
	p := raw.Planes[0]
	w, h := raw.Width, raw.Height
	for j := 0; j < h; j++ {
		row := p.Data[j*p.Stride:]
		o := j * w * 4
		for i := 0; i < w; i++ {
			q := (i >> 1) * 4
			pixel(out.Pix[o:o+4], row[q+(i&1)*2], row[q+1], row[q+3])
			o += 4
		}
	}
}

// pixel writes one RGBA quadruple.
func pixel(dst []byte, y, u, v byte) {
	yy := int32(y) - 16
	if yy < 0 {
		yy = 0
	}
	uu := int32(u) - 128
	vv := int32(v) - 128

	y1192 := 1192 * yy
	dst[0] = byte(clampFixed(y1192+1634*vv) >> 10)
	dst[1] = byte(clampFixed(y1192-833*vv-400*uu) >> 10)
	dst[2] = byte(clampFixed(y1192+2066*uu) >> 10)
	dst[3] = 255
}

func clampFixed(x int32) int32 {
	if x < 0 {
		return 0
	}
	if x > maxFixed {
		return maxFixed
	}
	return x
}
