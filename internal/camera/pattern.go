package camera

import (
	"edge-viewer-go/internal/frame"
)

// PatternFrame renders synthetic frame n as a packed buffer in format f,
// reusing dst when it is large enough. The scene is a vertical luma
// gradient with a bright bar that drifts right every frame and a fixed
// dark box, so the edge filter always has something to find.
func PatternFrame(f frame.PixelFormat, width, height, n int, dst []byte) []byte {
	size := frame.PackedSize(f, width, height)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	if size == 0 {
		return dst
	}

	cw, ch := frame.ChromaSize(width, height)

	if f == frame.FormatYUYV {
		stride := 4 * cw
		for y := 0; y < height; y++ {
			row := dst[y*stride : (y+1)*stride]
			for cx := 0; cx < cw; cx++ {
				x := 2 * cx
				row[4*cx] = patternLuma(x, y, width, height, n)
				row[4*cx+1] = patternU(x, width)
				x1 := x + 1
				if x1 >= width {
					x1 = x
				}
				row[4*cx+2] = patternLuma(x1, y, width, height, n)
				row[4*cx+3] = patternV(y, height)
			}
		}
		return dst
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst[y*width+x] = patternLuma(x, y, width, height, n)
		}
	}

	chroma := dst[width*height:]
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			u := patternU(2*cx, width)
			v := patternV(2*cy, height)
			switch f {
			case frame.FormatNV21:
				chroma[cy*2*cw+2*cx] = v
				chroma[cy*2*cw+2*cx+1] = u
			case frame.FormatNV12:
				chroma[cy*2*cw+2*cx] = u
				chroma[cy*2*cw+2*cx+1] = v
			case frame.FormatI420:
				chroma[cy*cw+cx] = u
				chroma[cw*ch+cy*cw+cx] = v
			}
		}
	}
	return dst
}

func patternLuma(x, y, width, height, n int) byte {
	bar := width / 16
	if bar < 1 {
		bar = 1
	}
	pos := (x - 4*n) % width
	if pos < 0 {
		pos += width
	}
	switch {
	case pos >= width/4 && pos < width/4+bar:
		return 220
	case x >= width/2 && x < 3*width/4 && y >= height/3 && y < 2*height/3:
		return 30
	}
	return byte(40 + 120*y/height)
}

func patternU(x, width int) byte {
	return byte(108 + 40*x/width)
}

func patternV(y, height int) byte {
	return byte(108 + 40*y/height)
}
