package edge

import "math"

// tan(22.5deg) in Q15. tan(67.5deg) is tan(22.5deg)+2, so both sector
// boundaries are tested in integer arithmetic.
const tg22 = 13573

const (
	notEdge  byte = 0
	weakEdge byte = 1
	strong   byte = 255
)

// canny thins the L1 gradient magnitude by non-maximum suppression and
// links edges by double-threshold hysteresis. dst receives 0 or 255.
// mag is scratch space of len w*h; stack is returned for reuse.
func canny(gx, gy []int32, mag []int32, dst []byte, stack []int, w, h int, low, high float64) []int {
	for i := range mag {
		mag[i] = abs32(gx[i]) + abs32(gy[i])
	}
	lo := int32(math.Floor(low))
	hi := int32(math.Floor(high))

	at := func(x, y int) int32 {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	stack = stack[:0]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			dst[i] = notEdge
			m := mag[i]
			if m <= lo {
				continue
			}

			xs, ys := gx[i], gy[i]
			ax := int64(abs32(xs))
			ay := int64(abs32(ys)) << 15
			tg22x := ax * tg22

			var peak bool
			switch {
			case ay < tg22x:
				peak = m > at(x-1, y) && m >= at(x+1, y)
			case ay > tg22x+(ax<<16):
				peak = m > at(x, y-1) && m >= at(x, y+1)
			default:
				s := 1
				if (xs ^ ys) < 0 {
					s = -1
				}
				peak = m > at(x-s, y-1) && m > at(x+s, y+1)
			}
			if !peak {
				continue
			}
			if m > hi {
				dst[i] = strong
				stack = append(stack, i)
			} else {
				dst[i] = weakEdge
			}
		}
	}

	// promote weak pixels 8-connected to a strong one
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			ny := y + dy
			if ny < 0 || ny >= h {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				nx := x + dx
				if nx < 0 || nx >= w {
					continue
				}
				n := ny*w + nx
				if dst[n] == weakEdge {
					dst[n] = strong
					stack = append(stack, n)
				}
			}
		}
	}

	for i, v := range dst {
		if v != strong {
			dst[i] = notEdge
		}
	}
	return stack
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
