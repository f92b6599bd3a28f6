package edge

import "math"

// Separable Sobel factors per aperture: smoothing and first derivative.
var (
	sobelSmooth = map[int][]int32{
		3: {1, 2, 1},
		5: {1, 4, 6, 4, 1},
		7: {1, 6, 15, 20, 15, 6, 1},
	}
	sobelDeriv = map[int][]int32{
		3: {-1, 0, 1},
		5: {-1, -2, 0, 2, 1},
		7: {-1, -4, -5, 0, 5, 4, 1},
	}
)

// sobelGradients fills gx and gy with the k x k Sobel responses of src,
// replicating borders. tmp must hold 2*w*h values.
func sobelGradients(src []byte, gx, gy, tmp []int32, w, h, k int) {
	smooth, deriv := sobelSmooth[k], sobelDeriv[k]
	r := k / 2
	tx, ty := tmp[:w*h], tmp[w*h:2*w*h]

	// horizontal: derivative for gx, smoothing for gy
	for y := 0; y < h; y++ {
		row := src[y*w : y*w+w]
		for x := 0; x < w; x++ {
			var dx, sx int32
			for i := 0; i < k; i++ {
				v := int32(row[clampIndex(x+i-r, w)])
				dx += deriv[i] * v
				sx += smooth[i] * v
			}
			tx[y*w+x] = dx
			ty[y*w+x] = sx
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var ax, ay int32
			for i := 0; i < k; i++ {
				o := clampIndex(y+i-r, h)*w + x
				ax += smooth[i] * tx[o]
				ay += deriv[i] * ty[o]
			}
			gx[y*w+x] = ax
			gy[y*w+x] = ay
		}
	}
}

// sobelMagnitude writes round(sqrt(gx^2+gy^2)) clamped to [0,255].
func sobelMagnitude(gx, gy []int32, dst []byte) {
	for i := range dst {
		fx, fy := float64(gx[i]), float64(gy[i])
		m := math.Round(math.Sqrt(fx*fx + fy*fy))
		if m > 255 {
			m = 255
		}
		dst[i] = byte(m)
	}
}
