package edge

import "math"

const kernelScale = 256

// gaussianKernel returns an integer 1-D kernel of side k with
// sigma = 1.4*k/3. Taps sum to exactly kernelScale; the rounding residue
// goes to the centre tap.
func gaussianKernel(k int) []int32 {
	sigma := 1.4 * float64(k) / 3
	r := k / 2
	weights := make([]float64, k)
	var total float64
	for i := range weights {
		x := float64(i - r)
		weights[i] = math.Exp(-x * x / (2 * sigma * sigma))
		total += weights[i]
	}

	out := make([]int32, k)
	var sum int32
	for i := range out {
		if i == r {
			continue
		}
		out[i] = int32(math.Round(weights[i] / total * kernelScale))
		sum += out[i]
	}
	out[r] = kernelScale - sum
	return out
}

// blurKernels caches the three supported kernels.
var blurKernels = map[int][]int32{
	3: gaussianKernel(3),
	5: gaussianKernel(5),
	7: gaussianKernel(7),
}

// gaussianBlur runs the separable blur from src into dst using tmp as the
// intermediate row buffer (len w*h). Borders replicate the edge sample.
func gaussianBlur(src, dst []byte, tmp []int32, w, h, k int) {
	kern := blurKernels[k]
	r := k / 2

	for y := 0; y < h; y++ {
		row := src[y*w : y*w+w]
		out := tmp[y*w : y*w+w]
		for x := 0; x < w; x++ {
			var acc int32
			for i, kv := range kern {
				acc += kv * int32(row[clampIndex(x+i-r, w)])
			}
			out[x] = acc
		}
	}

	const half = kernelScale * kernelScale / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc int32
			for i, kv := range kern {
				acc += kv * tmp[clampIndex(y+i-r, h)*w+x]
			}
			dst[y*w+x] = byte((acc + half) >> 16)
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
