package changedetect

import "math"

// gaussianKernel builds a normalized 1-D kernel of the given radius and
// sigma, used for the light blur spec §4.3 calls for to suppress sensor
// noise before comparison.
func gaussianKernel(radius int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 1
	}
	size := 2*radius + 1
	k := make([]float64, size)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// blurRGB applies a separable Gaussian blur (horizontal pass then
// vertical pass) to an RGB24 buffer in place on a copy.
func blurRGB(pixels []byte, width, height int, sigma float64) []byte {
	kernel := gaussianKernel(2, sigma)
	radius := len(kernel) / 2

	tmp := make([]byte, len(pixels))
	out := make([]byte, len(pixels))

	blurPass := func(src, dst []byte, horizontal bool) {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				var r, g, b float64
				for k := -radius; k <= radius; k++ {
					sx, sy := x, y
					if horizontal {
						sx = clamp(x+k, 0, width-1)
					} else {
						sy = clamp(y+k, 0, height-1)
					}
					off := (sy*width + sx) * 3
					w := kernel[k+radius]
					r += w * float64(src[off])
					g += w * float64(src[off+1])
					b += w * float64(src[off+2])
				}
				off := (y*width + x) * 3
				dst[off] = byte(clampF(r, 0, 255))
				dst[off+1] = byte(clampF(g, 0, 255))
				dst[off+2] = byte(clampF(b, 0, 255))
			}
		}
	}

	blurPass(pixels, tmp, true)
	blurPass(tmp, out, false)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
