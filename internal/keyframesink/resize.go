package keyframesink

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// resizeRGB nearest-neighbor scales an RGB24 buffer down so its width
// never exceeds maxWidth, preserving aspect ratio, and returns it as an
// image.RGBA ready for jpeg.Encode. No third-party image library in this
// codebase's dependency set offers resize or JPEG encoding (see
// DESIGN.md for the stdlib-use justification); this only runs once per
// admitted keyframe, not per decoded frame, so the allocation cost is
// acceptable here even though changedetect avoids it on its hot path.
func resizeRGB(pixels []byte, width, height, maxWidth int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if maxWidth <= 0 || width <= maxWidth {
		return toRGBA(pixels, width, height)
	}

	dstWidth := maxWidth
	dstHeight := height * maxWidth / width
	if dstHeight <= 0 {
		dstHeight = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	for y := 0; y < dstHeight; y++ {
		sy := y * height / dstHeight
		for x := 0; x < dstWidth; x++ {
			sx := x * width / dstWidth
			off := (sy*width + sx) * 3
			if off+3 > len(pixels) {
				continue
			}
			out.Set(x, y, color.RGBA{R: pixels[off], G: pixels[off+1], B: pixels[off+2], A: 255})
		}
	}
	return out
}

func toRGBA(pixels []byte, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * 3
			if off+3 > len(pixels) {
				continue
			}
			out.Set(x, y, color.RGBA{R: pixels[off], G: pixels[off+1], B: pixels[off+2], A: 255})
		}
	}
	return out
}

// encodeJPEGQuality clamps quality to JPEG's valid [1,100] range and
// encodes img.
func encodeJPEGQuality(img *image.RGBA, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
