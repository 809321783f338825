package preprocess

import (
	"image"
	"math"
)

// maxSkewDegrees bounds the deskew search. Scans skewed further than this are
// effectively rotated pages, which the rasterizer has already normalized.
const maxSkewDegrees = 5.0

// DetectSkew estimates the dominant text-line angle in degrees. It binarizes
// a downscaled copy, then searches rotation angles for the one that maximizes
// the variance of the horizontal projection profile: straight text lines
// produce sharp alternating bands of ink and whitespace.
func DetectSkew(img *image.Gray) float64 {
	small := Scale(img, 800)
	bin := GlobalThreshold(small)

	best, bestScore := 0.0, -1.0
	for angle := -maxSkewDegrees; angle <= maxSkewDegrees; angle += 0.25 {
		score := projectionVariance(bin, angle)
		if score > bestScore {
			bestScore = score
			best = angle
		}
	}
	return best
}

// Deskew rotates the image to counter the detected skew. Angles below a
// quarter degree are not worth the resampling blur.
func Deskew(img *image.Gray) (*image.Gray, float64) {
	angle := DetectSkew(img)
	if math.Abs(angle) < 0.25 {
		return img, 0
	}
	return Rotate(img, -angle), angle
}

// projectionVariance computes the variance of per-row black-pixel counts with
// rows sheared by the candidate angle. Shearing approximates small rotations
// without resampling each candidate.
func projectionVariance(bin *image.Gray, angle float64) float64 {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	tan := math.Tan(angle * math.Pi / 180)

	counts := make([]float64, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if bin.Pix[y*bin.Stride+x] != 0 {
				continue
			}
			row := y + int(float64(x)*tan)
			if row >= 0 && row < h {
				counts[row]++
			}
		}
	}

	var sum float64
	for _, c := range counts {
		sum += c
	}
	mean := sum / float64(h)
	var variance float64
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	return variance / float64(h)
}
