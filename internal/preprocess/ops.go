// Package preprocess cleans raw page rasters ahead of text recognition.
//
// Two paths are available: a minimal path (adaptive threshold only) and an
// enhanced path (photo detection, conditional dewarp, deskew, denoise, local
// contrast normalization, morphological noise removal, adaptive threshold
// with a global Otsu fallback). The selector in selector.go decides which
// path's output feeds the recognition engine.
package preprocess

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// otsuThreshold computes the global threshold maximizing inter-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	for _, px := range img.Pix {
		hist[px]++
	}
	total := len(img.Pix)
	if total == 0 {
		return 128
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	bestVar, best := -1.0, 128
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return uint8(best)
}

// GlobalThreshold binarizes with Otsu's method: text black, background white.
func GlobalThreshold(img *image.Gray) *image.Gray {
	t := otsuThreshold(img)
	out := image.NewGray(img.Bounds())
	for i, px := range img.Pix {
		if px > t {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}

// AdaptiveThreshold binarizes against a local mean over a window, which holds
// up on unevenly lit scans where a global threshold washes out. window must be
// odd; c is subtracted from the local mean before comparison.
func AdaptiveThreshold(img *image.Gray, window int, c int) *image.Gray {
	if window%2 == 0 {
		window++
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)

	// summed-area table for O(1) window means
	integ := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(img.Pix[y*img.Stride+x])
			integ[(y+1)*(w+1)+x+1] = integ[y*(w+1)+x+1] + row
		}
	}

	r := window / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-r), min(h-1, y+r)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-r), min(w-1, x+r)
			area := int64((y1 - y0 + 1) * (x1 - x0 + 1))
			sum := integ[(y1+1)*(w+1)+x1+1] - integ[y0*(w+1)+x1+1] -
				integ[(y1+1)*(w+1)+x0] + integ[y0*(w+1)+x0]
			mean := sum / area
			if int64(img.Pix[y*img.Stride+x]) > mean-int64(c) {
				out.Pix[y*out.Stride+x] = 255
			} else {
				out.Pix[y*out.Stride+x] = 0
			}
		}
	}
	return out
}

// Degenerate reports whether a binarized image is unusable: almost entirely
// one class. Such results trigger the global-threshold fallback.
func Degenerate(bin *image.Gray) bool {
	if len(bin.Pix) == 0 {
		return true
	}
	var black int
	for _, px := range bin.Pix {
		if px == 0 {
			black++
		}
	}
	ratio := float64(black) / float64(len(bin.Pix))
	return ratio < 0.001 || ratio > 0.60
}

// MedianDenoise applies a 3x3 median filter, removing salt-and-pepper noise
// typical of thermal-paper photographs.
func MedianDenoise(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	copy(out.Pix, img.Pix)
	var win [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					win[k] = img.Pix[(y+dy)*img.Stride+(x+dx)]
					k++
				}
			}
			out.Pix[y*out.Stride+x] = median9(win)
		}
	}
	return out
}

func median9(v [9]uint8) uint8 {
	// insertion sort on a fixed-size array
	for i := 1; i < 9; i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
	return v[4]
}

// NormalizeContrast stretches intensity per tile so faded regions keep local
// detail. Tiles with near-uniform intensity are left alone to avoid
// amplifying noise in blank areas.
func NormalizeContrast(img *image.Gray, tile int) *image.Gray {
	if tile < 16 {
		tile = 16
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	copy(out.Pix, img.Pix)

	for ty := 0; ty < h; ty += tile {
		for tx := 0; tx < w; tx += tile {
			y1, x1 := min(ty+tile, h), min(tx+tile, w)
			lo, hi := uint8(255), uint8(0)
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					px := img.Pix[y*img.Stride+x]
					if px < lo {
						lo = px
					}
					if px > hi {
						hi = px
					}
				}
			}
			spread := int(hi) - int(lo)
			if spread < 30 {
				continue // near-uniform tile
			}
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					px := int(img.Pix[y*img.Stride+x])
					out.Pix[y*out.Stride+x] = uint8((px - int(lo)) * 255 / spread)
				}
			}
		}
	}
	return out
}

// MorphClose applies binary closing (dilate then erode) with a 3x3 kernel,
// reconnecting broken strokes on thermal prints. Operates on black text over
// white background.
func MorphClose(bin *image.Gray) *image.Gray {
	return erode(dilate(bin))
}

func dilate(bin *image.Gray) *image.Gray {
	return morph(bin, func(anyBlack bool) uint8 {
		if anyBlack {
			return 0
		}
		return 255
	}, true)
}

func erode(bin *image.Gray) *image.Gray {
	return morph(bin, func(anyWhite bool) uint8 {
		if anyWhite {
			return 255
		}
		return 0
	}, false)
}

// morph scans the 3x3 neighborhood looking for the probe class (black when
// probeBlack, else white) and lets decide map the hit to an output value.
func morph(bin *image.Gray, decide func(hit bool) uint8, probeBlack bool) *image.Gray {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	copy(out.Pix, bin.Pix)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			hit := false
			for dy := -1; dy <= 1 && !hit; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px := bin.Pix[(y+dy)*bin.Stride+(x+dx)]
					if (probeBlack && px == 0) || (!probeBlack && px == 255) {
						hit = true
						break
					}
				}
			}
			out.Pix[y*out.Stride+x] = decide(hit)
		}
	}
	return out
}

// Rotate rotates the image by angle degrees about its center, filling exposed
// corners with white.
func Rotate(img *image.Gray, angle float64) *image.Gray {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	rad := angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	out := image.NewGray(b)
	for i := range out.Pix {
		out.Pix[i] = 255
	}
	cx, cy := w/2, h/2
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(out, m, img, b, draw.Src, nil)
	return out
}

// Scale resamples the image to the given width, preserving aspect ratio.
// Used by the cheap probe so dual-path comparison stays inexpensive.
func Scale(img *image.Gray, width int) *image.Gray {
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}
	height := b.Dy() * width / b.Dx()
	out := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
