package preprocess

import "image"

// LooksLikePhoto reports whether the raster appears to be a handheld
// photograph of a document rather than a flat scan: photographs carry a dark
// surround where the table or background shows past the paper edges.
func LooksLikePhoto(img *image.Gray) bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 40 || h < 40 {
		return false
	}
	border := min(w, h) / 20

	var sum, n int64
	sample := func(x0, y0, x1, y1 int) {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				sum += int64(img.Pix[y*img.Stride+x])
				n++
			}
		}
	}
	sample(0, 0, w, border)     // top strip
	sample(0, h-border, w, h)   // bottom strip
	sample(0, 0, border, h)     // left strip
	sample(w-border, 0, w, h)   // right strip

	return n > 0 && sum/n < 96 // dark surround
}

// CropToDocument trims the dark surround of a photographed page down to the
// paper bounds. This stands in for a full perspective dewarp: it recovers the
// usable area without inventing geometry the recognizer cannot verify.
func CropToDocument(img *image.Gray) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	const paper = 150 // intensity above which a pixel reads as paper

	rowBright := func(y int) float64 {
		var bright int
		for x := 0; x < w; x++ {
			if img.Pix[y*img.Stride+x] >= paper {
				bright++
			}
		}
		return float64(bright) / float64(w)
	}
	colBright := func(x int) float64 {
		var bright int
		for y := 0; y < h; y++ {
			if img.Pix[y*img.Stride+x] >= paper {
				bright++
			}
		}
		return float64(bright) / float64(h)
	}

	const coverage = 0.5
	top, bottom, left, right := 0, h, 0, w
	for top < h && rowBright(top) < coverage {
		top++
	}
	for bottom > top && rowBright(bottom-1) < coverage {
		bottom--
	}
	for left < w && colBright(left) < coverage {
		left++
	}
	for right > left && colBright(right-1) < coverage {
		right--
	}

	// refuse implausible crops; better to keep the full frame
	if (bottom-top) < h/2 || (right-left) < w/2 {
		return img
	}

	// copy to a zero-origin image so downstream indexing stays simple
	out := image.NewGray(image.Rect(0, 0, right-left, bottom-top))
	for y := top; y < bottom; y++ {
		copy(out.Pix[(y-top)*out.Stride:(y-top)*out.Stride+(right-left)], img.Pix[y*img.Stride+left:y*img.Stride+right])
	}
	return out
}
