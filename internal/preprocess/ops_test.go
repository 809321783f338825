package preprocess

import (
	"image"
	"testing"
)

func flatGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestGlobalThresholdSeparatesClasses(t *testing.T) {
	img := flatGray(40, 40, 220)
	for y := 10; y < 14; y++ {
		for x := 5; x < 35; x++ {
			img.Pix[y*img.Stride+x] = 25
		}
	}

	bin := GlobalThreshold(img)
	for _, px := range bin.Pix {
		if px != 0 && px != 255 {
			t.Fatalf("non-binary pixel %d", px)
		}
	}
	if bin.Pix[11*bin.Stride+10] != 0 {
		t.Error("stroke pixel must binarize to black")
	}
	if bin.Pix[0] != 255 {
		t.Error("background pixel must binarize to white")
	}
}

func TestAdaptiveThresholdUnevenLighting(t *testing.T) {
	// background brightness ramps from 120 to 240 left to right; strokes sit
	// 60 below the local background, which a global threshold cannot follow
	w, h := 120, 60
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bg := uint8(120 + x)
			img.Pix[y*img.Stride+x] = bg
		}
	}
	for x := 10; x < w-10; x++ {
		for y := 28; y < 31; y++ {
			img.Pix[y*img.Stride+x] = uint8(120+x) - 60
		}
	}

	bin := AdaptiveThreshold(img, 31, 10)
	// the stroke darkens against its local mean at both the dim and the
	// bright ends
	if bin.Pix[29*bin.Stride+15] != 0 {
		t.Error("stroke at dim end must be black")
	}
	if bin.Pix[29*bin.Stride+(w-15)] != 0 {
		t.Error("stroke at bright end must be black")
	}
	if bin.Pix[5*bin.Stride+15] != 255 || bin.Pix[5*bin.Stride+(w-15)] != 255 {
		t.Error("background must stay white at both ends")
	}
}

func TestDegenerate(t *testing.T) {
	if !Degenerate(flatGray(20, 20, 255)) {
		t.Error("all-white image is degenerate")
	}
	if !Degenerate(flatGray(20, 20, 0)) {
		t.Error("all-black image is degenerate")
	}

	mixed := flatGray(20, 20, 255)
	for y := 5; y < 9; y++ {
		for x := 0; x < 20; x++ {
			mixed.Pix[y*mixed.Stride+x] = 0
		}
	}
	if Degenerate(mixed) {
		t.Error("20% black is a usable binarization")
	}
}

func TestMedianDenoiseRemovesSaltNoise(t *testing.T) {
	img := flatGray(30, 30, 255)
	img.Pix[15*img.Stride+15] = 0 // lone pepper pixel

	out := MedianDenoise(img)
	if out.Pix[15*out.Stride+15] != 255 {
		t.Error("isolated dark pixel must be filtered out")
	}
}

func TestMorphClosePreservesStroke(t *testing.T) {
	img := flatGray(30, 30, 255)
	for x := 5; x < 25; x++ {
		for y := 14; y < 17; y++ {
			img.Pix[y*img.Stride+x] = 0
		}
	}

	out := MorphClose(img)
	if out.Pix[15*out.Stride+15] != 0 {
		t.Error("3px stroke must survive close")
	}
}
