package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// GosseractEngine is the primary recognizer: in-process Tesseract through
// gosseract, reading word-level boxes and confidences directly from the page
// iterator.
type GosseractEngine struct {
	language    string
	tessdataDir string

	availOnce sync.Once
	avail     bool
}

func NewGosseractEngine(language, tessdataDir string) *GosseractEngine {
	if language == "" {
		language = "eng"
	}
	return &GosseractEngine{language: language, tessdataDir: tessdataDir}
}

func (e *GosseractEngine) Name() string { return "gosseract" }

func (e *GosseractEngine) Available() bool {
	e.availOnce.Do(func() {
		langs, err := gosseract.GetAvailableLanguages()
		e.avail = err == nil && len(langs) > 0
	})
	return e.avail
}

// Recognize reads the words inside one region. Boxes come back in original
// page-pixel coordinates regardless of the crop.
func (e *GosseractEngine) Recognize(ctx context.Context, img *image.Gray, region entity.Region) ([]entity.WordBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	crop := CropGray(img, region.BBox)

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if e.tessdataDir != "" {
		if err := client.SetTessdataPrefix(e.tessdataDir); err != nil {
			return nil, fmt.Errorf("set tessdata dir: %w", err)
		}
	}
	// a region is already one block of text
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("set psm: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}

	words := make([]entity.WordBlock, 0, len(boxes))
	for _, bb := range boxes {
		if bb.Word == "" {
			continue
		}
		words = append(words, entity.WordBlock{
			Text: bb.Word,
			BBox: entity.BBox{
				X: region.BBox.X + bb.Box.Min.X,
				Y: region.BBox.Y + bb.Box.Min.Y,
				W: bb.Box.Dx(),
				H: bb.Box.Dy(),
			},
			Confidence: bb.Confidence / 100.0,
			Region:     region.Type,
		})
	}
	entity.SortReadingOrder(words)
	return words, nil
}

// CropGray copies the sub-rectangle of img covered by box into a zero-origin
// image. Out-of-range boxes are clamped to the page.
func CropGray(img *image.Gray, box entity.BBox) *image.Gray {
	b := img.Bounds()
	x0, y0 := max(box.X, 0), max(box.Y, 0)
	x1, y1 := min(box.X+box.W, b.Dx()), min(box.Y+box.H, b.Dy())
	if x1 <= x0 || y1 <= y0 {
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}
	out := image.NewGray(image.Rect(0, 0, x1-x0, y1-y0))
	for y := y0; y < y1; y++ {
		copy(out.Pix[(y-y0)*out.Stride:(y-y0)*out.Stride+(x1-x0)], img.Pix[y*img.Stride+x0:y*img.Stride+x1])
	}
	return out
}
