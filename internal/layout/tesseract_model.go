package layout

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

// TesseractModel is the primary layout analyzer: Tesseract's page
// segmentation run at block granularity, with each block classified from its
// geometry and position. It counts as the "learned" path because the block
// detection itself comes from Tesseract's trained analysis.
type TesseractModel struct {
	language    string
	tessdataDir string

	availOnce sync.Once
	avail     bool
}

func NewTesseractModel(language, tessdataDir string) *TesseractModel {
	if language == "" {
		language = "eng"
	}
	return &TesseractModel{language: language, tessdataDir: tessdataDir}
}

func (m *TesseractModel) Name() string { return "tesseract-psa" }

// Available probes the installed Tesseract once. An engine with no language
// packs is as unusable as a missing one.
func (m *TesseractModel) Available() bool {
	m.availOnce.Do(func() {
		langs, err := gosseract.GetAvailableLanguages()
		m.avail = err == nil && len(langs) > 0
	})
	return m.avail
}

func (m *TesseractModel) Segment(ctx context.Context, img *image.Gray) ([]entity.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(m.language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if m.tessdataDir != "" {
		if err := client.SetTessdataPrefix(m.tessdataDir); err != nil {
			return nil, fmt.Errorf("set tessdata dir: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("set psm: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	blocks, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("block segmentation: %w", err)
	}

	pageH := img.Bounds().Dy()
	regions := make([]entity.Region, 0, len(blocks))
	for _, blk := range blocks {
		box := entity.BBox{
			X: blk.Box.Min.X,
			Y: blk.Box.Min.Y,
			W: blk.Box.Dx(),
			H: blk.Box.Dy(),
		}
		if box.Empty() {
			continue
		}
		regions = append(regions, entity.Region{
			Type:   classifyBand(img, box, pageH),
			BBox:   box,
			Source: entity.RegionFromModel,
		})
	}
	return regions, nil
}
