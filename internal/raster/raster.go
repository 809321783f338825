// Package raster converts a source document into fixed-resolution grayscale
// page images. PDFs render through MuPDF (go-fitz); images decode directly
// and pass through as a single page.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/storage"
)

// Config controls rasterization.
type Config struct {
	DPI      int // rendering resolution for PDF pages, default 300
	MaxPages int // 0 = no limit
}

// Rasterizer renders SourceDocuments into pages.
type Rasterizer struct {
	cfg    Config
	store  storage.Storage
	logger *slog.Logger
}

// New builds a Rasterizer. Documents carrying their bytes inline render
// directly; otherwise the store resolves the id. A nil store is allowed when
// every document is loaded with inline data.
func New(cfg Config, store storage.Storage, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Rasterizer{cfg: cfg, store: store, logger: logger}
}

// Rasterize produces one grayscale page image per source page. The context is
// checked between pages so a withdrawn document stops promptly.
func (r *Rasterizer) Rasterize(ctx context.Context, doc *entity.SourceDocument) ([]*entity.Page, error) {
	start := time.Now()
	data := doc.Data
	if len(data) == 0 {
		if r.store == nil {
			return nil, fmt.Errorf("document %s has no data and no store is configured", doc.ID)
		}
		var err error
		data, err = r.store.ReadFile(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", doc.ID, err)
		}
	}

	var (
		pages []*entity.Page
		err   error
	)
	switch doc.Format {
	case constants.PDF:
		pages, err = r.rasterizePDF(ctx, data)
	case constants.IMAGE:
		pages, err = r.decodeImage(data, doc.MediaType)
	default:
		return nil, fmt.Errorf("unsupported source format: %q", doc.Format)
	}
	if err != nil {
		r.logger.Error("raster.failed", "document_id", doc.ID, "format", doc.Format, "error", err)
		return nil, err
	}
	r.logger.Debug("raster.ok",
		"document_id", doc.ID,
		"format", doc.Format,
		"pages", len(pages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}

func (r *Rasterizer) rasterizePDF(ctx context.Context, data []byte) ([]*entity.Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if r.cfg.MaxPages > 0 && n > r.cfg.MaxPages {
		n = r.cfg.MaxPages
	}
	if n == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	pages := make([]*entity.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(r.cfg.DPI))
		if err != nil {
			return nil, fmt.Errorf("rendering page %d: %w", i, err)
		}
		pages = append(pages, &entity.Page{Index: i, Image: ToGray(img)})
	}
	return pages, nil
}

func (r *Rasterizer) decodeImage(data []byte, mediaType string) ([]*entity.Page, error) {
	var (
		img image.Image
		err error
	)
	if isHEIC(data, mediaType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}
	return []*entity.Page{{Index: 0, Image: ToGray(img)}}, nil
}

// ToGray converts any image to 8-bit grayscale. Already-gray images are
// returned as-is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}
