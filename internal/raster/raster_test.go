package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestRasterizeInlineImage(t *testing.T) {
	doc := &entity.SourceDocument{
		ID:        uuid.New(),
		Format:    constants.IMAGE,
		MediaType: "image/png",
		Data:      pngBytes(t, 40, 30),
	}

	pages, err := New(Config{}, nil, discardLogger()).Rasterize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	b := pages[0].Image.Bounds()
	if b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("page bounds = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestRasterizeReadsFromStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	if err := os.WriteFile(path, pngBytes(t, 20, 20), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := storage.NewLocalDir()
	id := uuid.New()
	store.Register(id, path)

	doc := &entity.SourceDocument{
		ID:        id,
		Format:    constants.IMAGE,
		MediaType: "image/png",
	}
	pages, err := New(Config{}, store, discardLogger()).Rasterize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
}

func TestRasterizeNoDataNoStore(t *testing.T) {
	doc := &entity.SourceDocument{ID: uuid.New(), Format: constants.IMAGE}
	if _, err := New(Config{}, nil, discardLogger()).Rasterize(context.Background(), doc); err == nil {
		t.Fatal("want error for document without data or store")
	}
}

func TestRasterizeUnsupportedFormat(t *testing.T) {
	doc := &entity.SourceDocument{ID: uuid.New(), Format: "docx", Data: []byte("x")}
	if _, err := New(Config{}, nil, discardLogger()).Rasterize(context.Background(), doc); err == nil {
		t.Fatal("want error for unsupported format")
	}
}

func TestToGrayConvertsColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(2, 3, 12, 13))
	g := ToGray(img)
	b := g.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Dx() != 10 || b.Dy() != 10 {
		t.Errorf("gray bounds = %v, want origin-anchored 10x10", b)
	}
}

func TestToGrayPassThrough(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 5, 5))
	if ToGray(g) != g {
		t.Error("already-gray image must be returned unchanged")
	}
}
