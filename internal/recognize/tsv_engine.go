package recognize

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// TSVEngine is the fallback recognizer: an exec'd tesseract binary in TSV
// mode. It stays usable when the in-process engine cannot initialize, and its
// TSV output carries the same word boxes and confidences.
type TSVEngine struct {
	binary      string
	language    string
	tessdataDir string
	runner      Runner
}

func NewTSVEngine(binary, language, tessdataDir string) *TSVEngine {
	if binary == "" {
		binary = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &TSVEngine{binary: binary, language: language, tessdataDir: tessdataDir, runner: newExecRunner(nil)}
}

func (e *TSVEngine) Name() string { return "tesseract-tsv" }

// Available is optimistic: the binary's absence surfaces as a Recognize error
// and the engine list is exhausted normally.
func (e *TSVEngine) Available() bool { return true }

// Recognize runs tesseract over the region crop. Dense regions read best with
// single-block analysis; when that yields almost nothing the engine retries
// once in sparse-text mode, which handles isolated header fields. The retry
// is internal policy, not exposed upward.
func (e *TSVEngine) Recognize(ctx context.Context, img *image.Gray, region entity.Region) ([]entity.WordBlock, error) {
	crop := CropGray(img, region.BBox)

	tmpDir, err := os.MkdirTemp("", "ip-tsv-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "region.png")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := png.Encode(f, crop); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode region: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	// PSM 6: assume a single uniform block of text
	words, err := e.run(ctx, path, region, "6")
	if err != nil {
		return nil, err
	}
	if len(words) < 2 {
		// PSM 11: sparse text, find as much as possible in no particular order
		sparse, sparseErr := e.run(ctx, path, region, "11")
		if sparseErr == nil && len(sparse) > len(words) {
			words = sparse
		}
	}
	entity.SortReadingOrder(words)
	return words, nil
}

func (e *TSVEngine) run(ctx context.Context, path string, region entity.Region, psm string) ([]entity.WordBlock, error) {
	args := []string{path, "stdout", "-l", e.language, "--psm", psm}
	if e.tessdataDir != "" {
		args = append(args, "--tessdata-dir", e.tessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract TSV: %w (%s)", err, capString(string(errb), 512))
	}
	return parseTSV(string(out), region), nil
}

// parseTSV extracts word rows from tesseract's TSV output. Columns:
// level page block par line word left top width height conf text.
// Word rows have level 5; conf -1 marks non-word structural rows.
func parseTSV(out string, region entity.Region) []entity.WordBlock {
	var words []entity.WordBlock
	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || len(ln) == 0 {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		words = append(words, entity.WordBlock{
			Text: text,
			BBox: entity.BBox{
				X: region.BBox.X + left,
				Y: region.BBox.Y + top,
				W: width,
				H: height,
			},
			Confidence: conf / 100.0,
			Region:     region.Type,
		})
	}
	return words
}
