// Package layout partitions a cleaned page image into typed regions (header,
// table, footer, body, handwriting). A learned model is tried first; a pure
// geometric segmentation covers for it when it is unavailable.
package layout

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// Model is a learned layout analyzer. Implementations classify
// whitespace-delimited blocks into the typed region categories.
type Model interface {
	Name() string
	// Available reports whether the model can be used at all. The fallback
	// runs only when the model is unavailable or errors, never because the
	// two disagree.
	Available() bool
	Segment(ctx context.Context, img *image.Gray) ([]entity.Region, error)
}

// Segmenter wraps the primary model with the geometric fallback.
type Segmenter struct {
	model  Model
	logger *slog.Logger
}

func NewSegmenter(model Model, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{model: model, logger: logger}
}

// Segment returns the ordered regions of a cleaned page. Each region carries
// which path produced it so downstream confidence weighting can discount
// fallback-sourced regions.
func (s *Segmenter) Segment(ctx context.Context, img *image.Gray) []entity.Region {
	if s.model != nil && s.model.Available() {
		start := time.Now()
		regions, err := s.model.Segment(ctx, img)
		if err == nil && len(regions) > 0 {
			s.logger.Debug("layout.model_ok",
				"model", s.model.Name(),
				"regions", len(regions),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return regions
		}
		if err != nil {
			s.logger.Warn("layout.model_failed, using geometric fallback",
				"model", s.model.Name(), "error", err)
		}
	}

	regions := GeometricSegment(img)
	s.logger.Debug("layout.geometric_ok", "regions", len(regions))
	return regions
}
