package preprocess

import (
	"context"
	"image"
	"log/slog"
	"time"
)

// Path tags which cleaning path produced an image.
const (
	PathMinimal  = "minimal"
	PathEnhanced = "enhanced"
)

// Probe is the recognition engine's cheap signal used to compare candidate
// cleanings: word count and mean word confidence only, no boxes.
type Probe interface {
	Probe(ctx context.Context, img *image.Gray) (words int, confidence float64, err error)
}

// Comparison records a dual-path decision for observability.
type Comparison struct {
	Winner        string
	MinimalScore  float64
	EnhancedScore float64
	Margin        float64
	ProbeDuration time.Duration
}

// Selector produces one cleaned image per page, choosing between the minimal
// and enhanced paths when dual-path comparison is enabled.
type Selector struct {
	dualPath bool
	probe    Probe
	logger   *slog.Logger
}

func NewSelector(dualPath bool, probe Probe, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{dualPath: dualPath, probe: probe, logger: logger}
}

// Minimal is the cheap path: adaptive threshold only.
func Minimal(img *image.Gray) *image.Gray {
	bin := AdaptiveThreshold(img, 31, 10)
	if Degenerate(bin) {
		bin = GlobalThreshold(img)
	}
	return bin
}

// Enhanced is the full cleaning path for difficult captures.
func Enhanced(img *image.Gray) *image.Gray {
	work := img
	if LooksLikePhoto(work) {
		work = CropToDocument(work)
	}
	work, _ = Deskew(work)
	work = MedianDenoise(work)
	work = NormalizeContrast(work, 64)
	bin := AdaptiveThreshold(work, 31, 10)
	if Degenerate(bin) {
		bin = GlobalThreshold(work)
	}
	return MorphClose(bin)
}

// Clean returns the chosen cleaned image and the path tag that produced it.
//
// Rendered PDF pages (isOriginalScan=false) take only the enhanced path:
// they are already flat, and the photo-specific steps are no-ops on them,
// while the minimal path would give up contrast normalization for nothing.
// For original scans with dual-path enabled, both paths run and the probe
// picks the one with the higher word count × confidence product; ties favor
// the enhanced path.
func (s *Selector) Clean(ctx context.Context, img *image.Gray, isOriginalScan bool) (*image.Gray, string, error) {
	if !isOriginalScan || !s.dualPath || s.probe == nil {
		return Enhanced(img), PathEnhanced, nil
	}

	start := time.Now()
	minimal := Minimal(img)
	enhanced := Enhanced(img)

	minScore := s.probeScore(ctx, minimal)
	enhScore := s.probeScore(ctx, enhanced)

	cmp := Comparison{
		MinimalScore:  minScore,
		EnhancedScore: enhScore,
		Margin:        enhScore - minScore,
		ProbeDuration: time.Since(start),
	}

	// ties favor enhanced
	if minScore > enhScore {
		cmp.Winner = PathMinimal
		s.logComparison(cmp)
		return minimal, PathMinimal, nil
	}
	cmp.Winner = PathEnhanced
	s.logComparison(cmp)
	return enhanced, PathEnhanced, nil
}

func (s *Selector) probeScore(ctx context.Context, img *image.Gray) float64 {
	words, conf, err := s.probe.Probe(ctx, img)
	if err != nil {
		s.logger.Warn("preprocess.probe_failed", "error", err)
		return 0
	}
	return float64(words) * conf
}

// logComparison never blocks the pipeline; it is a plain structured log line.
func (s *Selector) logComparison(c Comparison) {
	s.logger.Info("preprocess.path_chosen",
		"winner", c.Winner,
		"minimal_score", c.MinimalScore,
		"enhanced_score", c.EnhancedScore,
		"margin", c.Margin,
		"probe_ms", c.ProbeDuration.Milliseconds(),
	)
}
