// Package recognize abstracts over text-recognition engines. A primary
// in-process engine and an exec'd fallback sit behind one interface; the
// Engine escalates per region when the primary is unavailable or reads below
// the confidence floor.
package recognize

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/tablewise/invoice-pipeline/internal/common"
	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// Recognizer reads the words inside one region of a page image.
type Recognizer interface {
	Name() string
	Available() bool
	Recognize(ctx context.Context, img *image.Gray, region entity.Region) ([]entity.WordBlock, error)
}

// geometricRegionDiscount slightly reduces confidence for words read out of
// regions the geometric layout fallback produced, since their typing is less
// trustworthy than the model's.
const geometricRegionDiscount = 0.95

// Engine escalates through an ordered list of recognizers.
type Engine struct {
	recognizers     []Recognizer // primary first
	confidenceFloor float64
	callTimeout     time.Duration
	logger          *slog.Logger
}

func NewEngine(recognizers []Recognizer, confidenceFloor float64, callTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		recognizers:     recognizers,
		confidenceFloor: confidenceFloor,
		callTimeout:     callTimeout,
		logger:          logger,
	}
}

// RecognizePage reads every region of a cleaned page. Per region: the primary
// engine is attempted first; when it is unavailable, errors, or reads below
// the floor, the next engine re-runs that region rather than accepting a
// low-confidence result. Word boxes stay in original page-pixel coordinates.
func (e *Engine) RecognizePage(ctx context.Context, img *image.Gray, regions []entity.Region, pageIndex int) (entity.PageRecognitionResult, error) {
	result := entity.PageRecognitionResult{PageIndex: pageIndex, Engine: entity.EnginePrimary, Regions: regions}

	var lastErr error
	for _, region := range regions {
		words, engine, err := e.recognizeRegion(ctx, img, region)
		if err != nil {
			lastErr = err
			continue
		}
		if engine == entity.EngineFallback {
			result.Engine = entity.EngineFallback
		}
		if region.Source == entity.RegionFromGeometric {
			for i := range words {
				words[i].Confidence *= geometricRegionDiscount
			}
		}
		result.Words = append(result.Words, words...)
	}

	if len(result.Words) == 0 && lastErr != nil {
		return result, common.NewAppError(common.CauseOf(lastErr), "all recognizers failed", lastErr)
	}

	result.Confidence = blendConfidence(result.Words)
	e.logger.Debug("recognize.page_ok",
		"page", pageIndex,
		"regions", len(regions),
		"words", len(result.Words),
		"engine", string(result.Engine),
		"confidence", result.Confidence,
	)
	return result, nil
}

func (e *Engine) recognizeRegion(ctx context.Context, img *image.Gray, region entity.Region) ([]entity.WordBlock, entity.EngineID, error) {
	var lastErr error
	for i, rec := range e.recognizers {
		engineID := entity.EnginePrimary
		if i > 0 {
			engineID = entity.EngineFallback
		}
		if !rec.Available() {
			e.logger.Debug("recognize.engine_unavailable", "engine", rec.Name())
			lastErr = common.ErrEngineUnavailable
			continue
		}

		callCtx := ctx
		if e.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
		}
		words, err := rec.Recognize(callCtx, img, region)
		if err != nil {
			e.logger.Warn("recognize.engine_failed", "engine", rec.Name(), "region", string(region.Type), "error", err)
			lastErr = err
			continue
		}
		if meanConfidence(words) < e.confidenceFloor && i < len(e.recognizers)-1 {
			e.logger.Debug("recognize.below_floor, escalating",
				"engine", rec.Name(),
				"region", string(region.Type),
				"confidence", meanConfidence(words),
				"floor", e.confidenceFloor,
			)
			lastErr = nil
			continue
		}
		return words, engineID, nil
	}
	if lastErr == nil {
		lastErr = common.ErrEngineUnavailable
	}
	return nil, entity.EngineFallback, lastErr
}

// Probe is the cheap comparison signal for dual-path preprocessing: word
// count and mean confidence over the whole page, no region segmentation.
func (e *Engine) Probe(ctx context.Context, img *image.Gray) (int, float64, error) {
	whole := entity.Region{
		Type:   entity.RegionBody,
		BBox:   entity.BBox{X: 0, Y: 0, W: img.Bounds().Dx(), H: img.Bounds().Dy()},
		Source: entity.RegionFromModel,
	}
	words, _, err := e.recognizeRegion(ctx, img, whole)
	if err != nil {
		return 0, 0, err
	}
	return len(words), meanConfidence(words), nil
}

func meanConfidence(words []entity.WordBlock) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}

// blendConfidence mixes the engines' own word confidence with a text-shape
// heuristic, weighting the engine signal higher when present. A plain mean
// of word confidences overstates pages where the engine is confident about
// garbage, so the shape heuristic pulls the page score down when the text
// carries none of the markers an invoice page should have.
func blendConfidence(words []entity.WordBlock) float64 {
	if len(words) == 0 {
		return 0
	}
	engineConf := meanConfidence(words)
	heurConf := heuristicConfidence(entity.JoinWords(words))
	var conf float64
	if engineConf > 0 {
		conf = 0.7*engineConf + 0.3*heurConf
	} else {
		conf = heurConf
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}
