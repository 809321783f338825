package entity

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
)

// SourceDocument is the immutable ingestion input. It is created once and
// never mutated; everything derived from it is owned by the processing worker.
type SourceDocument struct {
	ID         uuid.UUID
	Filename   string
	Format     string // constants.PDF | constants.IMAGE
	MediaType  string
	Data       []byte
	IsOriginal bool // photographed/handheld capture rather than a rendered PDF
	ReceivedAt time.Time
}

// Page is one rasterized page image. Pages are owned exclusively by their
// document's worker for the duration of processing.
type Page struct {
	Index int
	Image *image.Gray // grayscale raster at the configured DPI
	// Cleaned is populated by the preprocessing selector; nil until then.
	Cleaned  *image.Gray
	PathUsed string // preprocess path tag: "minimal" | "enhanced"
}

// RegionType classifies a layout region.
type RegionType string

const (
	RegionHeader      RegionType = "header"
	RegionTable       RegionType = "table"
	RegionFooter      RegionType = "footer"
	RegionBody        RegionType = "body"
	RegionHandwriting RegionType = "handwriting"
)

// RegionSource records which layout path produced a region so downstream
// confidence weighting can discount the geometric fallback slightly.
type RegionSource string

const (
	RegionFromModel     RegionSource = "model"
	RegionFromGeometric RegionSource = "geometric"
)

// Region is a typed sub-rectangle of a page.
type Region struct {
	Type   RegionType
	BBox   BBox
	Source RegionSource
}

// EngineID identifies which recognition engine produced a result.
type EngineID string

const (
	EnginePrimary  EngineID = "primary"
	EngineFallback EngineID = "fallback"
)

// WordBlock is the recognition engine's atomic output: one word with its
// bounding box in original page-pixel coordinates and a confidence in [0,1].
type WordBlock struct {
	Text       string
	BBox       BBox
	Confidence float64
	Region     RegionType
}

// PageRecognitionResult aggregates the word blocks recognized on one page.
type PageRecognitionResult struct {
	PageIndex int
	Words     []WordBlock
	Engine    EngineID
	// Confidence is the mean of word confidences; 0 when no words were read.
	Confidence float64
	Regions    []Region
}

// Text assembles the page text in reading order (words arrive ordered from
// the engine). Words are joined by spaces with line breaks at row boundaries.
func (r PageRecognitionResult) Text() string {
	return JoinWords(r.Words)
}

// DocumentTypeOf classifies the page from its header-zone words.
func (r PageRecognitionResult) DocumentTypeOf() constants.DocumentType {
	var header []WordBlock
	for _, w := range r.Words {
		if w.Region == RegionHeader {
			header = append(header, w)
		}
	}
	if len(header) == 0 {
		return constants.UnknownDoc
	}
	return constants.ClassifyHeader(JoinWords(header))
}
