// Package ingest turns filesystem paths into source documents: one-shot
// directory scans for batch runs and an fsnotify watcher for the daemon.
// Byte-identical files are deduplicated by content hash so a re-dropped
// invoice is not processed twice.
package ingest

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
	"github.com/tablewise/invoice-pipeline/internal/entity"
	"github.com/tablewise/invoice-pipeline/internal/storage"
)

// Loader reads files into immutable source documents.
type Loader struct {
	logger *slog.Logger
	store  storage.Registrar

	mu   sync.Mutex
	seen map[[sha256.Size]byte]uuid.UUID
}

// NewLoader builds a Loader. With a non-nil store, documents are registered
// there and carry no inline bytes; the pipeline reads them back by id. With a
// nil store the bytes travel inside the document.
func NewLoader(logger *slog.Logger, store storage.Registrar) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger: logger,
		store:  store,
		seen:   make(map[[sha256.Size]byte]uuid.UUID),
	}
}

// Load reads one file. The second return is true when a byte-identical file
// was loaded before; the document keeps its original id, and the caller
// chooses whether the re-sighting warrants another run.
func (l *Loader) Load(path string) (*entity.SourceDocument, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, err
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	format := constants.MapExtToFormat(ext)
	if format == "" {
		return nil, false, fmt.Errorf("unsupported or missing extension: %q", ext)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty file: %s", abs)
	}

	sum := sha256.Sum256(data)
	l.mu.Lock()
	id, dedup := l.seen[sum]
	if !dedup {
		id = uuid.New()
		l.seen[sum] = id
	}
	l.mu.Unlock()

	size := len(data)
	if l.store != nil {
		l.store.Register(id, abs)
		data = nil
	}

	doc := &entity.SourceDocument{
		ID:        id,
		Filename:  filepath.Base(abs),
		Format:    format,
		MediaType: mediaTypeFor(ext),
		Data:      data,
		// camera captures need the enhanced path probe; rendered PDFs
		// rarely do
		IsOriginal: format == constants.IMAGE,
		ReceivedAt: time.Now().UTC(),
	}
	if dedup {
		// the document is returned fully populated so the caller can decide
		// to re-enqueue it, for example after a transient failure
		l.logger.Info("ingest.deduplicated", "path", abs, "doc_id", doc.ID)
		return doc, true, nil
	}
	l.logger.Info("ingest.loaded",
		"path", abs,
		"doc_id", doc.ID,
		"format", doc.Format,
		"bytes", size)
	return doc, false, nil
}

func mediaTypeFor(ext string) string {
	if constants.IsHEICExt(ext) {
		return "image/heic"
	}
	switch constants.NormalizeExt(ext) {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// AllowedExt checks a file extension against the ingestion set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
