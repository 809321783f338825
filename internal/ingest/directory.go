package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tablewise/invoice-pipeline/internal/entity"
)

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// LoadDirectory walks root, skips hidden entries if requested, and loads
// every file with an allowed extension. Per-file failures are counted, not
// fatal; the walk continues.
func (l *Loader) LoadDirectory(ctx context.Context, root string, skipHidden bool) ([]*entity.SourceDocument, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var docs []*entity.SourceDocument
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			l.logger.Warn("ingest.walk.error", "path", path, "error", walkErr)
			stats.Failed++
			return nil
		}
		if skipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		doc, dedup, err := l.Load(path)
		if err != nil {
			l.logger.Warn("ingest.load.failed", "path", path, "error", err)
			stats.Failed++
			return nil
		}
		if dedup {
			stats.Deduplicated++
			return nil
		}
		docs = append(docs, doc)
		stats.Succeeded++
		return nil
	})

	if err != nil {
		return docs, stats, fmt.Errorf("walk: %w", err)
	}
	return docs, stats, nil
}
