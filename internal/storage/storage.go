// Package storage resolves a document id back to its source bytes. The
// pipeline only ever reads through this seam; upload paths, retention and
// deduplication belong to whoever registered the document.
package storage

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownDocument = errors.New("storage: unknown document")

// Storage is the read half consumed by the pipeline.
type Storage interface {
	ReadFile(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// Registrar is the ingest half: associate an id with its backing location.
type Registrar interface {
	Register(id uuid.UUID, path string)
}

// LocalDir serves documents straight from the filesystem paths they were
// ingested at. Files must outlive the documents registered against them.
type LocalDir struct {
	mu    sync.RWMutex
	paths map[uuid.UUID]string
}

func NewLocalDir() *LocalDir {
	return &LocalDir{paths: make(map[uuid.UUID]string)}
}

func (s *LocalDir) Register(id uuid.UUID, path string) {
	s.mu.Lock()
	s.paths[id] = path
	s.mu.Unlock()
}

func (s *LocalDir) ReadFile(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	path, ok := s.paths[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownDocument
	}
	return os.ReadFile(path)
}
