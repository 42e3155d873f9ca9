// Package storage archives the raw files behind confirmed imports.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("archived file not found")

// FileInfo contains metadata about an archived file
type FileInfo struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"` // relative to the storage root
	CreatedAt time.Time `json:"created_at"`
}

// Storage keeps one source file per import batch.
type Storage interface {
	// Put stores the file that produced batchID.
	Put(ctx context.Context, batchID uuid.UUID, filename string, r io.Reader) (*FileInfo, error)

	// Open returns the archived file of a batch. The caller closes it.
	Open(ctx context.Context, batchID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// List returns every archived file, oldest first.
	List(ctx context.Context) ([]*FileInfo, error)
}
