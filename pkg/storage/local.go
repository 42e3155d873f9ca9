package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const metaFile = "meta.json"

// LocalStorage implements Storage using the local filesystem, one directory
// per batch.
type LocalStorage struct {
	basePath string
	now      func() time.Time
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath, now: time.Now}, nil
}

// Put stores the file that produced batchID.
func (s *LocalStorage) Put(_ context.Context, batchID uuid.UUID, filename string, r io.Reader) (*FileInfo, error) {
	dir := filepath.Join(s.basePath, batchID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create batch directory: %w", err)
	}

	stored := sanitizeFilename(filename)
	path := filepath.Join(dir, stored)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info := &FileInfo{
		BatchID:   batchID,
		Name:      filename,
		Size:      size,
		Path:      filepath.Join(batchID.String(), stored),
		CreatedAt: s.now().UTC(),
	}
	if err := s.saveMetadata(dir, info); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return info, nil
}

// Open returns the archived file of a batch.
func (s *LocalStorage) Open(_ context.Context, batchID uuid.UUID) (io.ReadCloser, *FileInfo, error) {
	info, err := s.info(batchID.String())
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.basePath, info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// List returns every archived file, oldest first.
func (s *LocalStorage) List(_ context.Context) ([]*FileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := s.info(entry.Name())
		if err != nil {
			continue
		}
		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

func (s *LocalStorage) info(batch string) (*FileInfo, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, batch, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, batch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var info FileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &info, nil
}

func (s *LocalStorage) saveMetadata(dir string, info *FileInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// sanitizeFilename keeps the base name and replaces characters that are
// unsafe in paths.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	replacer := strings.NewReplacer(
		"/", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	if name == "" || name == "." || name == ".." || name == metaFile {
		return "upload"
	}
	return name
}
