package service

import (
	"errors"
	"fmt"

	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/sniffer"
)

var (
	ErrUnknownFormat  = errors.New("unknown format")
	ErrFileNotInBatch = errors.New("file not in upload")
	ErrNoFiles        = errors.New("no files uploaded")
)

// ErrorKind classifies a per-file failure.
type ErrorKind string

const (
	KindEmptyFile         ErrorKind = "empty_file"
	KindUnreadableFile    ErrorKind = "unreadable_file"
	KindHeaderNotFound    ErrorKind = "header_not_found"
	KindIncompleteMapping ErrorKind = "incomplete_mapping"
	KindInvalidConfig     ErrorKind = "invalid_config"
	KindPersistence       ErrorKind = "persistence"
	KindInternal          ErrorKind = "internal"
)

// FileError is the error slot of a file preview or result.
type FileError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Missing []string  `json:"missing_fields,omitempty"`

	err error
}

func (e *FileError) Error() string {
	return e.Message
}

func (e *FileError) Unwrap() error {
	return e.err
}

// Structural reports whether the file could not be read or profiled at all.
func (e *FileError) Structural() bool {
	switch e.Kind {
	case KindEmptyFile, KindUnreadableFile, KindHeaderNotFound:
		return true
	}
	return false
}

// PersistenceError is a failed write of one file's transactions. Nothing
// from that file was written.
type PersistenceError struct {
	Filename string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Filename, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an error onto the file error taxonomy. It returns nil for nil.
func ClassifyError(err error) *FileError {
	if err == nil {
		return nil
	}

	var fe *FileError
	if errors.As(err, &fe) {
		return fe
	}

	out := &FileError{Message: err.Error(), err: err}
	var incomplete *repository.IncompleteMappingError
	var persistence *PersistenceError

	switch {
	case errors.As(err, &incomplete):
		out.Kind = KindIncompleteMapping
		out.Missing = incomplete.Missing
	case errors.Is(err, sniffer.ErrEmptyFile):
		out.Kind = KindEmptyFile
	case errors.Is(err, sniffer.ErrUnreadableFile):
		out.Kind = KindUnreadableFile
	case errors.Is(err, sniffer.ErrHeaderNotFound):
		out.Kind = KindHeaderNotFound
	case errors.Is(err, repository.ErrInvalidConfig), errors.Is(err, ErrUnknownFormat), errors.Is(err, ErrFileNotInBatch):
		out.Kind = KindInvalidConfig
	case errors.As(err, &persistence):
		out.Kind = KindPersistence
	default:
		out.Kind = KindInternal
	}
	return out
}
