package types

import (
	"errors"
	"io/fs"
)

var (
	// ErrMissingTierConfiguration is returned when a migration targets a tier
	// that has no configuration. It fails the whole call.
	ErrMissingTierConfiguration = errors.New("missing tier configuration")

	// ErrManifestLoad marks a manifest that could not be read or decoded.
	ErrManifestLoad = errors.New("manifest load failure")

	// ErrPartialBatch marks a batch where some files failed.
	ErrPartialBatch = errors.New("partial batch failure")
)

// ErrorKind classifies a per-file failure inside a batch operation.
type ErrorKind string

const (
	KindFileMissing      ErrorKind = "FileMissing"
	KindChecksumMismatch ErrorKind = "ChecksumMismatch"
	KindUnreadableFile   ErrorKind = "UnreadableFile"
	KindPermissionDenied ErrorKind = "PermissionDenied"
	KindCorruptContent   ErrorKind = "CorruptContent"
	KindMigrationFailed  ErrorKind = "MigrationFailed"
	KindEvaluationFailed ErrorKind = "EvaluationFailed"
	KindManifestCorrupt  ErrorKind = "ManifestCorrupt"
)

// FileError records one file's failure in a batch.
type FileError struct {
	Path    string    `json:"path"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e FileError) Error() string {
	return string(e.Kind) + ": " + e.Path + ": " + e.Message
}

// NewFileError builds a FileError, classifying I/O errors when kind is empty.
func NewFileError(path string, kind ErrorKind, err error) FileError {
	if kind == "" {
		kind = ClassifyIOError(err)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FileError{Path: path, Kind: kind, Message: msg}
}

// ClassifyIOError maps a filesystem error to an ErrorKind.
func ClassifyIOError(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindFileMissing
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	default:
		return KindUnreadableFile
	}
}
