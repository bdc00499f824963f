package tier

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gftdcojp/tickstore/internal/types"
)

// ErrNotFound is returned by a Store for a path it does not hold.
var ErrNotFound = errors.New("not found in tier")

// Store is the interface every tier backend must implement. Paths are
// slash-separated and relative to the tier.
type Store interface {
	// Create opens a staged writer for rel. Nothing is visible at rel until
	// Commit succeeds; Abort discards the staged content.
	Create(ctx context.Context, rel string, modTime time.Time) (Writer, error)
	Open(ctx context.Context, rel string) (io.ReadCloser, error)
	Exists(ctx context.Context, rel string) (bool, error)
	Delete(ctx context.Context, rel string) error
	// Location describes where rel lives, for logs and audit records.
	Location(rel string) string
}

// Writer is a staged upload into a Store.
type Writer interface {
	io.Writer
	Commit() error
	Abort() error
}

// FormatConverter rewrites a decompressed record stream from one format to
// another. Implementations live outside this module.
type FormatConverter interface {
	Convert(ctx context.Context, src io.Reader, from, to types.Format, dst io.Writer) error
}
