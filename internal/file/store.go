// Package file implements the local-directory tier store.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/tier"
	"go.uber.org/zap"
)

// Store implements tier.Store on a local directory. Writes are staged in
// a _staging directory under the tier and renamed into place on commit.
type Store struct {
	dataDir    string
	stagingDir string
	logger     *zap.Logger
}

// NewStore creates the tier directory (and its staging area) if needed.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	staging := filepath.Join(dataDir, fswalk.StagingDir)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	return &Store{
		dataDir:    dataDir,
		stagingDir: staging,
		logger:     logger,
	}, nil
}

func (s *Store) filePath(rel string) string {
	return filepath.Join(s.dataDir, filepath.FromSlash(strings.TrimLeft(rel, "/")))
}

func (s *Store) Create(_ context.Context, rel string, modTime time.Time) (tier.Writer, error) {
	f, err := os.CreateTemp(s.stagingDir, "*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	return &stagedFile{store: s, f: f, dest: s.filePath(rel), modTime: modTime}, nil
}

func (s *Store) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	f, err := os.Open(s.filePath(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", rel, tier.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) Exists(_ context.Context, rel string) (bool, error) {
	_, err := os.Stat(s.filePath(rel))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Delete(_ context.Context, rel string) error {
	err := os.Remove(s.filePath(rel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Location(rel string) string {
	return s.filePath(rel)
}

// CleanStaging removes staged files left behind by interrupted writes.
func (s *Store) CleanStaging() (int, error) {
	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.stagingDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

type stagedFile struct {
	store   *Store
	f       *os.File
	dest    string
	modTime time.Time
	done    bool
}

func (w *stagedFile) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *stagedFile) Commit() error {
	if w.done {
		return errors.New("staged file already finished")
	}
	w.done = true
	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if !w.modTime.IsZero() {
		if err := os.Chtimes(tmp, w.modTime, w.modTime); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(w.dest), 0755); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, w.dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("moving staged file into place: %w", err)
	}

	w.store.logger.Debug("file committed to tier",
		zap.String("path", w.dest),
	)
	return nil
}

func (w *stagedFile) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}
