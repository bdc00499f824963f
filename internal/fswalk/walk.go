// Package fswalk enumerates data files under a storage root.
package fswalk

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/types"
)

const (
	// CatalogDir holds the root manifest and is never scanned.
	CatalogDir = "_catalog"
	// IndexFile is the per-directory index sidecar name.
	IndexFile = "_index.json"
	// StagingDir holds partially written migration output.
	StagingDir = "_staging"
)

// DefaultInclude matches every recognised data file.
var DefaultInclude = []string{"*.jsonl", "*.jsonl.*", "*.parquet"}

// Filter selects which files a walk yields. Include globs match the file
// name; Exclude entries are slash-separated sub-paths relative to the root.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether the relative path passes the filter.
func (f Filter) Match(rel string) bool {
	for _, ex := range f.Exclude {
		ex = strings.Trim(ex, "/")
		if ex != "" && (rel == ex || strings.HasPrefix(rel, ex+"/")) {
			return false
		}
	}
	name := path.Base(rel)
	if name == IndexFile || strings.HasSuffix(name, checksum.SidecarExt) || strings.HasSuffix(name, ".tmp") {
		return false
	}
	include := f.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	for _, pat := range include {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Walk returns the sorted slash-separated relative paths of matching files
// under root, along with per-entry errors that did not stop the walk.
// Cancellation is checked between entries.
func Walk(ctx context.Context, root string, filter Filter) ([]string, []types.FileError, error) {
	var (
		files []string
		errs  []types.FileError
	)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if err != nil {
			if rel == "." {
				return err
			}
			errs = append(errs, types.NewFileError(rel, "", err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if rel != "." && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if filter.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return files, errs, err
	}
	sort.Strings(files)
	return files, errs, nil
}

func skipDir(name string) bool {
	return name == CatalogDir || name == StagingDir || strings.HasPrefix(name, ".")
}
