package catalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gftdcojp/tickstore/internal/fswalk"
)

func sidecarPath(root, dir string) string {
	return filepath.Join(root, filepath.FromSlash(dir), fswalk.IndexFile)
}

func writeDirectoryIndex(root string, idx *DirectoryIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index for %s: %w", idx.Path, err)
	}
	if err := writeFileAtomic(sidecarPath(root, idx.Path), append(data, '\n')); err != nil {
		return fmt.Errorf("writing index for %s: %w", idx.Path, err)
	}
	return nil
}

func removeDirectoryIndex(root, dir string) error {
	err := os.Remove(sidecarPath(root, dir))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("removing index for %s: %w", dir, err)
	}
	return nil
}

func readDirectoryIndex(root, dir string) (*DirectoryIndex, error) {
	data, err := os.ReadFile(sidecarPath(root, dir))
	if err != nil {
		return nil, err
	}
	var idx DirectoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path.Join(dir, fswalk.IndexFile), err)
	}
	return &idx, nil
}

// listSidecarDirs returns the slash-separated directories under root that
// hold an _index.json, sorted.
func listSidecarDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (name == fswalk.CatalogDir || name == fswalk.StagingDir || strings.HasPrefix(name, ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != fswalk.IndexFile {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		dirs = append(dirs, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(dirs)
	return dirs, err
}
