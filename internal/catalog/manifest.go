package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/google/uuid"
)

const (
	manifestFile    = "manifest.json"
	manifestVersion = 1
)

// ManifestPath returns the location of the root manifest under root.
func ManifestPath(root string) string {
	return filepath.Join(root, fswalk.CatalogDir, manifestFile)
}

func newManifest(cfg CatalogConfigSnapshot, now time.Time) StorageCatalog {
	return StorageCatalog{
		CatalogID: uuid.NewString(),
		Version:   manifestVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Config:    cfg,
		Symbols:   make(map[string]SymbolCatalogEntry),
	}
}

func marshalManifest(m StorageCatalog) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ManifestChecksum computes the self-checksum of m: the SHA-256 of its
// serialization with Integrity.ManifestChecksum blanked.
func ManifestChecksum(m StorageCatalog) (string, error) {
	m.Integrity.ManifestChecksum = ""
	body, err := marshalManifest(m)
	if err != nil {
		return "", err
	}
	return checksum.Bytes(body), nil
}

// SaveManifest stamps m with its self-checksum and writes it atomically.
// It returns the checksum written.
func SaveManifest(root string, m *StorageCatalog) (string, error) {
	sum, err := ManifestChecksum(*m)
	if err != nil {
		return "", fmt.Errorf("computing manifest checksum: %w", err)
	}
	m.Integrity.ManifestChecksum = sum
	data, err := marshalManifest(*m)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	p := ManifestPath(root)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating catalog dir: %w", err)
	}
	if err := writeFileAtomic(p, append(data, '\n')); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return sum, nil
}

// LoadManifest reads the manifest under root. Every failure wraps
// types.ErrManifestLoad; a missing file also matches fs.ErrNotExist.
func LoadManifest(root string) (*StorageCatalog, error) {
	data, err := os.ReadFile(ManifestPath(root))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrManifestLoad, err)
	}
	var m StorageCatalog
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", types.ErrManifestLoad, err)
	}
	if m.Symbols == nil {
		m.Symbols = make(map[string]SymbolCatalogEntry)
	}
	return &m, nil
}

// VerifyManifestFile recomputes the self-checksum of the manifest on disk
// and compares it with the stored one.
func VerifyManifestFile(root string) (stored, actual string, err error) {
	m, err := LoadManifest(root)
	if err != nil {
		return "", "", err
	}
	actual, err = ManifestChecksum(*m)
	if err != nil {
		return "", "", err
	}
	return m.Integrity.ManifestChecksum, actual, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
