// Package checksum computes SHA-256 hex digests of files and streams and
// reads/writes the optional <file>.sha256 sidecars.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SidecarExt is appended to a data file's path to form its checksum sidecar.
const SidecarExt = ".sha256"

// Bytes returns the hex digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Reader consumes r and returns its hex digest and the number of bytes read.
func Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File returns the hex digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum, _, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// Hasher is an io.Writer that accumulates a digest, for use with io.TeeReader
// or io.MultiWriter.
type Hasher struct {
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
	n int64
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Len returns the number of bytes written.
func (h *Hasher) Len() int64 {
	return h.n
}

// SidecarPath returns the sidecar path for a data file.
func SidecarPath(path string) string {
	return path + SidecarExt
}

// ReadSidecar reads the digest stored next to path. Both the bare digest and
// the sha256sum "<digest>  <name>" layouts are accepted.
func ReadSidecar(path string) (string, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum sidecar for %s", path)
	}
	sum := strings.ToLower(fields[0])
	if len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum sidecar for %s", path)
	}
	return sum, nil
}

// WriteSidecar writes sum next to path in sha256sum layout.
func WriteSidecar(path, sum string) error {
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	return os.WriteFile(SidecarPath(path), []byte(line), 0644)
}
