package catalog

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestManifestChecksumStable(t *testing.T) {
	m := newManifest(CatalogConfigSnapshot{RootPath: "/data", NamingConvention: "by_symbol"}, time.Unix(1700000000, 0).UTC())
	a, err := ManifestChecksum(m)
	if err != nil {
		t.Fatal(err)
	}
	m.Integrity.ManifestChecksum = "anything"
	b, _ := ManifestChecksum(m)
	if a != b {
		t.Error("stored checksum field must not influence the checksum")
	}
	m.Statistics.TotalFiles++
	c, _ := ManifestChecksum(m)
	if a == c {
		t.Error("checksum should change with content")
	}
}

func TestManifestChecksumProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	root := t.TempDir()

	properties.Property("saved manifest verifies against its self-checksum", prop.ForAll(
		func(symbols []string, files int64, bytes int64) bool {
			m := newManifest(CatalogConfigSnapshot{RootPath: root}, time.Unix(1700000000, 0).UTC())
			for _, s := range symbols {
				key := strings.ToUpper(s)
				m.Symbols[key] = SymbolCatalogEntry{Symbol: key, FileCount: files, TotalBytes: bytes}
			}
			m.Statistics.TotalFiles = files * int64(len(symbols))
			m.Statistics.TotalBytes = bytes
			if _, err := SaveManifest(root, &m); err != nil {
				return false
			}
			stored, actual, err := VerifyManifestFile(root)
			return err == nil && stored == actual && stored == m.Integrity.ManifestChecksum
		},
		gen.SliceOfN(5, gen.AlphaString()),
		gen.Int64Range(0, 1<<20),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("any edit to the body breaks the self-checksum", prop.ForAll(
		func(files int64, delta int64) bool {
			m := newManifest(CatalogConfigSnapshot{RootPath: root}, time.Unix(1700000000, 0).UTC())
			m.Statistics.TotalFiles = files
			if _, err := SaveManifest(root, &m); err != nil {
				return false
			}
			loaded, err := LoadManifest(root)
			if err != nil {
				return false
			}
			loaded.Statistics.TotalFiles += delta
			actual, err := ManifestChecksum(*loaded)
			return err == nil && actual != loaded.Integrity.ManifestChecksum
		},
		gen.Int64Range(0, 1<<20),
		gen.Int64Range(1, 1000),
	))

	properties.TestingRun(t)
}

func TestSaveManifestLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	m := newManifest(CatalogConfigSnapshot{}, time.Now().UTC())
	if _, err := SaveManifest(root, &m); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ManifestPath(root) + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}
