package catalog

import (
	"path"
	"time"

	"github.com/gftdcojp/tickstore/internal/types"
)

// IndexedFileEntry describes one stored data file. RelativePath is the
// unique key and always uses forward slashes.
type IndexedFileEntry struct {
	RelativePath     string            `json:"relativePath"`
	FileName         string            `json:"fileName"`
	SizeBytes        int64             `json:"sizeBytes"`
	UncompressedSize int64             `json:"uncompressedSize,omitempty"`
	LastModified     time.Time         `json:"lastModified"`
	Format           types.Format      `json:"format"`
	Compression      types.Compression `json:"compression"`
	Checksum         string            `json:"checksum,omitempty"`
	StorageTier      types.Tier        `json:"tier"`

	Symbol    string `json:"symbol,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Source    string `json:"source,omitempty"`
	Date      string `json:"date,omitempty"`

	SchemaVersion string     `json:"schemaVersion,omitempty"`
	EventCount    int64      `json:"eventCount"`
	FirstEvent    *time.Time `json:"firstEvent,omitempty"`
	LastEvent     *time.Time `json:"lastEvent,omitempty"`
	FirstSequence int64      `json:"firstSequence,omitempty"`
	LastSequence  int64      `json:"lastSequence,omitempty"`
	SequenceGaps  int64      `json:"sequenceGaps"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Dir is the slash-separated directory owning the entry, "." at the root.
func (e IndexedFileEntry) Dir() string {
	return path.Dir(e.RelativePath)
}

// Tier is the tier the entry physically lives in, as resolved against the
// configured tier directories when the entry was indexed.
func (e IndexedFileEntry) Tier() types.Tier {
	return e.StorageTier
}

// DateValue returns the parsed calendar date, if the path carried one.
func (e IndexedFileEntry) DateValue() (time.Time, bool) {
	if e.Date == "" {
		return time.Time{}, false
	}
	return types.ParseDate(e.Date)
}

// DirectoryIndex is the sidecar persisted as _index.json in every directory
// that directly holds data files.
type DirectoryIndex struct {
	Path           string             `json:"path"`
	Files          []IndexedFileEntry `json:"files"`
	Stats          DirectoryStats     `json:"stats"`
	Subdirectories []string           `json:"subdirectories,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type DirectoryStats struct {
	FileCount    int64    `json:"fileCount"`
	EventCount   int64    `json:"eventCount"`
	TotalBytes   int64    `json:"totalBytes"`
	Symbols      []string `json:"symbols,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	EventTypes   []string `json:"eventTypes,omitempty"`
	EarliestDate string   `json:"earliestDate,omitempty"`
	LatestDate   string   `json:"latestDate,omitempty"`
}

// SymbolCatalogEntry aggregates every file of one symbol.
type SymbolCatalogEntry struct {
	Symbol        string   `json:"symbol"`
	FileCount     int64    `json:"fileCount"`
	EventCount    int64    `json:"eventCount"`
	TotalBytes    int64    `json:"totalBytes"`
	EventTypes    []string `json:"eventTypes,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	EarliestDate  string   `json:"earliestDate,omitempty"`
	LatestDate    string   `json:"latestDate,omitempty"`
	FirstSequence int64    `json:"firstSequence,omitempty"`
	LastSequence  int64    `json:"lastSequence,omitempty"`
	SequenceGaps  int64    `json:"sequenceGaps"`
}

type CatalogConfigSnapshot struct {
	RootPath           string `json:"rootPath"`
	NamingConvention   string `json:"namingConvention"`
	DefaultCompression string `json:"defaultCompression"`
}

type CatalogStatistics struct {
	TotalFiles             int64            `json:"totalFiles"`
	TotalEvents            int64            `json:"totalEvents"`
	TotalBytes             int64            `json:"totalBytes"`
	TotalUncompressedBytes int64            `json:"totalUncompressedBytes"`
	TotalSequenceGaps      int64            `json:"totalSequenceGaps"`
	FilesByTier            map[string]int64 `json:"filesByTier,omitempty"`
	BytesByTier            map[string]int64 `json:"bytesByTier,omitempty"`
	FilesByFormat          map[string]int64 `json:"filesByFormat,omitempty"`
	EarliestDate           string           `json:"earliestDate,omitempty"`
	LatestDate             string           `json:"latestDate,omitempty"`
}

// IntegrityRecord holds the outcome of the last verification and the
// manifest's self-checksum. ManifestChecksum is the SHA-256 of the manifest
// serialized with this field empty.
type IntegrityRecord struct {
	LastVerified     *time.Time `json:"lastVerified,omitempty"`
	ChecksumFailures int        `json:"checksumFailures"`
	MissingFiles     int        `json:"missingFiles"`
	ManifestChecksum string     `json:"manifestChecksum"`
}

// StorageCatalog is the root manifest persisted at _catalog/manifest.json.
type StorageCatalog struct {
	CatalogID  string                        `json:"catalogId"`
	Version    int                           `json:"version"`
	CreatedAt  time.Time                     `json:"createdAt"`
	UpdatedAt  time.Time                     `json:"updatedAt"`
	Config     CatalogConfigSnapshot         `json:"config"`
	Symbols    map[string]SymbolCatalogEntry `json:"symbols"`
	Sources    []string                      `json:"sources,omitempty"`
	Statistics CatalogStatistics             `json:"statistics"`
	Integrity  IntegrityRecord               `json:"integrity"`
}

// SearchCriteria filters the index. Empty fields match everything; set
// fields must all match.
type SearchCriteria struct {
	Symbols       []string
	EventTypes    []string
	Sources       []string
	Tiers         []types.Tier
	From          time.Time
	To            time.Time
	MinSize       int64
	MaxSize       int64
	SchemaVersion string
}

func (sc SearchCriteria) matches(e IndexedFileEntry) bool {
	if len(sc.Symbols) > 0 && !contains(sc.Symbols, e.Symbol) {
		return false
	}
	if len(sc.EventTypes) > 0 && !contains(sc.EventTypes, e.EventType) {
		return false
	}
	if len(sc.Sources) > 0 && !contains(sc.Sources, e.Source) {
		return false
	}
	if len(sc.Tiers) > 0 {
		found := false
		for _, t := range sc.Tiers {
			if t == e.Tier() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !sc.From.IsZero() || !sc.To.IsZero() {
		d, ok := e.DateValue()
		if !ok {
			return false
		}
		if !sc.From.IsZero() && d.Before(truncateDay(sc.From)) {
			return false
		}
		if !sc.To.IsZero() && d.After(truncateDay(sc.To)) {
			return false
		}
	}
	if sc.MinSize > 0 && e.SizeBytes < sc.MinSize {
		return false
	}
	if sc.MaxSize > 0 && e.SizeBytes > sc.MaxSize {
		return false
	}
	if sc.SchemaVersion != "" && e.SchemaVersion != sc.SchemaVersion {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
