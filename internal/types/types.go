package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies a storage tier. Tiers are ordered by age and cost:
// Hot < Warm < Cold < Archive < Glacier.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCold
	TierArchive
	TierGlacier
)

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierHot, TierWarm, TierCold, TierArchive, TierGlacier}

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierArchive:
		return "archive"
	case TierGlacier:
		return "glacier"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	for _, t := range AllTiers {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return TierHot, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TierFromPath infers the tier a file lives in from the first path segment
// naming a tier. Files outside any tier directory are considered Hot.
func TierFromPath(rel string) Tier {
	for _, seg := range strings.Split(strings.ReplaceAll(rel, "\\", "/"), "/") {
		if t, err := ParseTier(seg); err == nil {
			return t
		}
	}
	return TierHot
}

// Format is the on-disk record layout of a data file.
type Format int

const (
	FormatJSONL Format = iota
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format tag. An empty string means jsonl.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jsonl", "":
		return FormatJSONL, nil
	case "parquet":
		return FormatParquet, nil
	}
	return FormatJSONL, fmt.Errorf("unknown format %q", s)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Compression is the stream codec wrapped around a jsonl file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionLZ4
	CompressionBrotli
)

// AllCompressions lists every supported codec.
var AllCompressions = []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4, CompressionBrotli}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionBrotli:
		return "brotli"
	default:
		return "unknown"
	}
}

// Suffix returns the file extension suffix for the codec, or "" for none.
func (c Compression) Suffix() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	case CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// ParseCompression parses a codec name. Suffix spellings ("gz", "zst", "br")
// are accepted as well.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "brotli", "br":
		return CompressionBrotli, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Compression) UnmarshalText(b []byte) error {
	parsed, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Classification is the data-importance class a retention policy applies to.
type Classification string

const (
	ClassCritical  Classification = "Critical"
	ClassImportant Classification = "Important"
	ClassStandard  Classification = "Standard"
	ClassTransient Classification = "Transient"
)

// ParseClassification parses a classification case-insensitively.
// An empty string means Standard.
func ParseClassification(s string) (Classification, error) {
	if s == "" {
		return ClassStandard, nil
	}
	for _, c := range []Classification{ClassCritical, ClassImportant, ClassStandard, ClassTransient} {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return ClassStandard, fmt.Errorf("unknown classification %q", s)
}

// Dimensions are the values parsed from a data file's location.
type Dimensions struct {
	Symbol    string
	EventType string
	Source    string
	Date      time.Time
}

// DateLayout is the canonical calendar-date spelling in paths.
const DateLayout = "2006-01-02"

// ParseDate accepts 2006-01-02 and 20060102.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{DateLayout, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
