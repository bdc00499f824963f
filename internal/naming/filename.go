package naming

import (
	"strings"

	"github.com/gftdcojp/tickstore/internal/types"
)

// SplitName splits a data file name into its stem, format and compression.
// ok is false for names that are not recognised data files.
func SplitName(name string) (stem string, format types.Format, compression types.Compression, ok bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".parquet") {
		return name[:len(name)-len(".parquet")], types.FormatParquet, types.CompressionNone, true
	}
	compression = types.CompressionNone
	for _, c := range types.AllCompressions {
		if s := c.Suffix(); s != "" && strings.HasSuffix(lower, ".jsonl"+s) {
			compression = c
			name = name[:len(name)-len(s)]
			lower = lower[:len(lower)-len(s)]
			break
		}
	}
	if !strings.HasSuffix(lower, ".jsonl") {
		return "", types.FormatJSONL, types.CompressionNone, false
	}
	return name[:len(name)-len(".jsonl")], types.FormatJSONL, compression, true
}

// Extension returns the file extension for a format and codec. Parquet
// carries its own internal compression, so the codec never appears in its
// extension.
func Extension(format types.Format, compression types.Compression) string {
	if format == types.FormatParquet {
		return ".parquet"
	}
	return ".jsonl" + compression.Suffix()
}

// ReplaceExtension swaps the data-file extension of rel for ext. Names that
// are not data files get ext appended.
func ReplaceExtension(rel, ext string) string {
	dir, name := "", rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		dir, name = rel[:i+1], rel[i+1:]
	}
	stem, _, _, ok := SplitName(name)
	if !ok {
		stem = name
	}
	return dir + stem + ext
}
