package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/codec"
	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/parquet-go/parquet-go"
)

const maxLineBytes = 16 * 1024 * 1024

// schemaVersionKey is the parquet key/value metadata entry (and jsonl field)
// naming the record schema version.
const schemaVersionKey = "schema_version"

type scanOptions struct {
	root            string
	convention      naming.Convention
	computeChecksum bool
	tierOf          func(rel string) types.Tier
}

// scanError is a per-file failure carrying its classification.
type scanError struct {
	kind types.ErrorKind
	err  error
}

func (e *scanError) Error() string { return e.err.Error() }
func (e *scanError) Unwrap() error { return e.err }

func corrupt(format string, args ...any) error {
	return &scanError{kind: types.KindCorruptContent, err: fmt.Errorf(format, args...)}
}

func toFileError(rel string, err error) types.FileError {
	var se *scanError
	if errors.As(err, &se) {
		return types.NewFileError(rel, se.kind, se.err)
	}
	return types.NewFileError(rel, "", err)
}

// scanFile builds the catalog entry for one data file.
func scanFile(opts scanOptions, rel string) (IndexedFileEntry, error) {
	full := filepath.Join(opts.root, filepath.FromSlash(rel))
	fi, err := os.Stat(full)
	if err != nil {
		return IndexedFileEntry{}, err
	}
	name := path.Base(rel)
	_, format, compression, ok := naming.SplitName(name)
	if !ok {
		return IndexedFileEntry{}, corrupt("%s is not a recognised data file", name)
	}

	dims := naming.Parse(opts.convention, rel)
	e := IndexedFileEntry{
		RelativePath: rel,
		FileName:     name,
		SizeBytes:    fi.Size(),
		LastModified: fi.ModTime().UTC(),
		Format:       format,
		Compression:  compression,
		Symbol:       dims.Symbol,
		EventType:    dims.EventType,
		Source:       dims.Source,
	}
	if opts.tierOf != nil {
		e.StorageTier = opts.tierOf(rel)
	} else {
		e.StorageTier = types.TierFromPath(rel)
	}
	if !dims.Date.IsZero() {
		e.Date = dims.Date.Format(types.DateLayout)
	}

	switch format {
	case types.FormatJSONL:
		err = scanJSONL(full, &e, opts.computeChecksum)
	case types.FormatParquet:
		err = scanParquet(full, &e, opts.computeChecksum)
	}
	if err != nil {
		return IndexedFileEntry{}, err
	}

	if e.Checksum == "" {
		if sum, err := checksum.ReadSidecar(full); err == nil {
			e.Checksum = sum
		}
	}
	return e, nil
}

func scanJSONL(full string, e *IndexedFileEntry, computeChecksum bool) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		src    io.Reader = f
		hasher *checksum.Hasher
	)
	if computeChecksum {
		hasher = checksum.NewHasher()
		src = io.TeeReader(f, hasher)
	}

	dec, err := codec.NewReader(src, e.Compression)
	if err != nil {
		return corrupt("opening %s stream: %w", e.Compression, err)
	}
	defer dec.Close()

	counted := &countingReader{r: dec}
	stats, err := readEventStats(counted)
	if err != nil {
		return err
	}
	stats.apply(e)
	e.UncompressedSize = counted.n

	if hasher != nil {
		// Trailing bytes the decoder did not need still belong to the file.
		if _, err := io.Copy(io.Discard, src); err != nil {
			return err
		}
		e.Checksum = hasher.Sum()
	}
	return nil
}

func scanParquet(full string, e *IndexedFileEntry, computeChecksum bool) error {
	if computeChecksum {
		sum, err := checksum.File(full)
		if err != nil {
			return err
		}
		e.Checksum = sum
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return corrupt("opening parquet: %w", err)
	}
	e.EventCount = pf.NumRows()
	if v, ok := pf.Lookup(schemaVersionKey); ok {
		e.SchemaVersion = v
	}
	return nil
}

// eventStats are the per-file figures extracted from a jsonl stream.
type eventStats struct {
	count         int64
	first, last   time.Time
	haveTime      bool
	firstSeq      int64
	lastSeq       int64
	haveSeq       bool
	gaps          int64
	schemaVersion string
}

func (s eventStats) apply(e *IndexedFileEntry) {
	e.EventCount = s.count
	if s.haveTime {
		first, last := s.first.UTC(), s.last.UTC()
		e.FirstEvent, e.LastEvent = &first, &last
	}
	if s.haveSeq {
		e.FirstSequence, e.LastSequence = s.firstSeq, s.lastSeq
	}
	e.SequenceGaps = s.gaps
	e.SchemaVersion = s.schemaVersion
}

type eventLine struct {
	Timestamp     json.RawMessage `json:"timestamp"`
	T             json.RawMessage `json:"t"`
	Sequence      *json.Number    `json:"sequence"`
	SchemaVersion json.RawMessage `json:"schema_version"`
}

// readEventStats decodes one JSON object per line. Blank lines are ignored;
// any other undecodable line makes the file corrupt. The first and last
// event timestamps are those of the first and last timestamped lines in
// stream order. A gap is counted each time a sequence number is not exactly
// one more than the previous one.
func readEventStats(r io.Reader) (eventStats, error) {
	var st eventStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev eventLine
		if err := json.Unmarshal(line, &ev); err != nil {
			return st, corrupt("line %d: %w", lineNo, err)
		}
		st.count++

		raw := ev.Timestamp
		if len(raw) == 0 {
			raw = ev.T
		}
		if ts, ok := parseTimestamp(raw); ok {
			if !st.haveTime {
				st.first = ts
				st.haveTime = true
			}
			st.last = ts
		}

		if ev.Sequence != nil {
			seq, err := ev.Sequence.Int64()
			if err != nil {
				return st, corrupt("line %d: sequence %q: %w", lineNo, ev.Sequence.String(), err)
			}
			if !st.haveSeq {
				st.firstSeq = seq
				st.haveSeq = true
			} else if seq != st.lastSeq+1 {
				st.gaps++
			}
			st.lastSeq = seq
		}

		if st.schemaVersion == "" && len(ev.SchemaVersion) > 0 {
			st.schemaVersion = strings.Trim(string(ev.SchemaVersion), `"`)
		}
	}
	if err := sc.Err(); err != nil {
		return st, corrupt("reading stream at line %d: %w", lineNo+1, err)
	}
	return st, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 strings and Unix epochs in seconds,
// milliseconds, microseconds or nanoseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, false
	}
	if i, err := n.Int64(); err == nil {
		return fromEpoch(i), true
	}
	if f, err := n.Float64(); err == nil {
		return fromEpochFloat(f)
	}
	return time.Time{}, false
}

// fromEpochFloat applies the same unit detection as fromEpoch to the whole
// part and keeps the fraction at nanosecond precision.
func fromEpochFloat(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(f)
	v := int64(whole)
	var unit time.Duration
	switch {
	case v > 1e17:
		unit = time.Nanosecond
	case v > 1e14:
		unit = time.Microsecond
	case v > 1e11:
		unit = time.Millisecond
	default:
		unit = time.Second
	}
	return fromEpoch(v).Add(time.Duration(math.Round(frac * float64(unit)))), true
}

func fromEpoch(v int64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, v)
	case v > 1e14:
		return time.UnixMicro(v)
	case v > 1e11:
		return time.UnixMilli(v)
	default:
		return time.Unix(v, 0)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
