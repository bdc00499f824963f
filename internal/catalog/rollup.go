package catalog

import (
	"path"
	"sort"
	"strings"
	"time"
)

// stringSet collects distinct non-empty values.
type stringSet map[string]struct{}

func (s stringSet) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s stringSet) addAll(o stringSet) {
	for v := range o {
		s[v] = struct{}{}
	}
}

// sorted returns nil for an empty set so JSON round-trips compare equal.
func (s stringSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// dateRange tracks earliest/latest YYYY-MM-DD strings, which order lexically.
type dateRange struct {
	earliest, latest string
}

func (r *dateRange) add(d string) {
	if d == "" {
		return
	}
	if r.earliest == "" || d < r.earliest {
		r.earliest = d
	}
	if r.latest == "" || d > r.latest {
		r.latest = d
	}
}

func (r *dateRange) merge(o dateRange) {
	r.add(o.earliest)
	r.add(o.latest)
}

func directoryStats(files []IndexedFileEntry) DirectoryStats {
	var (
		st                     DirectoryStats
		syms, srcs, eventTypes = stringSet{}, stringSet{}, stringSet{}
		dates                  dateRange
	)
	for _, e := range files {
		st.FileCount++
		st.EventCount += e.EventCount
		st.TotalBytes += e.SizeBytes
		syms.add(e.Symbol)
		srcs.add(e.Source)
		eventTypes.add(e.EventType)
		dates.add(e.Date)
	}
	st.Symbols = syms.sorted()
	st.Sources = srcs.sorted()
	st.EventTypes = eventTypes.sorted()
	st.EarliestDate, st.LatestDate = dates.earliest, dates.latest
	return st
}

// childDirs maps every directory to the immediate children that lead to one
// of the populated directories.
func childDirs(populated []string) map[string]stringSet {
	children := make(map[string]stringSet)
	for _, dir := range populated {
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			parent := path.Dir(d)
			if children[parent] == nil {
				children[parent] = stringSet{}
			}
			children[parent].add(path.Base(d))
		}
	}
	return children
}

func newDirectoryIndex(dir string, files []IndexedFileEntry, children stringSet, now time.Time) *DirectoryIndex {
	return &DirectoryIndex{
		Path:           dir,
		Files:          files,
		Stats:          directoryStats(files),
		Subdirectories: children.sorted(),
		UpdatedAt:      now,
	}
}

type symAgg struct {
	entry      SymbolCatalogEntry
	eventTypes stringSet
	sources    stringSet
	dates      dateRange
}

func (a *symAgg) addSequence(first, last int64) {
	if first == 0 && last == 0 {
		return
	}
	if a.entry.FirstSequence == 0 || first < a.entry.FirstSequence {
		a.entry.FirstSequence = first
	}
	if last > a.entry.LastSequence {
		a.entry.LastSequence = last
	}
}

// rollup is the manifest contribution of a set of entries. The catalog
// keeps one per populated directory and merges them when the manifest is
// saved, so a single-file change only re-reads its own directory.
type rollup struct {
	stats   CatalogStatistics
	dates   dateRange
	sources stringSet
	symbols map[string]*symAgg
}

func newRollup() *rollup {
	return &rollup{
		stats: CatalogStatistics{
			FilesByTier:   make(map[string]int64),
			BytesByTier:   make(map[string]int64),
			FilesByFormat: make(map[string]int64),
		},
		sources: stringSet{},
		symbols: make(map[string]*symAgg),
	}
}

func rollupOf(entries []IndexedFileEntry) *rollup {
	r := newRollup()
	for _, e := range entries {
		r.add(e)
	}
	return r
}

func (r *rollup) symbol(key string) *symAgg {
	a := r.symbols[key]
	if a == nil {
		a = &symAgg{
			entry:      SymbolCatalogEntry{Symbol: key},
			eventTypes: stringSet{},
			sources:    stringSet{},
		}
		r.symbols[key] = a
	}
	return a
}

func (r *rollup) add(e IndexedFileEntry) {
	st := &r.stats
	st.TotalFiles++
	st.TotalEvents += e.EventCount
	st.TotalBytes += e.SizeBytes
	st.TotalSequenceGaps += e.SequenceGaps
	if e.UncompressedSize > 0 {
		st.TotalUncompressedBytes += e.UncompressedSize
	} else {
		st.TotalUncompressedBytes += e.SizeBytes
	}
	tier := e.Tier().String()
	st.FilesByTier[tier]++
	st.BytesByTier[tier] += e.SizeBytes
	st.FilesByFormat[e.Format.String()]++
	r.dates.add(e.Date)
	r.sources.add(e.Source)

	if e.Symbol == "" {
		return
	}
	a := r.symbol(strings.ToUpper(e.Symbol))
	a.entry.FileCount++
	a.entry.EventCount += e.EventCount
	a.entry.TotalBytes += e.SizeBytes
	a.entry.SequenceGaps += e.SequenceGaps
	a.eventTypes.add(e.EventType)
	a.sources.add(e.Source)
	a.dates.add(e.Date)
	if e.EventCount > 0 {
		a.addSequence(e.FirstSequence, e.LastSequence)
	}
}

func (r *rollup) merge(o *rollup) {
	st := &r.stats
	st.TotalFiles += o.stats.TotalFiles
	st.TotalEvents += o.stats.TotalEvents
	st.TotalBytes += o.stats.TotalBytes
	st.TotalUncompressedBytes += o.stats.TotalUncompressedBytes
	st.TotalSequenceGaps += o.stats.TotalSequenceGaps
	for k, v := range o.stats.FilesByTier {
		st.FilesByTier[k] += v
	}
	for k, v := range o.stats.BytesByTier {
		st.BytesByTier[k] += v
	}
	for k, v := range o.stats.FilesByFormat {
		st.FilesByFormat[k] += v
	}
	r.dates.merge(o.dates)
	r.sources.addAll(o.sources)

	for key, oa := range o.symbols {
		a := r.symbol(key)
		a.entry.FileCount += oa.entry.FileCount
		a.entry.EventCount += oa.entry.EventCount
		a.entry.TotalBytes += oa.entry.TotalBytes
		a.entry.SequenceGaps += oa.entry.SequenceGaps
		a.eventTypes.addAll(oa.eventTypes)
		a.sources.addAll(oa.sources)
		a.dates.merge(oa.dates)
		a.addSequence(oa.entry.FirstSequence, oa.entry.LastSequence)
	}
}

// apply writes the rollup into a copy of base, keeping its identity and
// integrity fields.
func (r *rollup) apply(base StorageCatalog, now time.Time) StorageCatalog {
	m := base
	m.UpdatedAt = now
	m.Symbols = make(map[string]SymbolCatalogEntry, len(r.symbols))
	for key, a := range r.symbols {
		e := a.entry
		e.EventTypes = a.eventTypes.sorted()
		e.Sources = a.sources.sorted()
		e.EarliestDate, e.LatestDate = a.dates.earliest, a.dates.latest
		m.Symbols[key] = e
	}

	st := r.stats
	st.FilesByTier = copyCounts(st.FilesByTier)
	st.BytesByTier = copyCounts(st.BytesByTier)
	st.FilesByFormat = copyCounts(st.FilesByFormat)
	st.EarliestDate, st.LatestDate = r.dates.earliest, r.dates.latest
	m.Statistics = st
	m.Sources = r.sources.sorted()
	return m
}

// copyCounts drops zero buckets and returns nil when nothing is left.
func copyCounts(in map[string]int64) map[string]int64 {
	var out map[string]int64
	for k, v := range in {
		if v == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]int64, len(in))
		}
		out[k] = v
	}
	return out
}

// summarize recomputes the manifest's rollups from entries.
func summarize(base StorageCatalog, entries []IndexedFileEntry, now time.Time) StorageCatalog {
	return rollupOf(entries).apply(base, now)
}
