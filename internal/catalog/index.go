package catalog

import (
	"sort"
	"sync"
)

// Index is the in-memory file index keyed by relative path, with a
// secondary index by owning directory. It is safe for concurrent use;
// readers may observe a mix of old and new entries while a rebuild is
// applying results.
type Index struct {
	mu      sync.RWMutex
	entries map[string]IndexedFileEntry
	byDir   map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		entries: make(map[string]IndexedFileEntry),
		byDir:   make(map[string]map[string]struct{}),
	}
}

func (ix *Index) Put(e IndexedFileEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.entries[e.RelativePath]; ok {
		ix.unlinkLocked(old)
	}
	ix.entries[e.RelativePath] = e
	ix.linkLocked(e)
}

func (ix *Index) Delete(rel string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[rel]
	if !ok {
		return false
	}
	delete(ix.entries, rel)
	ix.unlinkLocked(e)
	return true
}

func (ix *Index) linkLocked(e IndexedFileEntry) {
	dir := e.Dir()
	set := ix.byDir[dir]
	if set == nil {
		set = make(map[string]struct{})
		ix.byDir[dir] = set
	}
	set[e.RelativePath] = struct{}{}
}

func (ix *Index) unlinkLocked(e IndexedFileEntry) {
	dir := e.Dir()
	set := ix.byDir[dir]
	delete(set, e.RelativePath)
	if len(set) == 0 {
		delete(ix.byDir, dir)
	}
}

func (ix *Index) Get(rel string) (IndexedFileEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[rel]
	return e, ok
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Replace swaps the whole index for entries.
func (ix *Index) Replace(entries []IndexedFileEntry) {
	next := &Index{
		entries: make(map[string]IndexedFileEntry, len(entries)),
		byDir:   make(map[string]map[string]struct{}),
	}
	for _, e := range entries {
		next.Put(e)
	}
	ix.mu.Lock()
	ix.entries, ix.byDir = next.entries, next.byDir
	ix.mu.Unlock()
}

// Snapshot returns every entry sorted by relative path.
func (ix *Index) Snapshot() []IndexedFileEntry {
	ix.mu.RLock()
	out := make([]IndexedFileEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// Dir returns the entries directly inside dir, sorted by path.
func (ix *Index) Dir(dir string) []IndexedFileEntry {
	ix.mu.RLock()
	set := ix.byDir[dir]
	out := make([]IndexedFileEntry, 0, len(set))
	for rel := range set {
		out = append(out, ix.entries[rel])
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// Dirs returns every directory holding at least one entry, sorted.
func (ix *Index) Dirs() []string {
	ix.mu.RLock()
	out := make([]string, 0, len(ix.byDir))
	for dir := range ix.byDir {
		out = append(out, dir)
	}
	ix.mu.RUnlock()
	sort.Strings(out)
	return out
}
