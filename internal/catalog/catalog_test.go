package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/codec"
	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/notify"
	"github.com/gftdcojp/tickstore/internal/types"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

type trade struct {
	Symbol    string  `parquet:"symbol"`
	Price     float64 `parquet:"price"`
	Timestamp int64   `parquet:"timestamp"`
}

func eventLines(seqs ...int64) []byte {
	var buf bytes.Buffer
	for i, s := range seqs {
		fmt.Fprintf(&buf, `{"symbol":"AAPL","price":%d.5,"timestamp":"2024-01-02T14:30:%02dZ","sequence":%d}`+"\n", 190+i, i, s)
	}
	return buf.Bytes()
}

func writeRaw(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeCompressed(t *testing.T, root, rel string, c types.Compression, data []byte) {
	t.Helper()
	var buf bytes.Buffer
	w, err := codec.NewWriter(&buf, c)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	writeRaw(t, root, rel, buf.Bytes())
}

func writeParquet(t *testing.T, root, rel string, rows int) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	data := make([]trade, rows)
	for i := range data {
		data[i] = trade{Symbol: "MSFT", Price: 410 + float64(i), Timestamp: 1685620800000 + int64(i)}
	}
	if err := parquet.WriteFile(p, data, parquet.KeyValueMetadata(schemaVersionKey, "2")); err != nil {
		t.Fatal(err)
	}
}

func newTestCatalog(t *testing.T, root string) *Catalog {
	t.Helper()
	c, err := Open(Options{
		Root:             root,
		Convention:       naming.BySymbol,
		MaxParallelism:   4,
		ComputeChecksums: true,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seedTree(t *testing.T, root string) {
	t.Helper()
	writeRaw(t, root, "hot/AAPL/trades/2024-01-02.jsonl", eventLines(1, 2, 4))
	writeCompressed(t, root, "warm/AAPL/trades/2024-01-01.jsonl.gz", types.CompressionGzip, eventLines(10, 11))
	writeParquet(t, root, "cold/MSFT/quotes/2023-06-01.parquet", 5)
}

func TestRebuildIndexesFiles(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)

	res, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true})
	if err != nil {
		t.Fatalf("RebuildCatalog: %v", err)
	}
	if !res.Success || res.FilesScanned != 3 || res.FilesIndexed != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TotalEvents != 10 {
		t.Errorf("TotalEvents = %d, want 10", res.TotalEvents)
	}

	hot, ok := c.Get("hot/AAPL/trades/2024-01-02.jsonl")
	if !ok {
		t.Fatal("hot entry missing")
	}
	if hot.Symbol != "AAPL" || hot.EventType != "trades" || hot.Date != "2024-01-02" {
		t.Errorf("dimensions not parsed: %+v", hot)
	}
	if hot.EventCount != 3 || hot.FirstSequence != 1 || hot.LastSequence != 4 || hot.SequenceGaps != 1 {
		t.Errorf("event stats wrong: %+v", hot)
	}
	if hot.FirstEvent == nil || hot.FirstEvent.Second() != 0 || hot.LastEvent.Second() != 2 {
		t.Errorf("event times wrong: %v %v", hot.FirstEvent, hot.LastEvent)
	}
	sum, _ := checksum.File(filepath.Join(root, "hot/AAPL/trades/2024-01-02.jsonl"))
	if hot.Checksum != sum {
		t.Errorf("checksum = %s, want %s", hot.Checksum, sum)
	}

	warm, _ := c.Get("warm/AAPL/trades/2024-01-01.jsonl.gz")
	if warm.Compression != types.CompressionGzip || warm.EventCount != 2 || warm.SequenceGaps != 0 {
		t.Errorf("gzip entry wrong: %+v", warm)
	}
	if warm.UncompressedSize <= 0 {
		t.Error("uncompressed size not recorded")
	}
	gzSum, _ := checksum.File(filepath.Join(root, "warm/AAPL/trades/2024-01-01.jsonl.gz"))
	if warm.Checksum != gzSum {
		t.Error("gzip checksum should cover the compressed bytes on disk")
	}

	cold, _ := c.Get("cold/MSFT/quotes/2023-06-01.parquet")
	if cold.Format != types.FormatParquet || cold.EventCount != 5 || cold.SchemaVersion != "2" {
		t.Errorf("parquet entry wrong: %+v", cold)
	}

	m := c.Manifest()
	if m.Statistics.TotalFiles != 3 || m.Statistics.FilesByTier["hot"] != 1 || m.Statistics.FilesByTier["cold"] != 1 {
		t.Errorf("statistics wrong: %+v", m.Statistics)
	}
	aapl := m.Symbols["AAPL"]
	if aapl.FileCount != 2 || aapl.EventCount != 5 || aapl.EarliestDate != "2024-01-01" || aapl.LatestDate != "2024-01-02" {
		t.Errorf("AAPL rollup wrong: %+v", aapl)
	}
	if aapl.FirstSequence != 1 || aapl.LastSequence != 11 || aapl.SequenceGaps != 1 {
		t.Errorf("AAPL sequence rollup wrong: %+v", aapl)
	}

	if _, err := os.Stat(ManifestPath(root)); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
	idx, err := readDirectoryIndex(root, "hot/AAPL/trades")
	if err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	if len(idx.Files) != 1 || idx.Stats.EventCount != 3 {
		t.Errorf("sidecar contents wrong: %+v", idx)
	}
}

func TestRebuildPartialFailureIsolation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 100; i++ {
		rel := fmt.Sprintf("hot/SYM%03d/trades/2024-01-02.jsonl", i)
		writeRaw(t, root, rel, eventLines(1, 2, 3))
	}
	// Truncate one file mid-record.
	bad := "hot/SYM042/trades/2024-01-02.jsonl"
	full := eventLines(1, 2, 3)
	writeRaw(t, root, bad, full[:len(full)-20])

	c := newTestCatalog(t, root)
	res, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true})
	if err != nil {
		t.Fatalf("RebuildCatalog: %v", err)
	}
	if res.FilesIndexed != 99 {
		t.Errorf("FilesIndexed = %d, want 99", res.FilesIndexed)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", res.Errors)
	}
	if res.Errors[0].Path != bad || res.Errors[0].Kind != types.KindCorruptContent {
		t.Errorf("unexpected error entry: %+v", res.Errors[0])
	}
	if res.Success {
		t.Error("Success should be false")
	}
	if _, ok := c.Get(bad); ok {
		t.Error("corrupt file should not be indexed")
	}
}

func TestRebuildIdempotent(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)

	first, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true})
	if err != nil {
		t.Fatal(err)
	}
	statsA := c.Manifest().Statistics
	second, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true})
	if err != nil {
		t.Fatal(err)
	}
	statsB := c.Manifest().Statistics

	if first.FilesIndexed != second.FilesIndexed || first.TotalBytes != second.TotalBytes || first.TotalEvents != second.TotalEvents {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(statsA, statsB) {
		t.Errorf("statistics differ:\n%+v\n%+v", statsA, statsB)
	}
}

func TestRebuildRemovesVanishedFiles(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	os.Remove(filepath.Join(root, "cold/MSFT/quotes/2023-06-01.parquet"))
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("cold/MSFT/quotes/2023-06-01.parquet"); ok {
		t.Error("vanished file still indexed")
	}
	if _, err := os.Stat(sidecarPath(root, "cold/MSFT/quotes")); !os.IsNotExist(err) {
		t.Errorf("stale sidecar left behind: %v", err)
	}
	if _, ok := c.Manifest().Symbols["MSFT"]; ok {
		t.Error("MSFT rollup should be gone")
	}
}

func TestRebuildCancelled(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.RebuildCatalog(ctx, RebuildOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true}); err != nil {
		t.Fatal(err)
	}
	saved := c.Manifest()

	reopened := newTestCatalog(t, root)
	loaded := reopened.Manifest()
	if loaded.CatalogID != saved.CatalogID {
		t.Errorf("catalog id changed: %s -> %s", saved.CatalogID, loaded.CatalogID)
	}
	if !reflect.DeepEqual(saved.Statistics, loaded.Statistics) {
		t.Errorf("statistics differ:\n%+v\n%+v", saved.Statistics, loaded.Statistics)
	}
	if !reflect.DeepEqual(saved.Symbols, loaded.Symbols) {
		t.Errorf("symbols differ:\n%+v\n%+v", saved.Symbols, loaded.Symbols)
	}
	if len(reopened.Entries()) != 3 {
		t.Errorf("reopened catalog has %d entries, want 3", len(reopened.Entries()))
	}
	e, _ := reopened.Get("hot/AAPL/trades/2024-01-02.jsonl")
	orig, _ := c.Get("hot/AAPL/trades/2024-01-02.jsonl")
	if e.Checksum != orig.Checksum || e.EventCount != orig.EventCount || !e.LastModified.Equal(orig.LastModified) {
		t.Errorf("entry changed across reopen: %+v vs %+v", e, orig)
	}
}

func TestOpenFallsBackOnCorruptManifest(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, filepath.Join(fswalk.CatalogDir, manifestFile), []byte("{not json"))
	c := newTestCatalog(t, root)
	if len(c.Entries()) != 0 {
		t.Error("expected empty catalog")
	}
	if c.Manifest().CatalogID == "" {
		t.Error("fresh catalog should get an id")
	}
	if _, err := LoadManifest(root); !errors.Is(err, types.ErrManifestLoad) {
		t.Errorf("expected ErrManifestLoad, got %v", err)
	}
}

func TestOpenMissingRoot(t *testing.T) {
	_, err := Open(Options{Root: filepath.Join(t.TempDir(), "nope")}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true}); err != nil {
		t.Fatal(err)
	}

	res, err := c.VerifyIntegrity(context.Background(), VerifyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsValid || len(res.Issues) != 0 || res.FilesChecked != 3 {
		t.Fatalf("untouched catalog should verify clean: %+v", res)
	}

	tampered := "hot/AAPL/trades/2024-01-02.jsonl"
	writeRaw(t, root, tampered, eventLines(7, 8, 9))

	res, err = c.VerifyIntegrity(context.Background(), VerifyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid {
		t.Fatal("expected IsValid=false after tampering")
	}
	if len(res.Issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %+v", res.Issues)
	}
	is := res.Issues[0]
	if is.Path != tampered || is.Kind != types.KindChecksumMismatch || is.Severity != SeverityError {
		t.Errorf("unexpected issue: %+v", is)
	}
	if m := c.Manifest(); m.Integrity.ChecksumFailures != 1 || m.Integrity.LastVerified == nil {
		t.Errorf("integrity record not updated: %+v", m.Integrity)
	}
}

func TestVerifyMissingFileAndSidecar(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	// No stored checksums: verification falls back to .sha256 sidecars.
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	warm := filepath.Join(root, "warm/AAPL/trades/2024-01-01.jsonl.gz")
	checksum.WriteSidecar(warm, strings.Repeat("0", 64))
	os.Remove(filepath.Join(root, "cold/MSFT/quotes/2023-06-01.parquet"))

	res, err := c.VerifyIntegrity(context.Background(), VerifyOptions{MaxParallelism: 1})
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]types.ErrorKind{}
	for _, is := range res.Issues {
		kinds[is.Path] = is.Kind
	}
	if kinds["cold/MSFT/quotes/2023-06-01.parquet"] != types.KindFileMissing {
		t.Errorf("missing file not reported: %+v", res.Issues)
	}
	if kinds["warm/AAPL/trades/2024-01-01.jsonl.gz"] != types.KindChecksumMismatch {
		t.Errorf("sidecar mismatch not reported: %+v", res.Issues)
	}
	if _, ok := kinds["hot/AAPL/trades/2024-01-02.jsonl"]; ok {
		t.Error("file without checksum or sidecar should only be checked for existence")
	}
	if m := c.Manifest(); m.Integrity.MissingFiles != 1 {
		t.Errorf("MissingFiles = %d, want 1", m.Integrity.MissingFiles)
	}
}

func TestVerifyStopOnFirstError(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeRaw(t, root, fmt.Sprintf("hot/S%02d/trades/2024-01-02.jsonl", i), eventLines(1))
	}
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		os.Remove(filepath.Join(root, fmt.Sprintf("hot/S%02d/trades/2024-01-02.jsonl", i)))
	}
	res, err := c.VerifyIntegrity(context.Background(), VerifyOptions{StopOnFirstError: true, MaxParallelism: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid || len(res.Issues) == 0 || len(res.Issues) >= 20 {
		t.Errorf("expected verification to stop early, got %d issues", len(res.Issues))
	}
}

func TestVerifyDetectsManifestTampering(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(ManifestPath(root))
	if err != nil {
		t.Fatal(err)
	}
	edited := bytes.Replace(data, []byte(`"totalFiles": 3`), []byte(`"totalFiles": 4`), 1)
	if bytes.Equal(edited, data) {
		t.Fatal("test setup: totalFiles not found in manifest")
	}
	os.WriteFile(ManifestPath(root), edited, 0644)

	res, err := c.VerifyIntegrity(context.Background(), VerifyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid || len(res.Issues) != 1 || res.Issues[0].Kind != types.KindManifestCorrupt {
		t.Fatalf("expected one ManifestCorrupt issue, got %+v", res.Issues)
	}
}

func TestUpdateRemoveRelocate(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{ComputeChecksums: true}); err != nil {
		t.Fatal(err)
	}

	rel := "hot/AAPL/bars/2024-01-03.jsonl"
	writeRaw(t, root, rel, eventLines(1, 2))
	e, err := c.IndexFile(context.Background(), rel)
	if err != nil {
		t.Fatal(err)
	}
	if e.EventType != "bars" || e.EventCount != 2 {
		t.Errorf("unexpected entry: %+v", e)
	}
	if got := c.Manifest().Symbols["AAPL"].FileCount; got != 3 {
		t.Errorf("AAPL FileCount = %d after update, want 3", got)
	}
	if _, err := readDirectoryIndex(root, "hot/AAPL/bars"); err != nil {
		t.Errorf("new directory sidecar missing: %v", err)
	}
	parent, err := readDirectoryIndex(root, "hot/AAPL/trades")
	if err != nil {
		t.Fatal(err)
	}
	if len(parent.Files) != 1 {
		t.Errorf("sibling sidecar disturbed: %+v", parent)
	}

	moved := e
	moved.RelativePath = "warm/AAPL/bars/2024-01-03.jsonl"
	if err := c.RelocateFileEntry(rel, moved); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(rel); ok {
		t.Error("old path still indexed after relocate")
	}
	if _, err := os.Stat(sidecarPath(root, "hot/AAPL/bars")); !os.IsNotExist(err) {
		t.Error("emptied directory should lose its sidecar")
	}
	if got := c.Manifest().Statistics.FilesByTier["warm"]; got != 2 {
		t.Errorf("warm files = %d, want 2", got)
	}

	if err := c.RemoveFileEntry(moved.RelativePath); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveFileEntry("does/not/exist.jsonl"); err != nil {
		t.Errorf("removing unknown entry: %v", err)
	}
	if got := c.Manifest().Statistics.TotalFiles; got != 3 {
		t.Errorf("TotalFiles = %d, want 3", got)
	}
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}

	from, _ := types.ParseDate("2024-01-02")
	tests := []struct {
		name     string
		criteria SearchCriteria
		want     int
	}{
		{"all", SearchCriteria{}, 3},
		{"symbol", SearchCriteria{Symbols: []string{"AAPL"}}, 2},
		{"event type", SearchCriteria{EventTypes: []string{"quotes"}}, 1},
		{"date from", SearchCriteria{From: from}, 1},
		{"tier", SearchCriteria{Tiers: []types.Tier{types.TierWarm, types.TierCold}}, 2},
		{"schema", SearchCriteria{SchemaVersion: "2"}, 1},
		{"min size", SearchCriteria{MinSize: 1 << 30}, 0},
		{"combined", SearchCriteria{Symbols: []string{"AAPL"}, EventTypes: []string{"quotes"}}, 0},
	}
	for _, tt := range tests {
		if got := c.Search(tt.criteria); len(got) != tt.want {
			t.Errorf("%s: got %d results, want %d", tt.name, len(got), tt.want)
		}
	}
}

type recordingPublisher struct {
	events []notify.Event
}

func (r *recordingPublisher) Publish(ev notify.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestRebuildRecordsRunAndPublishes(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)

	store, err := meta.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"), true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	pub := &recordingPublisher{}
	c.SetRunRecorder(store)
	c.SetPublisher(pub)

	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	run, err := store.LastRun(context.Background(), RunRebuild)
	if err != nil || run == nil || run.Files != 3 || !run.Success {
		t.Errorf("run not recorded: %+v, %v", run, err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != notify.EventCatalogRebuilt {
		t.Errorf("unexpected events: %+v", pub.events)
	}
}

// dirTiers maps a leading directory name to a tier.
type dirTiers map[string]types.Tier

func (d dirTiers) FromPath(rel string) (types.Tier, string) {
	first, rest, found := strings.Cut(rel, "/")
	if t, ok := d[first]; ok && found {
		return t, rest
	}
	return types.TierHot, rel
}

func TestConfiguredTierDirectories(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "fast/AAPL/trades/2024-01-03.jsonl", eventLines(1, 2))
	writeRaw(t, root, "nearline/AAPL/trades/2024-01-02.jsonl", eventLines(1, 2, 3))
	writeParquet(t, root, "deep/MSFT/quotes/2023-06-01.parquet", 4)

	opts := Options{
		Root:           root,
		Convention:     naming.BySymbol,
		MaxParallelism: 2,
		Tiers:          dirTiers{"fast": types.TierHot, "nearline": types.TierWarm, "deep": types.TierCold},
	}
	c, err := Open(opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.RebuildCatalog(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}

	e, ok := c.Get("nearline/AAPL/trades/2024-01-02.jsonl")
	if !ok || e.Tier() != types.TierWarm {
		t.Fatalf("nearline entry tier = %v, want warm", e.Tier())
	}
	if got := c.Search(SearchCriteria{Tiers: []types.Tier{types.TierWarm}}); len(got) != 1 || got[0].RelativePath != e.RelativePath {
		t.Errorf("warm search = %+v", got)
	}
	if got := c.Search(SearchCriteria{Tiers: []types.Tier{types.TierCold}}); len(got) != 1 {
		t.Errorf("cold search returned %d files, want 1", len(got))
	}
	st := c.Manifest().Statistics
	if st.FilesByTier["hot"] != 1 || st.FilesByTier["warm"] != 1 || st.FilesByTier["cold"] != 1 {
		t.Errorf("FilesByTier = %v", st.FilesByTier)
	}

	// Entries written by hand are resolved the same way.
	moved := e
	moved.RelativePath = "deep/AAPL/trades/2024-01-02.jsonl"
	moved.StorageTier = types.TierHot
	if err := c.RelocateFileEntry(e.RelativePath, moved); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get(moved.RelativePath); got.Tier() != types.TierCold {
		t.Errorf("relocated entry tier = %v, want cold", got.Tier())
	}

	reopened, err := Open(opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Search(SearchCriteria{Tiers: []types.Tier{types.TierCold}}); len(got) != 2 {
		t.Errorf("cold search after reopen returned %d files, want 2", len(got))
	}
	if got := reopened.Manifest().Statistics.FilesByTier["cold"]; got != 2 {
		t.Errorf("cold files after reopen = %d, want 2", got)
	}
}

// Single-file updates keep the manifest identical to a full recount.
func TestIncrementalRollupsMatchFullSummary(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	c := newTestCatalog(t, root)
	ctx := context.Background()
	if _, err := c.RebuildCatalog(ctx, RebuildOptions{}); err != nil {
		t.Fatal(err)
	}

	writeRaw(t, root, "hot/IBM/trades/2024-01-04.jsonl", eventLines(5, 6, 9))
	writeRaw(t, root, "hot/AAPL/trades/2024-01-05.jsonl", eventLines(20))
	for _, rel := range []string{"hot/IBM/trades/2024-01-04.jsonl", "hot/AAPL/trades/2024-01-05.jsonl"} {
		if _, err := c.IndexFile(ctx, rel); err != nil {
			t.Fatal(err)
		}
	}
	old, _ := c.Get("hot/AAPL/trades/2024-01-02.jsonl")
	moved := old
	moved.RelativePath = "cold/AAPL/trades/2024-01-02.jsonl"
	if err := c.RelocateFileEntry(old.RelativePath, moved); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveFileEntry("cold/MSFT/quotes/2023-06-01.parquet"); err != nil {
		t.Fatal(err)
	}

	got := c.Manifest()
	want := summarize(got, c.Entries(), got.UpdatedAt)
	if !reflect.DeepEqual(got.Statistics, want.Statistics) {
		t.Errorf("statistics drifted:\n got %+v\nwant %+v", got.Statistics, want.Statistics)
	}
	if !reflect.DeepEqual(got.Symbols, want.Symbols) {
		t.Errorf("symbols drifted:\n got %+v\nwant %+v", got.Symbols, want.Symbols)
	}
	if !reflect.DeepEqual(got.Sources, want.Sources) {
		t.Errorf("sources drifted: got %v, want %v", got.Sources, want.Sources)
	}
	if _, ok := got.Symbols["MSFT"]; ok {
		t.Error("MSFT should be gone once its only file is removed")
	}

	hot, err := readDirectoryIndex(root, "hot")
	if err == nil {
		t.Errorf("unpopulated directory has a sidecar: %+v", hot)
	}
	aapl, err := readDirectoryIndex(root, "hot/AAPL/trades")
	if err != nil {
		t.Fatal(err)
	}
	if len(aapl.Files) != 1 || aapl.Files[0].RelativePath != "hot/AAPL/trades/2024-01-05.jsonl" {
		t.Errorf("hot AAPL sidecar = %+v", aapl.Files)
	}
}

func TestIndexDirs(t *testing.T) {
	ix := NewIndex()
	ix.Put(IndexedFileEntry{RelativePath: "hot/AAPL/trades/b.jsonl"})
	ix.Put(IndexedFileEntry{RelativePath: "hot/AAPL/trades/a.jsonl"})
	ix.Put(IndexedFileEntry{RelativePath: "hot/MSFT/trades/a.jsonl"})
	ix.Put(IndexedFileEntry{RelativePath: "hot/AAPL/trades/a.jsonl", SizeBytes: 7})

	files := ix.Dir("hot/AAPL/trades")
	if len(files) != 2 || files[0].RelativePath != "hot/AAPL/trades/a.jsonl" || files[0].SizeBytes != 7 {
		t.Fatalf("Dir = %+v", files)
	}
	if got := ix.Dirs(); !reflect.DeepEqual(got, []string{"hot/AAPL/trades", "hot/MSFT/trades"}) {
		t.Errorf("Dirs = %v", got)
	}

	ix.Delete("hot/MSFT/trades/a.jsonl")
	if got := ix.Dirs(); !reflect.DeepEqual(got, []string{"hot/AAPL/trades"}) {
		t.Errorf("Dirs after delete = %v", got)
	}
	if got := ix.Dir("hot/MSFT/trades"); len(got) != 0 {
		t.Errorf("emptied dir still lists %+v", got)
	}

	ix.Replace([]IndexedFileEntry{{RelativePath: "warm/IBM/x.jsonl"}})
	if got := ix.Dirs(); !reflect.DeepEqual(got, []string{"warm/IBM"}) {
		t.Errorf("Dirs after replace = %v", got)
	}
}
