// Package catalog maintains the checksum-verified index of every stored
// data file: an in-memory index, per-directory _index.json sidecars and a
// self-checksummed root manifest.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/notify"
	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run kinds recorded in the metadata store.
const (
	RunRebuild = "catalog_rebuild"
	RunVerify  = "catalog_verify"
)

// Options configure a catalog over one storage root.
type Options struct {
	Root               string
	Convention         naming.Convention
	DefaultCompression types.Compression
	Filter             fswalk.Filter
	MaxParallelism     int
	ComputeChecksums   bool
	// Tiers resolves the tier of a catalog path. When nil the first path
	// segment naming a tier decides.
	Tiers TierResolver
}

// TierResolver maps a catalog path to the tier it lives in and the path
// inside that tier.
type TierResolver interface {
	FromPath(rel string) (types.Tier, string)
}

// OptionsFromConfig translates the storage section of the configuration.
func OptionsFromConfig(cfg config.StorageConfig) (Options, error) {
	conv, err := naming.ParseConvention(cfg.NamingConvention)
	if err != nil {
		return Options{}, err
	}
	comp, err := types.ParseCompression(cfg.DefaultCompression)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Root:               cfg.Root,
		Convention:         conv,
		DefaultCompression: comp,
		Filter:             fswalk.Filter{Include: cfg.IncludePatterns, Exclude: cfg.ExcludePaths},
		MaxParallelism:     cfg.MaxParallelism,
		ComputeChecksums:   cfg.ComputeChecksums,
	}, nil
}

// RunRecorder receives a summary of every batch operation.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec meta.RunRecord) error
}

// Catalog is the Storage Catalog for one root. A single mutex serialises
// every load/mutate/save sequence of the manifest and sidecars.
type Catalog struct {
	opts     Options
	index    *Index
	mu       sync.Mutex
	manifest StorageCatalog
	dirs     map[string]*rollup
	runs     RunRecorder
	events   notify.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// Open loads the catalog under opts.Root. A manifest that cannot be loaded
// is replaced by a fresh, empty catalog; only an unusable root is an error.
func Open(opts Options, logger *zap.Logger) (*Catalog, error) {
	fi, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("opening storage root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", opts.Root)
	}
	if opts.MaxParallelism < 1 {
		opts.MaxParallelism = 1
	}

	c := &Catalog{
		opts:   opts,
		index:  NewIndex(),
		dirs:   make(map[string]*rollup),
		events: notify.Nop{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	m, err := LoadManifest(opts.Root)
	if err != nil {
		if isNotExist(err) {
			logger.Info("no manifest found, starting empty catalog", zap.String("root", opts.Root))
		} else {
			logger.Warn("manifest load failed, starting empty catalog", zap.Error(err))
		}
		c.manifest = newManifest(c.configSnapshot(), c.now())
		c.publishGaugesLocked()
		return c, nil
	}

	dirs, err := listSidecarDirs(opts.Root)
	if err != nil {
		logger.Warn("listing directory indexes failed", zap.Error(err))
	}
	var entries []IndexedFileEntry
	for _, dir := range dirs {
		idx, err := readDirectoryIndex(opts.Root, dir)
		if err != nil {
			logger.Warn("skipping unreadable directory index", zap.String("dir", dir), zap.Error(err))
			continue
		}
		entries = append(entries, idx.Files...)
	}
	for i := range entries {
		entries[i].StorageTier = c.tierOf(entries[i].RelativePath)
	}
	c.index.Replace(entries)
	c.resetRollupsLocked()
	c.manifest = c.mergedRollupLocked().apply(*m, m.UpdatedAt)
	c.publishGaugesLocked()

	logger.Info("catalog loaded",
		zap.String("catalog_id", c.manifest.CatalogID),
		zap.Int("files", c.index.Len()),
	)
	return c, nil
}

// SetRunRecorder attaches a store for batch run summaries.
func (c *Catalog) SetRunRecorder(r RunRecorder) { c.runs = r }

// SetPublisher attaches an event publisher.
func (c *Catalog) SetPublisher(p notify.Publisher) { c.events = p }

func (c *Catalog) Root() string { return c.opts.Root }

func (c *Catalog) Convention() naming.Convention { return c.opts.Convention }

func (c *Catalog) configSnapshot() CatalogConfigSnapshot {
	return CatalogConfigSnapshot{
		RootPath:           c.opts.Root,
		NamingConvention:   c.opts.Convention.String(),
		DefaultCompression: c.opts.DefaultCompression.String(),
	}
}

func (c *Catalog) scanOpts(computeChecksum bool) scanOptions {
	return scanOptions{root: c.opts.Root, convention: c.opts.Convention, computeChecksum: computeChecksum, tierOf: c.tierOf}
}

func (c *Catalog) tierOf(rel string) types.Tier {
	if c.opts.Tiers != nil {
		t, _ := c.opts.Tiers.FromPath(rel)
		return t
	}
	return types.TierFromPath(rel)
}

// RebuildOptions tune a full re-index.
type RebuildOptions struct {
	ComputeChecksums bool
	// MaxParallelism overrides the catalog default when > 0.
	MaxParallelism int
}

type RebuildResult struct {
	FilesScanned int               `json:"filesScanned"`
	FilesIndexed int               `json:"filesIndexed"`
	TotalBytes   int64             `json:"totalBytes"`
	TotalEvents  int64             `json:"totalEvents"`
	Elapsed      time.Duration     `json:"elapsed"`
	Errors       []types.FileError `json:"errors,omitempty"`
	Success      bool              `json:"success"`
}

// RebuildCatalog re-indexes every matching file under the root. Per-file
// failures land in the result. On cancellation the files already scanned
// are merged into the catalog and persisted, and ctx.Err() is returned.
func (c *Catalog) RebuildCatalog(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	start := time.Now()
	logger := c.logger.With(zap.String("op", "rebuild"))

	files, walkErrs, err := fswalk.Walk(ctx, c.opts.Root, c.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("walking storage root: %w", err)
	}

	par := opts.MaxParallelism
	if par < 1 {
		par = c.opts.MaxParallelism
	}
	so := c.scanOpts(opts.ComputeChecksums)

	var (
		resMu   sync.Mutex
		entries = make([]IndexedFileEntry, 0, len(files))
		errs    = append([]types.FileError(nil), walkErrs...)
		g       errgroup.Group
	)
	g.SetLimit(par)
	for _, rel := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e, err := scanFile(so, rel)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				fe := toFileError(rel, err)
				logger.Warn("indexing file failed", zap.String("path", rel), zap.String("kind", string(fe.Kind)), zap.Error(err))
				metrics.FileErrors.WithLabelValues("rebuild", string(fe.Kind)).Inc()
				errs = append(errs, fe)
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	}
	g.Wait()
	cancelled := ctx.Err()

	res := &RebuildResult{FilesScanned: len(files), FilesIndexed: len(entries)}
	for _, e := range entries {
		res.TotalBytes += e.SizeBytes
		res.TotalEvents += e.EventCount
	}
	res.Errors = errs
	res.Success = len(errs) == 0 && cancelled == nil

	c.mu.Lock()
	if cancelled != nil {
		for _, e := range entries {
			c.index.Put(e)
		}
	} else {
		c.index.Replace(entries)
	}
	err = c.persistAllLocked()
	c.publishGaugesLocked()
	c.mu.Unlock()

	res.Elapsed = time.Since(start)
	metrics.CatalogRebuildDuration.Observe(res.Elapsed.Seconds())
	c.recordRun(RunRebuild, start, res.FilesScanned, len(res.Errors), res.Success)

	if err != nil {
		return res, err
	}
	if cancelled != nil {
		logger.Warn("rebuild cancelled", zap.Int("indexed", res.FilesIndexed), zap.Int("total", res.FilesScanned))
		return res, cancelled
	}

	logger.Info("catalog rebuilt",
		zap.Int("scanned", res.FilesScanned),
		zap.Int("indexed", res.FilesIndexed),
		zap.Int64("bytes", res.TotalBytes),
		zap.Int64("events", res.TotalEvents),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	c.publish(notify.Event{Type: notify.EventCatalogRebuilt, Details: map[string]any{
		"files_indexed": res.FilesIndexed,
		"errors":        len(res.Errors),
		"success":       res.Success,
	}})
	return res, nil
}

// persistAllLocked recomputes every directory rollup, writes every
// directory sidecar, removes stale ones and saves the manifest. c.mu must
// be held.
func (c *Catalog) persistAllLocked() error {
	now := c.now()
	c.resetRollupsLocked()
	populated := c.index.Dirs()
	children := childDirs(populated)

	existing, err := listSidecarDirs(c.opts.Root)
	if err != nil {
		return fmt.Errorf("listing directory indexes: %w", err)
	}
	for _, dir := range existing {
		if _, ok := c.dirs[dir]; !ok {
			if err := removeDirectoryIndex(c.opts.Root, dir); err != nil {
				return err
			}
		}
	}
	for _, dir := range populated {
		if err := writeDirectoryIndex(c.opts.Root, newDirectoryIndex(dir, c.index.Dir(dir), children[dir], now)); err != nil {
			return err
		}
	}
	return c.saveManifestLocked(now)
}

// persistDirsLocked refreshes the rollups of the given directories and
// rewrites their sidecars and those of their ancestors, whose subdirectory
// lists may have changed, then saves the manifest. Only the touched
// directories are re-read. c.mu must be held.
func (c *Catalog) persistDirsLocked(dirs ...string) error {
	now := c.now()
	for _, dir := range dirs {
		c.refreshRollupLocked(dir)
	}
	children := childDirs(c.index.Dirs())

	touched := make(map[string]bool)
	for _, dir := range dirs {
		for d := dir; !touched[d]; d = path.Dir(d) {
			touched[d] = true
			if d == "." || d == "/" {
				break
			}
		}
	}
	for dir := range touched {
		if files := c.index.Dir(dir); len(files) > 0 {
			if err := writeDirectoryIndex(c.opts.Root, newDirectoryIndex(dir, files, children[dir], now)); err != nil {
				return err
			}
			continue
		}
		if err := removeDirectoryIndex(c.opts.Root, dir); err != nil {
			return err
		}
	}
	return c.saveManifestLocked(now)
}

func (c *Catalog) resetRollupsLocked() {
	c.dirs = make(map[string]*rollup)
	for _, dir := range c.index.Dirs() {
		c.dirs[dir] = rollupOf(c.index.Dir(dir))
	}
}

func (c *Catalog) refreshRollupLocked(dir string) {
	files := c.index.Dir(dir)
	if len(files) == 0 {
		delete(c.dirs, dir)
		return
	}
	c.dirs[dir] = rollupOf(files)
}

func (c *Catalog) mergedRollupLocked() *rollup {
	total := newRollup()
	for _, r := range c.dirs {
		total.merge(r)
	}
	return total
}

func (c *Catalog) saveManifestLocked(now time.Time) error {
	m := c.mergedRollupLocked().apply(c.manifest, now)
	m.Config = c.configSnapshot()
	if _, err := SaveManifest(c.opts.Root, &m); err != nil {
		return err
	}
	c.manifest = m
	return nil
}

// Save persists the manifest from the current index.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveManifestLocked(c.now())
}

// Severity grades an integrity issue.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
)

type IntegrityIssue struct {
	Path     string          `json:"path"`
	Kind     types.ErrorKind `json:"kind"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	Expected string          `json:"expected,omitempty"`
	Actual   string          `json:"actual,omitempty"`
}

type VerifyOptions struct {
	StopOnFirstError bool
	// MaxParallelism overrides the catalog default when > 0.
	MaxParallelism int
}

type VerifyResult struct {
	FilesChecked int              `json:"filesChecked"`
	Issues       []IntegrityIssue `json:"issues,omitempty"`
	IsValid      bool             `json:"isValid"`
	Elapsed      time.Duration    `json:"elapsed"`
}

var errStopVerify = errors.New("stop on first error")

// VerifyIntegrity confirms every indexed file exists and still matches its
// stored checksum (or its .sha256 sidecar when none is stored). The
// manifest's own self-checksum is checked as well.
func (c *Catalog) VerifyIntegrity(ctx context.Context, opts VerifyOptions) (*VerifyResult, error) {
	start := time.Now()
	logger := c.logger.With(zap.String("op", "verify"))
	res := &VerifyResult{}

	var (
		issuesMu sync.Mutex
		checked  atomic.Int64
	)
	addIssue := func(is IntegrityIssue) {
		issuesMu.Lock()
		res.Issues = append(res.Issues, is)
		issuesMu.Unlock()
		if is.Severity == SeverityError {
			metrics.FileErrors.WithLabelValues("verify", string(is.Kind)).Inc()
			logger.Warn("integrity issue", zap.String("path", is.Path), zap.String("kind", string(is.Kind)), zap.String("message", is.Message))
		}
	}

	if issue := c.verifyManifest(); issue != nil {
		addIssue(*issue)
	}

	par := opts.MaxParallelism
	if par < 1 {
		par = c.opts.MaxParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(par)
	for _, e := range c.index.Snapshot() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			checked.Add(1)
			issue := c.verifyEntry(e)
			if issue == nil {
				return nil
			}
			addIssue(*issue)
			if opts.StopOnFirstError && issue.Severity == SeverityError {
				return errStopVerify
			}
			return nil
		})
	}
	g.Wait()

	res.FilesChecked = int(checked.Load())
	res.IsValid = true
	var failures, missing int
	for _, is := range res.Issues {
		if is.Severity != SeverityError {
			continue
		}
		res.IsValid = false
		switch is.Kind {
		case types.KindChecksumMismatch:
			failures++
		case types.KindFileMissing:
			missing++
		}
	}
	res.Elapsed = time.Since(start)
	metrics.IntegrityIssues.Set(float64(len(res.Issues)))

	c.mu.Lock()
	verifiedAt := c.now()
	c.manifest.Integrity.LastVerified = &verifiedAt
	c.manifest.Integrity.ChecksumFailures = failures
	c.manifest.Integrity.MissingFiles = missing
	err := c.saveManifestLocked(verifiedAt)
	c.mu.Unlock()

	c.recordRun(RunVerify, start, res.FilesChecked, len(res.Issues), res.IsValid)
	if err != nil {
		return res, fmt.Errorf("saving integrity record: %w", err)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	logger.Info("integrity verified",
		zap.Int("checked", res.FilesChecked),
		zap.Int("issues", len(res.Issues)),
		zap.Bool("valid", res.IsValid),
		zap.Duration("elapsed", res.Elapsed),
	)
	c.publish(notify.Event{Type: notify.EventCatalogVerified, Details: map[string]any{
		"files_checked":     res.FilesChecked,
		"checksum_failures": failures,
		"missing_files":     missing,
		"valid":             res.IsValid,
	}})
	return res, nil
}

func (c *Catalog) verifyManifest() *IntegrityIssue {
	stored, actual, err := VerifyManifestFile(c.opts.Root)
	switch {
	case err != nil && isNotExist(err):
		return &IntegrityIssue{
			Path: filepath.ToSlash(filepath.Join(fswalk.CatalogDir, manifestFile)), Kind: types.KindFileMissing,
			Severity: SeverityWarning, Message: "manifest has not been saved yet",
		}
	case err != nil:
		return &IntegrityIssue{
			Path: filepath.ToSlash(filepath.Join(fswalk.CatalogDir, manifestFile)), Kind: types.KindManifestCorrupt,
			Severity: SeverityError, Message: err.Error(),
		}
	case stored != actual:
		return &IntegrityIssue{
			Path: filepath.ToSlash(filepath.Join(fswalk.CatalogDir, manifestFile)), Kind: types.KindManifestCorrupt,
			Severity: SeverityError, Message: "manifest self-checksum mismatch",
			Expected: stored, Actual: actual,
		}
	}
	return nil
}

func (c *Catalog) verifyEntry(e IndexedFileEntry) *IntegrityIssue {
	full := filepath.Join(c.opts.Root, filepath.FromSlash(e.RelativePath))
	if _, err := os.Stat(full); err != nil {
		kind := types.ClassifyIOError(err)
		return &IntegrityIssue{Path: e.RelativePath, Kind: kind, Severity: SeverityError, Message: err.Error()}
	}
	expected := e.Checksum
	if expected == "" {
		sum, err := checksum.ReadSidecar(full)
		if err != nil {
			return nil
		}
		expected = sum
	}
	actual, err := checksum.File(full)
	if err != nil {
		return &IntegrityIssue{Path: e.RelativePath, Kind: types.ClassifyIOError(err), Severity: SeverityError, Message: err.Error()}
	}
	if actual != expected {
		return &IntegrityIssue{
			Path: e.RelativePath, Kind: types.KindChecksumMismatch, Severity: SeverityError,
			Message: "content checksum differs from catalog", Expected: expected, Actual: actual,
		}
	}
	return nil
}

// IndexFile scans one file now and records it, replacing any existing
// entry for the same path.
func (c *Catalog) IndexFile(ctx context.Context, rel string) (IndexedFileEntry, error) {
	e, err := c.ScanEntry(ctx, rel)
	if err != nil {
		return IndexedFileEntry{}, err
	}
	return e, c.UpdateFileEntry(e)
}

// ScanEntry reads the file at rel into an entry without touching the index.
func (c *Catalog) ScanEntry(ctx context.Context, rel string) (IndexedFileEntry, error) {
	if err := ctx.Err(); err != nil {
		return IndexedFileEntry{}, err
	}
	e, err := scanFile(c.scanOpts(c.opts.ComputeChecksums), rel)
	if err != nil {
		return IndexedFileEntry{}, fmt.Errorf("indexing %s: %w", rel, err)
	}
	return e, nil
}

// UpdateFileEntry inserts or replaces e, rewriting its directory sidecar
// and the manifest rollups.
func (c *Catalog) UpdateFileEntry(e IndexedFileEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.StorageTier = c.tierOf(e.RelativePath)
	c.index.Put(e)
	if err := c.persistDirsLocked(e.Dir()); err != nil {
		return err
	}
	c.publishGaugesLocked()
	return nil
}

// RemoveFileEntry drops the entry for rel. Removing an unknown path is a
// no-op.
func (c *Catalog) RemoveFileEntry(rel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(rel)
	if !ok {
		return nil
	}
	c.index.Delete(rel)
	if err := c.persistDirsLocked(e.Dir()); err != nil {
		return err
	}
	c.publishGaugesLocked()
	return nil
}

// RelocateFileEntry replaces the entry at from with to in one step, as
// after a tier migration.
func (c *Catalog) RelocateFileEntry(from string, to IndexedFileEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := []string{to.Dir()}
	if old, ok := c.index.Get(from); ok {
		c.index.Delete(from)
		dirs = append(dirs, old.Dir())
	}
	to.StorageTier = c.tierOf(to.RelativePath)
	c.index.Put(to)
	if err := c.persistDirsLocked(dirs...); err != nil {
		return err
	}
	c.publishGaugesLocked()
	return nil
}

// Search returns the entries matching every set criterion, sorted by path.
func (c *Catalog) Search(criteria SearchCriteria) []IndexedFileEntry {
	var out []IndexedFileEntry
	for _, e := range c.index.Snapshot() {
		if criteria.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Catalog) Get(rel string) (IndexedFileEntry, bool) {
	return c.index.Get(rel)
}

// Entries returns every indexed entry sorted by path.
func (c *Catalog) Entries() []IndexedFileEntry {
	return c.index.Snapshot()
}

// Manifest returns a copy of the current root manifest.
func (c *Catalog) Manifest() StorageCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.manifest
	m.Symbols = make(map[string]SymbolCatalogEntry, len(c.manifest.Symbols))
	for k, v := range c.manifest.Symbols {
		m.Symbols[k] = v
	}
	return m
}

// publishGaugesLocked exports the manifest statistics. c.mu must be held.
func (c *Catalog) publishGaugesLocked() {
	st := c.manifest.Statistics
	metrics.CatalogFiles.Set(float64(st.TotalFiles))
	metrics.CatalogBytes.Set(float64(st.TotalBytes))
	for _, t := range types.AllTiers {
		metrics.TierFiles.WithLabelValues(t.String()).Set(float64(st.FilesByTier[t.String()]))
		metrics.TierBytes.WithLabelValues(t.String()).Set(float64(st.BytesByTier[t.String()]))
	}
}

func (c *Catalog) recordRun(kind string, start time.Time, files, errs int, success bool) {
	if c.runs == nil {
		return
	}
	rec := meta.RunRecord{
		Kind:      kind,
		StartedAt: start.UTC(),
		Elapsed:   time.Since(start),
		Files:     files,
		Errors:    errs,
		Success:   success,
	}
	if err := c.runs.RecordRun(context.Background(), rec); err != nil {
		c.logger.Warn("recording run failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (c *Catalog) publish(ev notify.Event) {
	if err := c.events.Publish(ev); err != nil {
		c.logger.Warn("publishing event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
