package tier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/codec"
	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Verification is the strength of the check a migration performed.
type Verification string

const (
	// VerifyNone means the copy was not checked.
	VerifyNone Verification = "none"
	// VerifySourceRead means the source was read end to end (and matched
	// its expected checksum when one was given), but the rewritten output
	// was not compared.
	VerifySourceRead Verification = "source-read"
	// VerifyContent means the committed target, decompressed, hashes to the
	// same content as the decompressed source.
	VerifyContent Verification = "content"
)

// MigrateOptions controls a single-file migration.
type MigrateOptions struct {
	DeleteSource   bool
	VerifyChecksum bool
	// ConvertFormat allows rewriting into the target tier's format when a
	// FormatConverter is configured.
	ConvertFormat bool
	// ExpectedChecksum is the known checksum of the source file. With
	// VerifyChecksum a mismatch aborts the migration before commit.
	ExpectedChecksum string
	// Compression overrides the target tier's codec when set.
	Compression *types.Compression
}

// MigrationResult describes one completed migration.
type MigrationResult struct {
	Source          string            `json:"source"`
	Target          string            `json:"target,omitempty"` // catalog path; empty for remote tiers
	Location        string            `json:"location"`
	From            types.Tier        `json:"from"`
	To              types.Tier        `json:"to"`
	Format          types.Format      `json:"format"`
	Compression     types.Compression `json:"compression"`
	BytesRead       int64             `json:"bytesRead"`
	BytesWritten    int64             `json:"bytesWritten"`
	SourceChecksum  string            `json:"sourceChecksum"`
	ContentChecksum string            `json:"contentChecksum,omitempty"`
	Verification    Verification      `json:"verification"`
	SourceDeleted   bool              `json:"sourceDeleted"`
	Elapsed         time.Duration     `json:"elapsed"`
}

// ExecutorConfig holds dependencies for the migration executor.
type ExecutorConfig struct {
	Root          string
	Table         *Table
	Stores        map[types.Tier]Store
	Converter     FormatConverter
	ParallelFiles int
	// Throughput in bytes per second, used for plan estimates.
	Throughput int64
	Logger     *zap.Logger
}

// Executor moves files between tiers.
type Executor struct {
	root       string
	table      *Table
	stores     map[types.Tier]Store
	converter  FormatConverter
	parallel   int
	throughput int64
	logger     *zap.Logger
}

// NewExecutor creates a migration executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.ParallelFiles < 1 {
		cfg.ParallelFiles = 1
	}
	return &Executor{
		root:       cfg.Root,
		table:      cfg.Table,
		stores:     cfg.Stores,
		converter:  cfg.Converter,
		parallel:   cfg.ParallelFiles,
		throughput: cfg.Throughput,
		logger:     cfg.Logger,
	}
}

// Table returns the tiering table the executor routes by.
func (x *Executor) Table() *Table { return x.table }

func (x *Executor) target(to types.Tier) (Definition, Store, error) {
	def, ok := x.table.Lookup(to)
	store := x.stores[to]
	if !ok || store == nil {
		return Definition{}, nil, fmt.Errorf("%w: %s", types.ErrMissingTierConfiguration, to)
	}
	return def, store, nil
}

// Migrate copies the file at catalog path rel into tier to, re-encoding it
// for that tier. A missing tier configuration fails the call with
// types.ErrMissingTierConfiguration; per-file failures are returned as
// types.FileError.
func (x *Executor) Migrate(ctx context.Context, rel string, to types.Tier, opts MigrateOptions) (*MigrationResult, error) {
	start := time.Now()
	def, store, err := x.target(to)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, inner := x.table.FromPath(rel)
	full := filepath.Join(x.root, filepath.FromSlash(rel))
	fi, err := os.Stat(full)
	if err != nil {
		return nil, types.NewFileError(rel, "", err)
	}
	_, srcFormat, srcComp, ok := naming.SplitName(path.Base(rel))
	if !ok {
		return nil, types.NewFileError(rel, types.KindMigrationFailed, errors.New("not a data file"))
	}

	dstFormat, dstComp := srcFormat, def.Compression
	if opts.Compression != nil {
		dstComp = *opts.Compression
	}
	convert := opts.ConvertFormat && x.converter != nil && def.Format != srcFormat
	if convert {
		dstFormat = def.Format
	}
	if dstFormat == types.FormatParquet {
		dstComp = types.CompressionNone
	}
	targetInner := naming.ReplaceExtension(inner, naming.Extension(dstFormat, dstComp))
	if from == to && targetInner == inner {
		return nil, types.NewFileError(rel, types.KindMigrationFailed, fmt.Errorf("already in %s with the target encoding", to))
	}

	res := &MigrationResult{
		Source:       rel,
		Location:     store.Location(targetInner),
		From:         from,
		To:           to,
		Format:       dstFormat,
		Compression:  dstComp,
		Verification: VerifyNone,
	}
	if !def.Remote() {
		res.Target = x.table.CatalogPath(to, targetInner)
	}

	fail := func(kind types.ErrorKind, err error) (*MigrationResult, error) {
		metrics.MigrationOps.WithLabelValues(from.String(), to.String(), "error").Inc()
		var fe types.FileError
		if errors.As(err, &fe) {
			return res, fe
		}
		return res, types.NewFileError(rel, kind, err)
	}

	w, err := store.Create(ctx, targetInner, fi.ModTime())
	if err != nil {
		return fail(types.KindMigrationFailed, fmt.Errorf("staging %s: %w", targetInner, err))
	}
	plan := transcodePlan{
		srcFormat: srcFormat, srcComp: srcComp,
		dstFormat: dstFormat, dstComp: dstComp,
		convert: convert,
	}
	if err := x.transcode(ctx, full, w, plan, res); err != nil {
		w.Abort()
		return fail(types.KindMigrationFailed, err)
	}
	if opts.VerifyChecksum && opts.ExpectedChecksum != "" && res.SourceChecksum != opts.ExpectedChecksum {
		w.Abort()
		return fail(types.KindChecksumMismatch, fmt.Errorf("source checksum %s, catalog has %s", res.SourceChecksum, opts.ExpectedChecksum))
	}
	if err := w.Commit(); err != nil {
		return fail(types.KindMigrationFailed, fmt.Errorf("committing %s: %w", targetInner, err))
	}

	if opts.VerifyChecksum {
		if convert {
			res.Verification = VerifySourceRead
		} else {
			if err := x.verifyTarget(ctx, store, targetInner, plan, res.ContentChecksum); err != nil {
				if delErr := store.Delete(ctx, targetInner); delErr != nil {
					x.logger.Warn("removing unverified target failed", zap.String("location", res.Location), zap.Error(delErr))
				}
				return fail(types.KindChecksumMismatch, err)
			}
			res.Verification = VerifyContent
		}
	}

	if opts.DeleteSource {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			x.logger.Warn("removing migrated source failed", zap.String("path", rel), zap.Error(err))
		} else {
			res.SourceDeleted = true
			os.Remove(checksum.SidecarPath(full))
		}
	}

	res.Elapsed = time.Since(start)
	metrics.MigrationOps.WithLabelValues(from.String(), to.String(), "ok").Inc()
	metrics.MigrationBytes.WithLabelValues(to.String()).Add(float64(res.BytesWritten))
	metrics.MigrationDuration.WithLabelValues(to.String()).Observe(res.Elapsed.Seconds())

	x.logger.Info("file migrated",
		zap.String("path", rel),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("location", res.Location),
		zap.Int64("bytes_read", res.BytesRead),
		zap.Int64("bytes_written", res.BytesWritten),
		zap.String("verification", string(res.Verification)),
	)
	return res, nil
}

type transcodePlan struct {
	srcFormat, dstFormat types.Format
	srcComp, dstComp     types.Compression
	convert              bool
}

// passthrough reports whether the bytes can be copied unchanged.
func (p transcodePlan) passthrough() bool {
	return !p.convert && p.srcComp == p.dstComp
}

// transcode streams the source into w. It fills in the byte counts, the
// raw source checksum and, unless a converter ran, the content checksum
// that verification compares against.
func (x *Executor) transcode(ctx context.Context, full string, w io.Writer, plan transcodePlan, res *MigrationResult) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	srcHash := checksum.NewHasher()
	src := &countingReader{r: io.TeeReader(f, srcHash)}
	out := &countingWriter{w: w}

	switch {
	case plan.passthrough():
		if _, err := io.Copy(out, src); err != nil {
			return fmt.Errorf("copying: %w", err)
		}
		res.SourceChecksum = srcHash.Sum()
		res.ContentChecksum = res.SourceChecksum

	case plan.convert:
		dec, err := decoderFor(src, plan.srcFormat, plan.srcComp)
		if err != nil {
			return err
		}
		defer dec.Close()
		enc, err := codec.NewWriter(out, plan.dstComp)
		if err != nil {
			return err
		}
		if err := x.converter.Convert(ctx, dec, plan.srcFormat, plan.dstFormat, enc); err != nil {
			return fmt.Errorf("converting %s to %s: %w", plan.srcFormat, plan.dstFormat, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flushing %s stream: %w", plan.dstComp, err)
		}
		if _, err := io.Copy(io.Discard, src); err != nil {
			return err
		}
		res.SourceChecksum = srcHash.Sum()

	default:
		dec, err := codec.NewReader(src, plan.srcComp)
		if err != nil {
			return types.NewFileError(res.Source, types.KindCorruptContent, err)
		}
		defer dec.Close()
		enc, err := codec.NewWriter(out, plan.dstComp)
		if err != nil {
			return err
		}
		content := checksum.NewHasher()
		if _, err := io.Copy(enc, io.TeeReader(dec, content)); err != nil {
			return fmt.Errorf("recompressing %s to %s: %w", plan.srcComp, plan.dstComp, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flushing %s stream: %w", plan.dstComp, err)
		}
		if _, err := io.Copy(io.Discard, src); err != nil {
			return err
		}
		res.SourceChecksum = srcHash.Sum()
		res.ContentChecksum = content.Sum()
	}

	res.BytesRead = src.n
	res.BytesWritten = out.n
	return nil
}

func decoderFor(r io.Reader, format types.Format, comp types.Compression) (io.ReadCloser, error) {
	if format == types.FormatParquet {
		return io.NopCloser(r), nil
	}
	return codec.NewReader(r, comp)
}

// verifyTarget re-reads the committed target and compares its content
// hash with want.
func (x *Executor) verifyTarget(ctx context.Context, store Store, rel string, plan transcodePlan, want string) error {
	rc, err := store.Open(ctx, rel)
	if err != nil {
		return fmt.Errorf("reopening target: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if !plan.passthrough() {
		dec, err := codec.NewReader(rc, plan.dstComp)
		if err != nil {
			return fmt.Errorf("decoding target: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	got, _, err := checksum.Reader(r)
	if err != nil {
		return fmt.Errorf("hashing target: %w", err)
	}
	if got != want {
		return fmt.Errorf("target content %s does not match source %s", got, want)
	}
	return nil
}

// Progress reports the state of a tree migration after each file.
type Progress struct {
	CurrentFile    string
	FilesProcessed int
	TotalFiles     int
	BytesProcessed int64
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// BatchResult is the outcome of a tree migration.
type BatchResult struct {
	Migrated       []MigrationResult `json:"migrated,omitempty"`
	Errors         []types.FileError `json:"errors,omitempty"`
	TotalFiles     int               `json:"totalFiles"`
	FilesProcessed int               `json:"filesProcessed"`
	BytesProcessed int64             `json:"bytesProcessed"`
	Success        bool              `json:"success"`
	Elapsed        time.Duration     `json:"elapsed"`
}

// MigrateTree migrates every data file in tier from to tier to, at most
// ParallelFiles at a time. Per-file failures land in the result; on
// cancellation the files already migrated stay migrated and ctx.Err() is
// returned.
func (x *Executor) MigrateTree(ctx context.Context, from, to types.Tier, opts MigrateOptions, progress ProgressFunc) (*BatchResult, error) {
	start := time.Now()
	fromDef, ok := x.table.Lookup(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrMissingTierConfiguration, from)
	}
	if fromDef.Remote() {
		return nil, fmt.Errorf("tier %s is remote and cannot be walked", from)
	}
	if _, _, err := x.target(to); err != nil {
		return nil, err
	}

	base := filepath.Join(x.root, filepath.FromSlash(fromDef.Path))
	files, walkErrs, err := fswalk.Walk(ctx, base, fswalk.Filter{})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &BatchResult{Success: true}, nil
		}
		return nil, fmt.Errorf("walking tier %s: %w", from, err)
	}

	res := &BatchResult{TotalFiles: len(files)}
	for _, fe := range walkErrs {
		fe.Path = path.Join(fromDef.Path, fe.Path)
		res.Errors = append(res.Errors, fe)
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(x.parallel))
	for _, inner := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		rel := path.Join(fromDef.Path, inner)
		go func() {
			defer sem.Release(1)
			mr, err := x.Migrate(ctx, rel, to, opts)

			mu.Lock()
			defer mu.Unlock()
			res.FilesProcessed++
			if err != nil {
				fe := asFileError(rel, err)
				res.Errors = append(res.Errors, fe)
				x.logger.Warn("migration failed", zap.String("path", rel), zap.String("kind", string(fe.Kind)), zap.Error(err))
			} else {
				res.Migrated = append(res.Migrated, *mr)
				res.BytesProcessed += mr.BytesRead
			}
			if progress != nil {
				progress(Progress{
					CurrentFile:    rel,
					FilesProcessed: res.FilesProcessed,
					TotalFiles:     res.TotalFiles,
					BytesProcessed: res.BytesProcessed,
				})
			}
		}()
	}
	// Wait for in-flight migrations.
	sem.Acquire(context.Background(), int64(x.parallel))
	sem.Release(int64(x.parallel))

	res.Success = len(res.Errors) == 0 && ctx.Err() == nil
	res.Elapsed = time.Since(start)
	x.logger.Info("tier migration finished",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("migrated", len(res.Migrated)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func asFileError(rel string, err error) types.FileError {
	var fe types.FileError
	if errors.As(err, &fe) {
		return fe
	}
	return types.NewFileError(rel, types.KindMigrationFailed, err)
}

// FileInfo is what migration planning needs to know about a file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// PlannedMigration is one candidate in a MigrationPlan.
type PlannedMigration struct {
	Path             string        `json:"path"`
	From             types.Tier    `json:"from"`
	To               types.Tier    `json:"to"`
	Bytes            int64         `json:"bytes"`
	Age              time.Duration `json:"age"`
	EstimatedSavings int64         `json:"estimatedSavings"`
}

// MigrationPlan lists the migrations due within a horizon.
type MigrationPlan struct {
	Candidates        []PlannedMigration `json:"candidates,omitempty"`
	TotalBytes        int64              `json:"totalBytes"`
	EstimatedSavings  int64              `json:"estimatedSavings"`
	EstimatedDuration time.Duration      `json:"estimatedDuration"`
}

// PlanMigration lists, for each adjacent pair of tiers, the files in the
// younger tier for which DetermineTargetTier at now+horizon names a colder
// tier, as candidates for the next tier. It does not touch disk.
func (x *Executor) PlanMigration(files []FileInfo, horizon time.Duration, now time.Time) MigrationPlan {
	var plan MigrationPlan
	defs := x.table.Ordered()
	next := make(map[types.Tier]Definition, len(defs))
	for i := 0; i+1 < len(defs); i++ {
		next[defs[i].Tier] = defs[i+1]
	}

	for _, f := range files {
		cur, _ := x.table.FromPath(f.Path)
		to, ok := next[cur]
		if !ok {
			continue
		}
		if x.table.DetermineTargetTier(now.Sub(f.ModTime)+horizon) <= cur {
			continue
		}
		pm := PlannedMigration{
			Path:  f.Path,
			From:  cur,
			To:    to.Tier,
			Bytes: f.Size,
			Age:   now.Sub(f.ModTime),
		}
		if _, format, comp, ok := naming.SplitName(path.Base(f.Path)); ok && format == types.FormatJSONL {
			after := float64(f.Size) * codec.Ratio(to.Compression) / codec.Ratio(comp)
			if saved := f.Size - int64(after); saved > 0 {
				pm.EstimatedSavings = saved
			}
		}
		plan.Candidates = append(plan.Candidates, pm)
		plan.TotalBytes += pm.Bytes
		plan.EstimatedSavings += pm.EstimatedSavings
	}
	if x.throughput > 0 {
		plan.EstimatedDuration = time.Duration(float64(plan.TotalBytes) / float64(x.throughput) * float64(time.Second))
	}
	return plan
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

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
