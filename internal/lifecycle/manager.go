// Package lifecycle decides when stored files move between tiers or are
// deleted, and carries those decisions out.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/gftdcojp/tickstore/internal/catalog"
	"github.com/gftdcojp/tickstore/internal/checksum"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/notify"
	"github.com/gftdcojp/tickstore/internal/quota"
	"github.com/gftdcojp/tickstore/internal/tier"
	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunLifecycle is the run kind recorded for each evaluate/execute pass.
const RunLifecycle = "lifecycle_pass"

// ActionKind is what a lifecycle action does.
type ActionKind string

const (
	TierMigration      ActionKind = "tier_migration"
	CompressionUpgrade ActionKind = "compression_upgrade"
	Delete             ActionKind = "delete"
	Archive            ActionKind = "archive"
)

// Action is a planned operation on one file.
type Action struct {
	Path        string            `json:"path"`
	Kind        ActionKind        `json:"kind"`
	CurrentTier types.Tier        `json:"currentTier"`
	TargetTier  types.Tier        `json:"targetTier"`
	Compression types.Compression `json:"compression"`
	Reason      string            `json:"reason"`
	Bytes       int64             `json:"bytes"`
	Policy      string            `json:"policy"`
}

// ActionLog records executed actions and pass summaries.
type ActionLog interface {
	RecordAction(ctx context.Context, rec meta.ActionRecord) (uint64, error)
	RecordRun(ctx context.Context, rec meta.RunRecord) error
}

// EngineConfig holds the engine's collaborators. Quota, Log and Events
// are optional.
type EngineConfig struct {
	Catalog     *catalog.Catalog
	Executor    *tier.Executor
	Resolver    *Resolver
	Quota       *quota.Tracker
	Log         ActionLog
	Events      notify.Publisher
	Parallelism int
	Logger      *zap.Logger

	// ActionRetention bounds the audit log when Log can prune; 0 keeps all.
	ActionRetention int
}

// Engine evaluates retention policies over the catalog and executes the
// resulting actions.
type Engine struct {
	cat      *catalog.Catalog
	exec     *tier.Executor
	resolver *Resolver
	quota    *quota.Tracker
	log      ActionLog
	events   notify.Publisher
	par      int
	keep     int
	logger   *zap.Logger
	now      func() time.Time

	// passMu serializes RunOnce between the loop and on-demand callers.
	passMu sync.Mutex

	statsMu sync.Mutex
	stats   []TierStatistics
}

// NewEngine creates a lifecycle engine.
func NewEngine(cfg EngineConfig) *Engine {
	events := cfg.Events
	if events == nil {
		events = notify.Nop{}
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Engine{
		cat:      cfg.Catalog,
		exec:     cfg.Executor,
		resolver: cfg.Resolver,
		quota:    cfg.Quota,
		log:      cfg.Log,
		events:   events,
		par:      cfg.Parallelism,
		keep:     cfg.ActionRetention,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EvaluationResult is the output of one evaluation pass.
type EvaluationResult struct {
	FilesEvaluated int               `json:"filesEvaluated"`
	Actions        []Action          `json:"actions,omitempty"`
	Errors         []types.FileError `json:"errors,omitempty"`
	Elapsed        time.Duration     `json:"elapsed"`
}

// Evaluate inspects every cataloged file and lists the actions its policy
// calls for. The migration, compression and deletion checks are
// independent, so one file may yield several actions.
func (e *Engine) Evaluate(ctx context.Context) (*EvaluationResult, error) {
	start := time.Now()
	now := e.now()
	entries := e.cat.Entries()
	res := &EvaluationResult{}
	acc := newStatsAccumulator()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		actions, err := e.evaluateEntry(entry, now)
		if err != nil {
			res.Errors = append(res.Errors, types.NewFileError(entry.RelativePath, types.KindEvaluationFailed, err))
			e.logger.Warn("evaluation failed", zap.String("path", entry.RelativePath), zap.Error(err))
			continue
		}
		res.FilesEvaluated++
		res.Actions = append(res.Actions, actions...)
		cur, _ := e.exec.Table().FromPath(entry.RelativePath)
		acc.add(cur, entry.SizeBytes, now.Sub(entry.LastModified))
	}

	e.statsMu.Lock()
	e.stats = acc.finish()
	e.statsMu.Unlock()

	res.Elapsed = time.Since(start)
	metrics.LifecycleEvalDuration.Observe(res.Elapsed.Seconds())
	e.logger.Info("lifecycle evaluation complete",
		zap.Int("files", res.FilesEvaluated),
		zap.Int("actions", len(res.Actions)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (e *Engine) evaluateEntry(entry catalog.IndexedFileEntry, now time.Time) ([]Action, error) {
	if entry.LastModified.IsZero() {
		return nil, errors.New("no modification time recorded")
	}
	age := now.Sub(entry.LastModified)
	pol := e.resolver.Resolve(entry.RelativePath)
	table := e.exec.Table()
	current, _ := table.FromPath(entry.RelativePath)

	target := current
	if table.TieringEnabled() {
		target = pol.TargetTier(age)
	}
	days := int(age / tier.Day)
	mk := func(kind ActionKind, reason string) Action {
		return Action{
			Path:        entry.RelativePath,
			Kind:        kind,
			CurrentTier: current,
			TargetTier:  target,
			Reason:      reason,
			Bytes:       entry.SizeBytes,
			Policy:      pol.Name,
		}
	}

	var actions []Action
	if target != current {
		kind := TierMigration
		if target == types.TierArchive && pol.PerpetualArchive {
			kind = Archive
		}
		actions = append(actions, mk(kind, fmt.Sprintf("age %dd places file in %s", days, target)))
	}

	if want, ok := e.targetCompression(pol, target); ok && entry.Format != types.FormatParquet && want != entry.Compression {
		a := mk(CompressionUpgrade, fmt.Sprintf("%s tier uses %s, file is %s", target, want, entry.Compression))
		a.Compression = want
		actions = append(actions, a)
	}

	if pol.Deletable(age) {
		a := mk(Delete, fmt.Sprintf("age %dd exceeds retention of %dd", days, int(pol.RetentionAge()/tier.Day)))
		a.TargetTier = current
		actions = append(actions, a)
	}

	// Migrations carry the codec the target tier should end up with.
	for i := range actions {
		if actions[i].Kind == TierMigration || actions[i].Kind == Archive {
			if want, ok := e.targetCompression(pol, target); ok {
				actions[i].Compression = want
			}
		}
	}
	return actions, nil
}

// targetCompression is the policy override for t, else the tier's codec.
// It reports false when t is not configured.
func (e *Engine) targetCompression(pol Policy, t types.Tier) (types.Compression, bool) {
	def, ok := e.exec.Table().Lookup(t)
	if !ok {
		return types.CompressionNone, false
	}
	if c, ok := pol.CompressionFor(t); ok {
		return c, true
	}
	return def.Compression, true
}

// Outcome is the result of one action.
type Outcome struct {
	Action   Action `json:"action"`
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// Outcome statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusDryRun  = "dry_run"
	StatusSkipped = "skipped"
)

// ExecutionResult summarises Execute.
type ExecutionResult struct {
	Executed int               `json:"executed"`
	Failed   int               `json:"failed"`
	Skipped  int               `json:"skipped"`
	DryRun   bool              `json:"dryRun"`
	Outcomes []Outcome         `json:"outcomes,omitempty"`
	Errors   []types.FileError `json:"errors,omitempty"`
	Success  bool              `json:"success"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// Execute applies actions best effort. Actions for the same file are
// merged: a delete supersedes everything else, and a compression upgrade
// rides along with a tier migration. Files are processed concurrently with
// no ordering between them. Only cancellation fails the call.
func (e *Engine) Execute(ctx context.Context, actions []Action, dryRun bool) (*ExecutionResult, error) {
	start := time.Now()
	res := &ExecutionResult{DryRun: dryRun}
	var mu sync.Mutex
	record := func(outs ...Outcome) {
		mu.Lock()
		defer mu.Unlock()
		for _, o := range outs {
			res.Outcomes = append(res.Outcomes, o)
			switch o.Status {
			case StatusOK, StatusDryRun:
				res.Executed++
			case StatusSkipped:
				res.Skipped++
			case StatusError:
				res.Failed++
				res.Errors = append(res.Errors, actionError(o))
			}
			metrics.LifecycleActions.WithLabelValues(string(o.Action.Kind), o.Status).Inc()
		}
	}

	var g errgroup.Group
	g.SetLimit(e.par)
	for _, group := range groupByPath(actions) {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			record(e.executeFile(ctx, group, dryRun)...)
			return nil
		})
	}
	g.Wait()

	res.Success = res.Failed == 0 && ctx.Err() == nil
	res.Elapsed = time.Since(start)
	e.logger.Info("lifecycle actions executed",
		zap.Int("executed", res.Executed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Bool("dry_run", dryRun),
		zap.Duration("elapsed", res.Elapsed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func actionError(o Outcome) types.FileError {
	var fe types.FileError
	if errors.As(o.err, &fe) {
		return fe
	}
	kind := types.KindMigrationFailed
	if o.Action.Kind == Delete {
		kind = types.ClassifyIOError(o.err)
	}
	return types.FileError{Path: o.Action.Path, Kind: kind, Message: o.Error}
}

// primaryAction picks the action that is actually carried out for a file.
func primaryAction(group []Action) int {
	rank := map[ActionKind]int{Delete: 0, Archive: 1, TierMigration: 2, CompressionUpgrade: 3}
	best := 0
	for i, a := range group {
		if rank[a.Kind] < rank[group[best].Kind] {
			best = i
		}
	}
	return best
}

func groupByPath(actions []Action) [][]Action {
	idx := make(map[string]int)
	var groups [][]Action
	for _, a := range actions {
		i, ok := idx[a.Path]
		if !ok {
			i = len(groups)
			idx[a.Path] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

// executeFile runs the merged actions for one file.
func (e *Engine) executeFile(ctx context.Context, group []Action, dryRun bool) []Outcome {
	primary := primaryAction(group)
	act := group[primary]

	var outs []Outcome
	for i, a := range group {
		if i == primary {
			continue
		}
		if act.Kind != Delete && a.Kind == CompressionUpgrade {
			act.Compression = a.Compression
			outs = append(outs, Outcome{Action: a, Status: StatusSkipped, Detail: "folded into " + string(act.Kind)})
			continue
		}
		outs = append(outs, Outcome{Action: a, Status: StatusSkipped, Detail: "superseded by " + string(act.Kind)})
	}

	if dryRun {
		e.logger.Info("lifecycle action",
			zap.String("path", act.Path),
			zap.String("kind", string(act.Kind)),
			zap.String("from", act.CurrentTier.String()),
			zap.String("to", act.TargetTier.String()),
			zap.String("reason", act.Reason),
			zap.Bool("dry_run", true),
		)
		e.audit(ctx, act, "", true, nil)
		return append(outs, Outcome{Action: act, Status: StatusDryRun})
	}

	var (
		location string
		err      error
	)
	if act.Kind == Delete {
		err = e.deleteFile(ctx, act)
	} else {
		location, err = e.migrateFile(ctx, act)
	}
	e.audit(ctx, act, location, false, err)
	if err != nil {
		e.logger.Warn("lifecycle action failed",
			zap.String("path", act.Path),
			zap.String("kind", string(act.Kind)),
			zap.Error(err),
		)
		return append(outs, Outcome{Action: act, Status: StatusError, Location: location, Error: err.Error(), err: err})
	}
	e.publish(act, location)
	return append(outs, Outcome{Action: act, Status: StatusOK, Location: location})
}

func (e *Engine) deleteFile(ctx context.Context, act Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(e.cat.Root(), filepath.FromSlash(act.Path))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", act.Path, err)
	}
	os.Remove(checksum.SidecarPath(full))
	if e.quota != nil {
		e.quota.ReleaseUsage(act.Path, act.Bytes)
	}
	if err := e.cat.RemoveFileEntry(act.Path); err != nil {
		return fmt.Errorf("updating catalog: %w", err)
	}
	e.logger.Info("file deleted",
		zap.String("path", act.Path),
		zap.String("reason", act.Reason),
	)
	return nil
}

func (e *Engine) migrateFile(ctx context.Context, act Action) (string, error) {
	opts := tier.MigrateOptions{
		DeleteSource:   true,
		VerifyChecksum: true,
		ConvertFormat:  act.TargetTier >= types.TierCold,
	}
	if entry, ok := e.cat.Get(act.Path); ok {
		opts.ExpectedChecksum = entry.Checksum
	}
	if def, ok := e.exec.Table().Lookup(act.TargetTier); ok && act.Compression != def.Compression {
		c := act.Compression
		opts.Compression = &c
	}

	res, err := e.exec.Migrate(ctx, act.Path, act.TargetTier, opts)
	if err != nil {
		loc := ""
		if res != nil {
			loc = res.Location
		}
		return loc, err
	}

	return res.Location, e.applyMigration(ctx, act.Path, act.Bytes, res)
}

// applyMigration brings the catalog and the quota counters in line with a
// completed migration of src, which occupied srcBytes.
func (e *Engine) applyMigration(ctx context.Context, src string, srcBytes int64, res *tier.MigrationResult) error {
	if res.SourceDeleted {
		if e.quota != nil {
			e.quota.ReleaseUsage(src, srcBytes)
		}
	}
	if res.Target == "" {
		// Remote tiers live outside the root; the audit log keeps the location.
		if res.SourceDeleted {
			if err := e.cat.RemoveFileEntry(src); err != nil {
				return fmt.Errorf("updating catalog: %w", err)
			}
		}
		return nil
	}

	entry, err := e.cat.ScanEntry(ctx, res.Target)
	if err != nil {
		// The target is on disk but not in the catalog.
		if e.quota != nil {
			if fi, statErr := os.Stat(filepath.Join(e.cat.Root(), filepath.FromSlash(res.Target))); statErr == nil {
				e.quota.RecordUsage(res.Target, fi.Size())
			}
		}
		if res.SourceDeleted {
			if rmErr := e.cat.RemoveFileEntry(src); rmErr != nil {
				e.logger.Warn("dropping migrated source from catalog failed", zap.String("path", src), zap.Error(rmErr))
			}
		}
		return fmt.Errorf("indexing migrated file %s: %w", res.Target, err)
	}
	if e.quota != nil {
		e.quota.RecordUsage(res.Target, entry.SizeBytes)
	}
	if res.SourceDeleted {
		err = e.cat.RelocateFileEntry(src, entry)
	} else {
		err = e.cat.UpdateFileEntry(entry)
	}
	if err != nil {
		return fmt.Errorf("updating catalog: %w", err)
	}
	return nil
}

// MigrateTier moves every file of tier from into tier to, outside any
// retention policy, and applies each completed migration to the catalog,
// the quota counters and the action log.
func (e *Engine) MigrateTier(ctx context.Context, from, to types.Tier, opts tier.MigrateOptions, progress tier.ProgressFunc) (*tier.BatchResult, error) {
	batch, err := e.exec.MigrateTree(ctx, from, to, opts, progress)
	if batch == nil {
		return nil, err
	}
	// Files already moved are recorded even when ctx was cancelled.
	syncCtx := context.WithoutCancel(ctx)
	for i := range batch.Migrated {
		mr := &batch.Migrated[i]
		act := Action{
			Path:        mr.Source,
			Kind:        TierMigration,
			CurrentTier: mr.From,
			TargetTier:  mr.To,
			Compression: mr.Compression,
			Reason:      "operator tier migration",
			Bytes:       mr.BytesRead,
		}
		if entry, ok := e.cat.Get(mr.Source); ok {
			act.Bytes = entry.SizeBytes
		}
		syncErr := e.applyMigration(syncCtx, mr.Source, act.Bytes, mr)
		e.audit(syncCtx, act, mr.Location, false, syncErr)
		if syncErr != nil {
			e.logger.Warn("recording tier migration failed", zap.String("path", mr.Source), zap.Error(syncErr))
			batch.Errors = append(batch.Errors, types.NewFileError(mr.Source, types.KindMigrationFailed, syncErr))
			batch.Success = false
			continue
		}
		e.publish(act, mr.Location)
	}
	return batch, err
}

func (e *Engine) audit(ctx context.Context, act Action, location string, dryRun bool, actErr error) {
	if e.log == nil {
		return
	}
	rec := meta.ActionRecord{
		Path:       act.Path,
		Kind:       string(act.Kind),
		FromTier:   act.CurrentTier,
		ToTier:     act.TargetTier,
		Target:     location,
		Reason:     act.Reason,
		Bytes:      act.Bytes,
		DryRun:     dryRun,
		ExecutedAt: e.now(),
	}
	if actErr != nil {
		rec.Error = actErr.Error()
	}
	if _, err := e.log.RecordAction(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("recording lifecycle action failed", zap.String("path", act.Path), zap.Error(err))
	}
}

func (e *Engine) publish(act Action, location string) {
	ev := notify.Event{
		Type: notify.EventLifecycleAction,
		Path: act.Path,
		Details: map[string]any{
			"kind":     string(act.Kind),
			"from":     act.CurrentTier.String(),
			"to":       act.TargetTier.String(),
			"location": location,
			"reason":   act.Reason,
			"bytes":    act.Bytes,
		},
	}
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn("publishing lifecycle action failed", zap.Error(err))
	}
}

// Run evaluates and executes on every tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration, dryRun bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.RunOnce(ctx, dryRun); err != nil && ctx.Err() == nil {
				e.logger.Error("lifecycle cycle error", zap.Error(err))
			}
		}
	}
}

// PassResult is the outcome of one lifecycle pass.
type PassResult struct {
	Orphans    int               `json:"orphans"`
	Evaluation *EvaluationResult `json:"evaluation"`
	Execution  *ExecutionResult  `json:"execution"`
}

// RunOnce performs a single pass: drop orphaned catalog entries, evaluate,
// execute, then record the run and prune the audit log.
func (e *Engine) RunOnce(ctx context.Context, dryRun bool) (*PassResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := time.Now()
	res := &PassResult{}
	var err error
	if res.Orphans, err = CollectOrphans(ctx, e.cat, e.quota, e.logger); err != nil {
		return res, fmt.Errorf("collecting orphans: %w", err)
	}
	if res.Evaluation, err = e.Evaluate(ctx); err != nil {
		return res, err
	}
	if res.Execution, err = e.Execute(ctx, res.Evaluation.Actions, dryRun); err != nil {
		return res, err
	}
	ev, ex := res.Evaluation, res.Execution
	if e.log != nil {
		rec := meta.RunRecord{
			Kind:      RunLifecycle,
			StartedAt: start.UTC(),
			Elapsed:   time.Since(start),
			Files:     ev.FilesEvaluated,
			Errors:    len(ev.Errors) + ex.Failed,
			Success:   len(ev.Errors) == 0 && ex.Success,
		}
		if err := e.log.RecordRun(ctx, rec); err != nil {
			e.logger.Warn("recording lifecycle run failed", zap.Error(err))
		}
		if p, ok := e.log.(ActionPruner); ok && e.keep > 0 {
			if _, err := PruneActionLog(ctx, p, e.keep, e.logger); err != nil {
				e.logger.Warn("pruning action log failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

// TierStatistics describes one tier as seen by the last evaluation.
type TierStatistics struct {
	Tier       types.Tier    `json:"tier"`
	Files      int           `json:"files"`
	Bytes      int64         `json:"bytes"`
	OldestAge  time.Duration `json:"oldestAge"`
	NewestAge  time.Duration `json:"newestAge"`
	MedianSize float64       `json:"medianSize"`
	P95Size    float64       `json:"p95Size"`
}

// GetTierStatistics returns per-tier totals from the last Evaluate, in
// tier order. It is empty before the first evaluation.
func (e *Engine) GetTierStatistics() []TierStatistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return append([]TierStatistics(nil), e.stats...)
}

type tierAcc struct {
	stats  TierStatistics
	sketch *ddsketch.DDSketch
}

type statsAccumulator struct {
	tiers map[types.Tier]*tierAcc
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{tiers: make(map[types.Tier]*tierAcc)}
}

func (s *statsAccumulator) add(t types.Tier, size int64, age time.Duration) {
	acc, ok := s.tiers[t]
	if !ok {
		acc = &tierAcc{stats: TierStatistics{Tier: t, NewestAge: time.Duration(math.MaxInt64)}}
		// Sizes are bytes; 1% relative accuracy is plenty for reporting.
		if sk, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
			acc.sketch = sk
		}
		s.tiers[t] = acc
	}
	acc.stats.Files++
	acc.stats.Bytes += size
	acc.stats.OldestAge = max(acc.stats.OldestAge, age)
	acc.stats.NewestAge = min(acc.stats.NewestAge, age)
	if acc.sketch != nil && size > 0 {
		acc.sketch.Add(float64(size))
	}
}

func (s *statsAccumulator) finish() []TierStatistics {
	out := make([]TierStatistics, 0, len(s.tiers))
	for _, acc := range s.tiers {
		st := acc.stats
		if acc.sketch != nil && acc.sketch.GetCount() > 0 {
			st.MedianSize, _ = acc.sketch.GetValueAtQuantile(0.5)
			st.P95Size, _ = acc.sketch.GetValueAtQuantile(0.95)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}
