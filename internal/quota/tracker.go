package quota

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gftdcojp/tickstore/internal/fswalk"
	"github.com/gftdcojp/tickstore/internal/meta"
	"github.com/gftdcojp/tickstore/internal/metrics"
	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/notify"
	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
)

// UsageStore persists usage between restarts.
type UsageStore interface {
	SaveUsage(ctx context.Context, snap meta.UsageSnapshot) error
	LoadUsage(ctx context.Context) (*meta.UsageSnapshot, error)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Root       string
	Convention naming.Convention
	Filter     fswalk.Filter
	Limits     Limits
	Store      UsageStore
	Events     notify.Publisher
	Logger     *zap.Logger
}

// Tracker holds usage counters per scope. Incremental updates and full
// rescans share one lock but are not otherwise coordinated, so counters are
// approximate between rescans.
type Tracker struct {
	root       string
	convention naming.Convention
	filter     fswalk.Filter
	limits     Limits
	store      UsageStore
	events     notify.Publisher
	logger     *zap.Logger

	mu      sync.Mutex
	usage   map[string]meta.ScopeUsage
	scanned time.Time
}

func NewTracker(cfg TrackerConfig) *Tracker {
	events := cfg.Events
	if events == nil {
		events = notify.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		root:       cfg.Root,
		convention: cfg.Convention,
		filter:     cfg.Filter,
		limits:     cfg.Limits,
		store:      cfg.Store,
		events:     events,
		logger:     logger,
		usage:      make(map[string]meta.ScopeUsage),
	}
}

// scopeKeys returns the scopes a file at rel is charged to.
func (t *Tracker) scopeKeys(rel string) []string {
	d := naming.Parse(t.convention, rel)
	keys := []string{ScopeGlobal}
	if d.Source != "" {
		keys = append(keys, SourceKey(d.Source))
	}
	if d.Symbol != "" {
		keys = append(keys, SymbolKey(d.Symbol))
	}
	if d.EventType != "" {
		keys = append(keys, EventTypeKey(d.EventType))
	}
	return keys
}

func (t *Tracker) relPath(p string) string {
	if filepath.IsAbs(p) && t.root != "" {
		if rel, err := filepath.Rel(t.root, p); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(p)
}

// RecordUsage charges one file of the given size to every scope its path
// resolves to.
func (t *Tracker) RecordUsage(path string, bytes int64) {
	t.apply(path, bytes, 1)
}

// ReleaseUsage undoes RecordUsage for a file that was deleted or moved.
// Counters never go below zero.
func (t *Tracker) ReleaseUsage(path string, bytes int64) {
	t.apply(path, -bytes, -1)
}

func (t *Tracker) apply(path string, bytes, files int64) {
	keys := t.scopeKeys(t.relPath(path))
	t.mu.Lock()
	for _, k := range keys {
		u := t.usage[k]
		u.Bytes = max(u.Bytes+bytes, 0)
		u.Files = max(u.Files+files, 0)
		t.usage[k] = u
	}
	t.mu.Unlock()
	t.updateGauges(keys...)
}

// Usage returns the current counters for one scope key.
func (t *Tracker) Usage(scope string) meta.ScopeUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[scope]
}

// CheckQuota decides whether a write of additionalBytes may proceed. Scopes
// are checked global, source, symbol, event type; the first one over its
// limit decides.
func (t *Tracker) CheckQuota(symbol, source, eventType string, additionalBytes int64) Decision {
	var candidates []Limit
	if t.limits.Global != nil {
		candidates = append(candidates, *t.limits.Global)
	}
	if source != "" {
		if l, ok := t.limits.Sources[SourceKey(source)]; ok {
			candidates = append(candidates, l)
		}
	}
	if symbol != "" {
		if l, ok := t.limits.Symbols[SymbolKey(symbol)]; ok {
			candidates = append(candidates, l)
		}
	}
	if eventType != "" {
		if l, ok := t.limits.EventTypes[EventTypeKey(eventType)]; ok {
			candidates = append(candidates, l)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lim := range candidates {
		u := t.usage[lim.Scope]
		if !exceeds(lim, u, additionalBytes) {
			continue
		}
		d := t.decide(lim, u, additionalBytes)
		if !d.IsAllowed {
			metrics.QuotaDenials.WithLabelValues(lim.Scope).Inc()
		}
		t.logger.Warn("quota exceeded",
			zap.String("scope", lim.Scope),
			zap.String("policy", lim.Policy.String()),
			zap.Int64("bytes", u.Bytes),
			zap.Int64("additional", additionalBytes),
			zap.Bool("allowed", d.IsAllowed),
		)
		return d
	}
	return Decision{IsAllowed: true}
}

func exceeds(lim Limit, u meta.ScopeUsage, additional int64) bool {
	if lim.MaxBytes > 0 && u.Bytes+additional > lim.MaxBytes {
		return true
	}
	return lim.MaxFiles > 0 && u.Files >= lim.MaxFiles
}

func percent(lim Limit, u meta.ScopeUsage, additional int64) float64 {
	if lim.MaxBytes > 0 {
		return float64(u.Bytes+additional) / float64(lim.MaxBytes) * 100
	}
	if lim.MaxFiles > 0 {
		return float64(u.Files) / float64(lim.MaxFiles) * 100
	}
	return 0
}

func (t *Tracker) decide(lim Limit, u meta.ScopeUsage, additional int64) Decision {
	pct := percent(lim, u, additional)
	d := Decision{
		IsAllowed:    true,
		Scope:        lim.Scope,
		Policy:       lim.Policy.String(),
		UsagePercent: pct,
		CurrentBytes: u.Bytes,
		LimitBytes:   lim.MaxBytes,
	}
	switch lim.Policy {
	case Warn:
		d.Warning = fmt.Sprintf("quota %s at %.1f%% of limit", lim.Scope, pct)
	case SoftLimit:
		d.RequiresCleanup = true
		d.Warning = fmt.Sprintf("quota %s soft limit exceeded (%.1f%%)", lim.Scope, pct)
	case HardLimit:
		d.IsAllowed = false
		d.Warning = fmt.Sprintf("quota %s hard limit reached (%.1f%%)", lim.Scope, pct)
	case DropOldest:
		d.RequiresCleanup = true
		d.Warning = fmt.Sprintf("quota %s exceeded, oldest data must be dropped (%.1f%%)", lim.Scope, pct)
	}
	return d
}

// ScanResult summarises a full rescan.
type ScanResult struct {
	Files   int               `json:"files"`
	Bytes   int64             `json:"bytes"`
	Scopes  int               `json:"scopes"`
	Errors  []types.FileError `json:"errors,omitempty"`
	Elapsed time.Duration     `json:"elapsed"`
}

// ScanAndUpdate recomputes every counter from a walk of the root and
// replaces the in-memory usage wholesale. Unreadable files are reported and
// left out of the totals.
func (t *Tracker) ScanAndUpdate(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	files, errs, err := fswalk.Walk(ctx, t.root, t.filter)
	if err != nil {
		return nil, fmt.Errorf("walking storage root: %w", err)
	}

	usage := make(map[string]meta.ScopeUsage)
	res := &ScanResult{Errors: errs}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, err := os.Stat(filepath.Join(t.root, filepath.FromSlash(rel)))
		if err != nil {
			res.Errors = append(res.Errors, types.NewFileError(rel, types.ClassifyIOError(err), err))
			continue
		}
		for _, k := range t.scopeKeys(rel) {
			u := usage[k]
			u.Bytes += fi.Size()
			u.Files++
			usage[k] = u
		}
		res.Files++
		res.Bytes += fi.Size()
	}

	t.mu.Lock()
	stale := t.usage
	t.usage = usage
	t.scanned = time.Now().UTC()
	t.mu.Unlock()

	for k := range stale {
		if _, ok := usage[k]; !ok {
			metrics.QuotaUsageBytes.DeleteLabelValues(k)
			metrics.QuotaUsageRatio.DeleteLabelValues(k)
		}
	}
	keys := make([]string, 0, len(usage))
	for k := range usage {
		keys = append(keys, k)
	}
	t.updateGauges(keys...)

	res.Scopes = len(usage)
	res.Elapsed = time.Since(start)
	t.logger.Info("quota rescan complete",
		zap.Int("files", res.Files),
		zap.Int64("bytes", res.Bytes),
		zap.Int("scopes", res.Scopes),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (t *Tracker) limitFor(scope string) (Limit, bool) {
	if scope == ScopeGlobal && t.limits.Global != nil {
		return *t.limits.Global, true
	}
	for _, m := range []map[string]Limit{t.limits.Sources, t.limits.Symbols, t.limits.EventTypes} {
		if l, ok := m[scope]; ok {
			return l, true
		}
	}
	return Limit{}, false
}

func (t *Tracker) updateGauges(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		u := t.usage[k]
		metrics.QuotaUsageBytes.WithLabelValues(k).Set(float64(u.Bytes))
		if lim, ok := t.limitFor(k); ok && lim.MaxBytes > 0 {
			metrics.QuotaUsageRatio.WithLabelValues(k).Set(float64(u.Bytes) / float64(lim.MaxBytes))
		}
	}
}

// ScopeStatus is the usage of one configured scope against its limit.
type ScopeStatus struct {
	Scope        string  `json:"scope"`
	Bytes        int64   `json:"bytes"`
	Files        int64   `json:"files"`
	MaxBytes     int64   `json:"maxBytes,omitempty"`
	MaxFiles     int64   `json:"maxFiles,omitempty"`
	Policy       string  `json:"policy"`
	UsagePercent float64 `json:"usagePercent"`
}

// Status reports every configured scope and those currently over limit.
type Status struct {
	Scopes      []ScopeStatus `json:"scopes"`
	Violations  []ScopeStatus `json:"violations,omitempty"`
	LastScanned time.Time     `json:"lastScanned,omitempty"`
}

// GetStatus reports usage for every configured scope. A scope is a
// violation when usage is strictly above a ceiling; unlike CheckQuota a
// file count equal to the limit is not one.
func (t *Tracker) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{LastScanned: t.scanned}
	for _, lim := range t.limits.all() {
		u := t.usage[lim.Scope]
		ss := ScopeStatus{
			Scope:        lim.Scope,
			Bytes:        u.Bytes,
			Files:        u.Files,
			MaxBytes:     lim.MaxBytes,
			MaxFiles:     lim.MaxFiles,
			Policy:       lim.Policy.String(),
			UsagePercent: percent(lim, u, 0),
		}
		st.Scopes = append(st.Scopes, ss)
		if (lim.MaxBytes > 0 && u.Bytes > lim.MaxBytes) || (lim.MaxFiles > 0 && u.Files > lim.MaxFiles) {
			st.Violations = append(st.Violations, ss)
		}
	}
	sortScopes(st.Scopes)
	sortScopes(st.Violations)
	return st
}

// global first, then alphabetical
func sortScopes(s []ScopeStatus) {
	sort.Slice(s, func(i, j int) bool {
		if (s[i].Scope == ScopeGlobal) != (s[j].Scope == ScopeGlobal) {
			return s[i].Scope == ScopeGlobal
		}
		return s[i].Scope < s[j].Scope
	})
}

// Persist saves the current counters to the usage store.
func (t *Tracker) Persist(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	snap := meta.UsageSnapshot{Scopes: make(map[string]meta.ScopeUsage, len(t.usage)), TakenAt: time.Now().UTC()}
	for k, u := range t.usage {
		snap.Scopes[k] = u
	}
	t.mu.Unlock()
	if err := t.store.SaveUsage(ctx, snap); err != nil {
		return fmt.Errorf("saving quota usage: %w", err)
	}
	return nil
}

// Restore loads the last persisted counters. It reports false when nothing
// was stored.
func (t *Tracker) Restore(ctx context.Context) (bool, error) {
	if t.store == nil {
		return false, nil
	}
	snap, err := t.store.LoadUsage(ctx)
	if err != nil {
		return false, fmt.Errorf("loading quota usage: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	usage := make(map[string]meta.ScopeUsage, len(snap.Scopes))
	keys := make([]string, 0, len(snap.Scopes))
	for k, u := range snap.Scopes {
		usage[k] = u
		keys = append(keys, k)
	}
	t.mu.Lock()
	t.usage = usage
	t.scanned = snap.TakenAt
	t.mu.Unlock()
	t.updateGauges(keys...)

	t.logger.Info("quota usage restored",
		zap.Int("scopes", len(usage)),
		zap.Time("taken_at", snap.TakenAt),
	)
	return true, nil
}

// Run rescans immediately and then on every tick, persisting counters and
// publishing a notification for each violation.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Error("quota rescan error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tracker) cycle(ctx context.Context) error {
	if _, err := t.ScanAndUpdate(ctx); err != nil {
		return err
	}
	if err := t.Persist(ctx); err != nil {
		t.logger.Warn("persisting quota usage failed", zap.Error(err))
	}
	for _, v := range t.GetStatus().Violations {
		t.logger.Warn("quota violation",
			zap.String("scope", v.Scope),
			zap.Int64("bytes", v.Bytes),
			zap.Int64("max_bytes", v.MaxBytes),
			zap.String("policy", v.Policy),
		)
		ev := notify.Event{
			Type: notify.EventQuotaViolation,
			Details: map[string]any{
				"scope":     v.Scope,
				"bytes":     v.Bytes,
				"files":     v.Files,
				"max_bytes": v.MaxBytes,
				"max_files": v.MaxFiles,
				"policy":    v.Policy,
			},
		}
		if err := t.events.Publish(ev); err != nil {
			t.logger.Warn("publishing quota violation failed", zap.Error(err))
		}
	}
	return nil
}
