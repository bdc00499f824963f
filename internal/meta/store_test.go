package meta

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gftdcojp/tickstore/internal/types"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "tickstore-meta-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := NewBoltStore(tmpFile.Name(), true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUsageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap, err := store.LoadUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot on a fresh store, got %+v", snap)
	}

	want := UsageSnapshot{
		Scopes: map[string]ScopeUsage{
			"global":        {Bytes: 1 << 20, Files: 3},
			"source:alpaca": {Bytes: 512, Files: 1},
		},
		TakenAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveUsage(ctx, want); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}

	got, err := store.LoadUsage(ctx)
	if err != nil {
		t.Fatalf("LoadUsage failed: %v", err)
	}
	if got.Scopes["global"] != want.Scopes["global"] || got.Scopes["source:alpaca"] != want.Scopes["source:alpaca"] {
		t.Errorf("scopes = %+v, want %+v", got.Scopes, want.Scopes)
	}
	if !got.TakenAt.Equal(want.TakenAt) {
		t.Errorf("TakenAt = %v, want %v", got.TakenAt, want.TakenAt)
	}
}

func TestActionLogNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, p := range []string{"hot/a.jsonl", "hot/b.jsonl", "hot/c.jsonl"} {
		id, err := store.RecordAction(ctx, ActionRecord{
			Path:     p,
			Kind:     "TierMigration",
			FromTier: types.TierHot,
			ToTier:   types.TierWarm,
		})
		if err != nil {
			t.Fatalf("RecordAction failed: %v", err)
		}
		if id != uint64(i+1) {
			t.Errorf("action %d got id %d", i, id)
		}
	}

	recs, err := store.ListActions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(recs))
	}
	if recs[0].Path != "hot/c.jsonl" || recs[1].Path != "hot/b.jsonl" {
		t.Errorf("unexpected order: %s, %s", recs[0].Path, recs[1].Path)
	}
	if recs[0].ToTier != types.TierWarm {
		t.Errorf("ToTier = %v, want warm", recs[0].ToTier)
	}
	if recs[0].ExecutedAt.IsZero() {
		t.Error("ExecutedAt should default to now")
	}
}

func TestPruneActions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.RecordAction(ctx, ActionRecord{Path: "x", Kind: "Delete"}); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := store.PruneActions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	recs, _ := store.ListActions(ctx, 0)
	if len(recs) != 2 || recs[0].ID != 5 || recs[1].ID != 4 {
		t.Errorf("unexpected remaining actions: %+v", recs)
	}

	removed, err = store.PruneActions(ctx, 10)
	if err != nil || removed != 0 {
		t.Errorf("prune under limit: removed=%d err=%v", removed, err)
	}
}

func TestLastRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if rec, err := store.LastRun(ctx, "rebuild"); err != nil || rec != nil {
		t.Fatalf("expected no run, got %+v, %v", rec, err)
	}

	base := time.Now().UTC()
	store.RecordRun(ctx, RunRecord{Kind: "rebuild", StartedAt: base, Files: 10, Success: true})
	store.RecordRun(ctx, RunRecord{Kind: "rebuild", StartedAt: base.Add(time.Minute), Files: 12, Errors: 1})
	store.RecordRun(ctx, RunRecord{Kind: "lifecycle", StartedAt: base.Add(2 * time.Minute), Files: 99})

	rec, err := store.LastRun(ctx, "rebuild")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Files != 12 || rec.Errors != 1 || rec.Success {
		t.Errorf("unexpected last rebuild: %+v", rec)
	}

	if err := store.RecordRun(ctx, RunRecord{}); err == nil {
		t.Error("expected error for run without kind")
	}
}

func TestReopenKeepsState(t *testing.T) {
	path := t.TempDir() + "/meta.db"
	store, err := NewBoltStore(path, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store.RecordAction(context.Background(), ActionRecord{Path: "cold/z.jsonl", Kind: "Delete"})
	store.Close()

	store, err = NewBoltStore(path, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	recs, err := store.ListActions(context.Background(), 0)
	if err != nil || len(recs) != 1 || recs[0].Path != "cold/z.jsonl" {
		t.Fatalf("action log not persisted: %+v, %v", recs, err)
	}
	if err := store.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
