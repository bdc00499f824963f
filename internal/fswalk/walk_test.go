package fswalk

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFiles(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWalkSkipsCatalogArtifacts(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"hot/AAPL/trades/2024-01-02.jsonl",
		"hot/AAPL/trades/2024-01-02.jsonl.sha256",
		"hot/AAPL/trades/_index.json",
		"warm/AAPL/trades/2024-01-01.jsonl.gz",
		"cold/MSFT/quotes/2023-06-01.parquet",
		"_catalog/manifest.json",
		"_staging/x.jsonl",
		".trash/y.jsonl",
		"hot/README.md",
	)

	files, errs, err := Walk(context.Background(), root, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected entry errors: %v", errs)
	}
	want := []string{
		"cold/MSFT/quotes/2023-06-01.parquet",
		"hot/AAPL/trades/2024-01-02.jsonl",
		"warm/AAPL/trades/2024-01-01.jsonl.gz",
	}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("Walk = %v, want %v", files, want)
	}
}

func TestWalkExcludeAndInclude(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"hot/AAPL/trades/2024-01-02.jsonl",
		"hot/AAPL/quotes/2024-01-02.jsonl",
		"scratch/AAPL/trades/2024-01-02.jsonl",
		"hot/AAPL/bars/2024-01-02.parquet",
	)

	files, _, err := Walk(context.Background(), root, Filter{
		Include: []string{"*.jsonl"},
		Exclude: []string{"scratch", "hot/AAPL/quotes/"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"hot/AAPL/trades/2024-01-02.jsonl"}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("Walk = %v, want %v", files, want)
	}
}

func TestWalkCancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a/b.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Walk(ctx, root, Filter{}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWalkMissingRoot(t *testing.T) {
	if _, _, err := Walk(context.Background(), filepath.Join(t.TempDir(), "nope"), Filter{}); err == nil {
		t.Fatal("expected error for missing root")
	}
}
