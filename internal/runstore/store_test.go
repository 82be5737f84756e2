package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"liberator/internal/types"
)

func sampleRun(id string, created time.Time, stage types.Stage) types.PipelineRun {
	return types.PipelineRun{
		ID:        id,
		CreatedAt: created,
		UpdatedAt: created,
		Stage:     stage,
		Source:    types.NewFileSet(),
		DetectedAssets: []types.DetectedAsset{
			{Kind: types.AssetTable, Name: "users", SourcePath: "supabase/migrations/001.sql"},
		},
		Warnings: []string{"middlewares were not generated"},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, sampleRun("a", base, types.StageUploaded)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, sampleRun("b", base.Add(time.Minute), types.StageAnalyzed)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, sampleRun("a", base, types.StageExported)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != types.StageExported {
		t.Fatalf("stage = %s, want exported", got.Stage)
	}
	if len(got.DetectedAssets) != 1 || got.DetectedAssets[0].Name != "users" {
		t.Fatalf("assets not round-tripped: %+v", got.DetectedAssets)
	}
	if got.Source != nil {
		t.Fatal("source file set must not be persisted")
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "a" {
		t.Fatalf("unexpected list order: %+v", all)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := Open("sqlite:" + filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestCachedStore(t *testing.T) {
	inner := NewMemory()
	s, err := NewCached(inner, 8)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
}

func TestRebind(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	s.dialect = DialectSQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("rebind = %q", got)
	}
}

func TestOpenRejectsUnknownDSN(t *testing.T) {
	if _, err := Open("mysql://x"); err == nil {
		t.Fatal("expected error")
	}
}
