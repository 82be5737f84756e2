package artifact

import (
	"context"
	"errors"
	"testing"

	"liberator/internal/config"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Get(ctx, "run-1", ArchiveName); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "run-1", ArchiveName, []byte("PK")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "run-1", ArchiveName)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "PK" {
		t.Fatalf("got %q", got)
	}
	if err := s.Put(ctx, "../escape", ArchiveName, nil); err == nil {
		t.Fatal("expected invalid key error")
	}
	if u, err := s.URL(ctx, "run-1", ArchiveName); err != nil || u != "" {
		t.Fatalf("url=%q err=%v", u, err)
	}
	if err := s.Delete(ctx, "run-1", ArchiveName); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "run-1", ArchiveName); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "run-1", ArchiveName); err != nil {
		t.Fatalf("deleting a missing object: %v", err)
	}
}

func TestMemoryStore(t *testing.T) { exercise(t, NewMemoryStore()) }

func TestDiskStore(t *testing.T) { exercise(t, NewDiskStore(t.TempDir())) }

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.ArtifactConfig{Backend: "memory"}); err != nil {
		t.Fatal(err)
	}
	if _, err := New(config.ArtifactConfig{Backend: "s3"}); err == nil {
		t.Fatal("expected incomplete s3 config to fail")
	}
	if _, err := New(config.ArtifactConfig{Backend: "ftp"}); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}
