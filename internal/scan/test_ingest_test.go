package scan

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"liberator/internal/types"
)

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestIngest_OrderAndIgnores(t *testing.T) {
	root := t.TempDir()
	write(t, root, "src/main.ts", "console.log(1)")
	write(t, root, "index.html", "<html></html>")
	write(t, root, "node_modules/x/index.js", "ignored")
	write(t, root, "supabase/functions/hello/index.ts", "serve()")
	write(t, root, ".git/HEAD", "ref")

	res, err := Ingest(root, Options{IgnoreDirs: []string{"node_modules", ".git"}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	got := res.Files.Paths()
	want := []string{"index.html", "src/main.ts", "supabase/functions/hello/index.ts"}
	if !slices.Equal(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	b, ok := res.Files.Get("supabase/functions/hello/index.ts")
	if !ok || string(b) != "serve()" {
		t.Fatalf("content mismatch: %q ok=%v", b, ok)
	}
}

func TestIngest_SkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "small.txt", "ok")
	write(t, root, "large.bin", string(make([]byte, 128)))

	res, err := Ingest(root, Options{MaxFileBytes: 64})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Files.Has("large.bin") {
		t.Fatalf("large.bin should be skipped")
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Path != "large.bin" {
		t.Fatalf("skipped=%+v", res.Skipped)
	}
}

func TestIngest_EmptyIsInputError(t *testing.T) {
	root := t.TempDir()
	write(t, root, "node_modules/a.js", "x")
	_, err := Ingest(root, Options{IgnoreDirs: []string{"node_modules"}})
	if !errors.Is(err, types.ErrInput) {
		t.Fatalf("want ErrInput, got %v", err)
	}
}
