package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"liberator/internal/safeio"
	"liberator/internal/types"
)

// Options controls directory ingestion.
type Options struct {
	// IgnoreDirs are directory base names skipped at any depth.
	IgnoreDirs []string
	// MaxFileBytes skips files larger than this many bytes; <= 0 disables it.
	MaxFileBytes int64
}

// Skipped describes a file left out of the ingested set.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the ingested set plus what was left out.
type Result struct {
	Files   *types.SourceFileSet
	Skipped []Skipped
}

// Ingest walks root and returns its files as a SourceFileSet keyed by
// repo-relative forward-slash paths, in lexical traversal order.
// An empty result is an input error.
func Ingest(root string, opts Options) (Result, error) {
	sfs, err := safeio.NewSafeFS(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrInput, err)
	}
	ignore := make(map[string]struct{}, len(opts.IgnoreDirs))
	for _, d := range opts.IgnoreDirs {
		if d = strings.TrimSpace(d); d != "" {
			ignore[d] = struct{}{}
		}
	}

	res := Result{Files: types.NewFileSet()}
	err = fs.WalkDir(sfs, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == "." {
				return walkErr
			}
			res.Skipped = append(res.Skipped, Skipped{Path: p, Reason: walkErr.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := ignore[d.Name()]; skip && p != "." {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		content, err := sfs.ReadFileLimit(filepath.FromSlash(p), opts.MaxFileBytes)
		if err != nil {
			reason := err.Error()
			if errors.Is(err, safeio.ErrTooLarge) {
				reason = "exceeds size limit"
			}
			log.WithField("file", p).Debugf("ingest: skipped: %s", reason)
			res.Skipped = append(res.Skipped, Skipped{Path: p, Reason: reason})
			return nil
		}
		return res.Files.Add(p, content)
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", root, err)
	}
	if res.Files.Len() == 0 {
		return Result{}, fmt.Errorf("%w: no files found under %s", types.ErrInput, root)
	}
	log.WithField("root", root).Debugf("ingested %d files (%d skipped)", res.Files.Len(), len(res.Skipped))
	return res, nil
}
