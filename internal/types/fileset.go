package types

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInput marks input errors: rejected before any remote call and not
// retryable without correcting the input.
var ErrInput = errors.New("invalid input")

// FileSet is an ordered mapping from repo-relative, forward-slash paths to
// raw content. Insertion order is the traversal order seen by every stage.
//
// A FileSet produced by ingestion is treated as immutable: stages read from
// it and write into new sets.
type FileSet struct {
	order []string
	files map[string][]byte
}

// SourceFileSet is the ingested project tree.
type SourceFileSet = FileSet

// OutputFileSet is the packaged tree produced by the archive packager.
type OutputFileSet = FileSet

// NewFileSet returns an empty set.
func NewFileSet() *FileSet {
	return &FileSet{files: make(map[string][]byte)}
}

// NormalizePath converts p to the canonical form used as a FileSet key.
// It returns "" for paths that escape the root or are empty.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return ""
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

// Add inserts a file. Adding an existing path is an error; sets never
// silently overwrite content.
func (s *FileSet) Add(p string, content []byte) error {
	key := NormalizePath(p)
	if key == "" {
		return fmt.Errorf("%w: unsafe or empty path %q", ErrInput, p)
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	if _, exists := s.files[key]; exists {
		return fmt.Errorf("%w: duplicate path %q", ErrInput, key)
	}
	s.order = append(s.order, key)
	s.files[key] = content
	return nil
}

// Get returns the content stored at p.
func (s *FileSet) Get(p string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	b, ok := s.files[NormalizePath(p)]
	return b, ok
}

// Has reports whether p is a key of the set.
func (s *FileSet) Has(p string) bool {
	_, ok := s.Get(p)
	return ok
}

// Paths returns the keys in insertion order. The slice is a copy.
func (s *FileSet) Paths() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Len returns the number of files.
func (s *FileSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Size returns the total content size in bytes.
func (s *FileSet) Size() int64 {
	if s == nil {
		return 0
	}
	var n int64
	for _, b := range s.files {
		n += int64(len(b))
	}
	return n
}

// Each calls fn for every file in insertion order and stops at the first error.
func (s *FileSet) Each(fn func(path string, content []byte) error) error {
	if s == nil {
		return nil
	}
	for _, p := range s.order {
		if err := fn(p, s.files[p]); err != nil {
			return err
		}
	}
	return nil
}

// HasPathPrefix reports whether p lies under dir (p == dir counts).
func HasPathPrefix(p, dir string) bool {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
