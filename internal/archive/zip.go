package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"

	"liberator/internal/types"
)

// epoch is stamped on every entry so identical sets produce identical bytes.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReadOptions controls how a zip container is unpacked.
type ReadOptions struct {
	// IgnoreDirs are directory base names whose entries are dropped.
	IgnoreDirs []string
	// StripSingleDir removes a top-level directory shared by every entry.
	StripSingleDir bool
	// MaxFileBytes drops entries larger than this many bytes; <= 0 disables it.
	MaxFileBytes int64
}

// ReadZip unpacks a zip container into a SourceFileSet in entry order.
func ReadZip(r io.ReaderAt, size int64, opts ReadOptions) (*types.SourceFileSet, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", types.ErrInput, err)
	}

	type entry struct {
		name string
		file *zip.File
	}
	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := types.NormalizePath(f.Name)
		if name == "" {
			log.WithField("file", f.Name).Warn("archive: skipping unsafe entry")
			continue
		}
		entries = append(entries, entry{name: name, file: f})
	}

	prefix := ""
	if opts.StripSingleDir {
		prefix = commonTopDir(entries, func(e entry) string { return e.name })
	}

	ignore := make(map[string]struct{}, len(opts.IgnoreDirs))
	for _, d := range opts.IgnoreDirs {
		ignore[d] = struct{}{}
	}

	set := types.NewFileSet()
	for _, e := range entries {
		rel := strings.TrimPrefix(e.name, prefix)
		if rel == "" || inIgnoredDir(rel, ignore) {
			continue
		}
		if opts.MaxFileBytes > 0 && int64(e.file.UncompressedSize64) > opts.MaxFileBytes {
			log.WithField("file", rel).Debug("archive: skipping entry over size limit")
			continue
		}
		content, err := readEntry(e.file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.file.Name, err)
		}
		if err := set.Add(rel, content); err != nil {
			return nil, err
		}
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: archive contains no files", types.ErrInput)
	}
	return set, nil
}

// ReadZipFile opens path and unpacks it with ReadZip.
func ReadZipFile(path string, opts ReadOptions) (*types.SourceFileSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInput, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ReadZip(f, info.Size(), opts)
}

// WriteZip writes set as a deterministic zip container.
func WriteZip(w io.Writer, set *types.FileSet) error {
	zw := zip.NewWriter(w)
	err := set.Each(func(p string, content []byte) error {
		hdr := &zip.FileHeader{Name: p, Method: zip.Deflate, Modified: epoch}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		_, err = fw.Write(content)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("write zip: %w", err)
	}
	return zw.Close()
}

// Bytes returns the zip encoding of set.
func Bytes(set *types.FileSet) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteZip(&buf, set); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// commonTopDir returns "dir/" when every name sits under the same top-level
// directory, otherwise "".
func commonTopDir[T any](items []T, name func(T) string) string {
	top := ""
	for _, it := range items {
		n := name(it)
		i := strings.IndexByte(n, '/')
		if i <= 0 {
			return ""
		}
		if top == "" {
			top = n[:i]
		} else if n[:i] != top {
			return ""
		}
	}
	if top == "" {
		return ""
	}
	return top + "/"
}

func inIgnoredDir(rel string, ignore map[string]struct{}) bool {
	if len(ignore) == 0 {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if _, ok := ignore[p]; ok {
			return true
		}
	}
	return false
}
