package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"liberator/internal/config"
)

var ErrNotFound = errors.New("artifact not found")

// ArchiveName is the object name of a run's packaged archive.
const ArchiveName = "liberated.zip"

// Store keeps exported archives keyed by run id and object name.
type Store interface {
	Put(ctx context.Context, runID, name string, content []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)
	// URL returns a time-limited download URL, or "" when the backend
	// cannot serve objects directly.
	URL(ctx context.Context, runID, name string) (string, error)
	// Delete removes an object. A missing object is not an error.
	Delete(ctx context.Context, runID, name string) error
}

// New builds the configured backend.
func New(cfg config.ArtifactConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "disk":
		return NewDiskStore(cfg.DiskRoot), nil
	case "s3":
		if !cfg.CanUseS3() {
			return nil, fmt.Errorf("s3 artifact backend needs endpoint, access key, secret key and bucket")
		}
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// objectKey validates runID and name and joins them.
func objectKey(runID, name string) (string, error) {
	runID = strings.TrimSpace(runID)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if name == "" {
		return "", fmt.Errorf("object name is required")
	}
	if strings.Contains(runID, "/") || strings.Contains(runID, "..") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid object key %s/%s", runID, name)
	}
	return runID + "/" + name, nil
}
