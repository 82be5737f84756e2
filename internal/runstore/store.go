package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"liberator/internal/types"
)

var ErrNotFound = errors.New("run not found")

// Store persists PipelineRun snapshots. Source and output file sets are
// not part of a snapshot.
type Store interface {
	Save(ctx context.Context, run types.PipelineRun) error
	Get(ctx context.Context, id string) (types.PipelineRun, error)
	List(ctx context.Context) ([]types.PipelineRun, error)
	Close() error
}

// Open picks a backend from dsn:
//
//	""                     in-memory
//	sqlite:<path>          modernc sqlite file
//	postgres://… / postgresql://…  postgres via pgx
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQL(DialectSQLite, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenSQL(DialectPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported runs dsn %q", dsn)
	}
}

type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]types.PipelineRun
}

func NewMemory() *MemoryStore {
	return &MemoryStore{runs: make(map[string]types.PipelineRun)}
}

func (m *MemoryStore) Save(_ context.Context, run types.PipelineRun) error {
	run.Source, run.Output, run.Conversion = nil, nil, nil
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (types.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[strings.TrimSpace(id)]
	if !ok {
		return types.PipelineRun{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) List(_ context.Context) ([]types.PipelineRun, error) {
	m.mu.RLock()
	out := make([]types.PipelineRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sortRuns(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// sortRuns orders newest first, ties broken by id.
func sortRuns(runs []types.PipelineRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
