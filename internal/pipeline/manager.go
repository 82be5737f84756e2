package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"liberator/internal/types"
)

// Manager keeps the live controllers of a process. Each run stays owned by
// its own controller; the manager only indexes them.
type Manager struct {
	deps Deps

	mu   sync.RWMutex
	runs map[string]*Controller
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, runs: make(map[string]*Controller)}
}

// Start ingests set as a new run.
func (m *Manager) Start(set *types.SourceFileSet) (*Controller, error) {
	c, err := NewController(set, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.runs[c.ID()] = c
	m.mu.Unlock()
	return c, nil
}

// Restart begins a new run from the source set of an existing one.
func (m *Manager) Restart(id string) (*Controller, error) {
	prev, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown run %q", types.ErrInput, id)
	}
	prev.mu.Lock()
	set := prev.run.Source
	prev.mu.Unlock()
	return m.Start(set)
}

// Get returns the controller for id.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.runs[strings.TrimSpace(id)]
	return c, ok
}

// Forget drops a run from the index.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.runs, strings.TrimSpace(id))
	m.mu.Unlock()
}
