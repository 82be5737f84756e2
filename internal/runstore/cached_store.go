package runstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"liberator/internal/types"
)

// CachedStore serves Get from an LRU in front of a slower backend.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, types.PipelineRun]
}

func NewCached(inner Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, types.PipelineRun](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{inner: inner, cache: cache}, nil
}

func (c *CachedStore) Save(ctx context.Context, run types.PipelineRun) error {
	if err := c.inner.Save(ctx, run); err != nil {
		c.cache.Remove(run.ID)
		return err
	}
	run.Source, run.Output, run.Conversion = nil, nil, nil
	c.cache.Add(run.ID, run)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (types.PipelineRun, error) {
	if run, ok := c.cache.Get(id); ok {
		return run, nil
	}
	run, err := c.inner.Get(ctx, id)
	if err != nil {
		return run, err
	}
	c.cache.Add(id, run)
	return run, nil
}

func (c *CachedStore) List(ctx context.Context) ([]types.PipelineRun, error) {
	return c.inner.List(ctx)
}

func (c *CachedStore) Close() error { return c.inner.Close() }
