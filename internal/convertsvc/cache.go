package convertsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache remembers successful per-item results keyed by operation, name and
// content hash, so a retried run only sends the items that missed.
// Failed items are never cached.
func Cache(size int) (Middleware, error) {
	store, err := lru.New[string, ItemResult](size)
	if err != nil {
		return nil, err
	}
	return func(next Service) Service {
		c := &caching{next: next, store: store}
		return &funcService{name: next.Name(), call: c.call}
	}, nil
}

type caching struct {
	next  Service
	store *lru.Cache[string, ItemResult]
}

func cacheKey(op Operation, it Item) string {
	sum := sha256.Sum256([]byte(it.Content))
	return string(op) + "|" + it.Name + "|" + hex.EncodeToString(sum[:])
}

func (c *caching) call(ctx context.Context, op Operation, items []Item) ([]ItemResult, error) {
	// Policy extraction is a whole-batch transform; result names are chosen
	// by the service, so only per-name handler conversions are cacheable.
	if op != OpConvertHandlers {
		return Call(ctx, c.next, op, items)
	}

	hits := make(map[string]ItemResult, len(items))
	misses := make([]Item, 0, len(items))
	for _, it := range items {
		if r, ok := c.store.Get(cacheKey(op, it)); ok {
			hits[it.Name] = r
			continue
		}
		misses = append(misses, it)
	}

	var fresh []ItemResult
	if len(misses) > 0 {
		var err error
		fresh, err = Call(ctx, c.next, op, misses)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]Item, len(misses))
		for _, it := range misses {
			byName[it.Name] = it
		}
		for _, r := range fresh {
			if it, ok := byName[r.Name]; ok && r.Error == "" {
				c.store.Add(cacheKey(op, it), r)
			}
		}
	}

	out := make([]ItemResult, 0, len(items))
	for _, it := range items {
		if r, ok := hits[it.Name]; ok {
			out = append(out, r)
		}
	}
	return append(out, fresh...), nil
}
