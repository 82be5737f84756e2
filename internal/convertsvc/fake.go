package convertsvc

import (
	"context"
	"sync"
)

// Fake is an in-process Service for tests and dry runs. Nil funcs answer
// every item with a deterministic stub.
type Fake struct {
	Handlers func(ctx context.Context, items []Item) ([]ItemResult, error)
	Policies func(ctx context.Context, items []Item) ([]ItemResult, error)

	mu    sync.Mutex
	calls map[Operation]int
	sent  map[Operation][]Item
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) ConvertHandlers(ctx context.Context, items []Item) ([]ItemResult, error) {
	f.record(OpConvertHandlers, items)
	if f.Handlers != nil {
		return f.Handlers(ctx, items)
	}
	out := make([]ItemResult, 0, len(items))
	for _, it := range items {
		out = append(out, ItemResult{Name: it.Name, Content: "// route " + it.Name + "\nmodule.exports = require('express').Router();\n"})
	}
	return out, nil
}

func (f *Fake) ExtractPolicies(ctx context.Context, items []Item) ([]ItemResult, error) {
	f.record(OpExtractPolicies, items)
	if f.Policies != nil {
		return f.Policies(ctx, items)
	}
	return nil, nil
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Sent returns every item passed to op across calls.
func (f *Fake) Sent(op Operation) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.sent[op]...)
}

func (f *Fake) record(op Operation, items []Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[Operation]int{}
		f.sent = map[Operation][]Item{}
	}
	f.calls[op]++
	f.sent[op] = append(f.sent[op], items...)
}
