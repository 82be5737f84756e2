package classify

import (
	"sort"

	"liberator/internal/config"
	"liberator/internal/types"
)

// Classifier turns a file set into detected assets. It is deterministic,
// total and side-effect free.
type Classifier struct {
	rules []Rule
}

// New returns a classifier with the default rule table for layout.
func New(layout config.LayoutConfig) *Classifier {
	return &Classifier{rules: DefaultRules(layout)}
}

// NewWithRules returns a classifier evaluating the given rules.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

type hit struct {
	rule    int
	capture Capture
}

// Classify applies every rule to every file and returns assets in file
// traversal order, then in-file match order. Repeated (kind, name) pairs
// from path-template and migration rules are kept: each occurrence is a
// separate asset.
func (c *Classifier) Classify(set *types.SourceFileSet) []types.DetectedAsset {
	if c == nil || set == nil {
		return nil
	}

	perFile := make(map[string][]hit, set.Len())
	declared := make(map[string]struct{})
	_ = set.Each(func(p string, content []byte) error {
		var hits []hit
		for i, r := range c.rules {
			if !r.Match(p) {
				continue
			}
			for _, cp := range r.Extract(p, content) {
				hits = append(hits, hit{rule: i, capture: cp})
				if !r.ReferenceOnly {
					if a := r.Build(p, cp); a.Kind == types.AssetFunctionHandler {
						declared[a.Name] = struct{}{}
					}
				}
			}
		}
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].capture.Offset < hits[b].capture.Offset })
		perFile[p] = hits
		return nil
	})

	out := make([]types.DetectedAsset, 0)
	referenced := make(map[string]struct{})
	for _, p := range set.Paths() {
		for _, h := range perFile[p] {
			r := c.rules[h.rule]
			a := r.Build(p, h.capture)
			if r.ReferenceOnly {
				if _, ok := declared[a.Name]; ok {
					continue
				}
				if _, ok := referenced[a.Name]; ok {
					continue
				}
				referenced[a.Name] = struct{}{}
			}
			out = append(out, a)
		}
	}
	return out
}

// Counts tallies assets per kind. Config-only function references are
// counted as function handlers and also reported in ConfigOnly.
type Counts struct {
	ByKind     map[types.AssetKind]int `json:"byKind"`
	ConfigOnly int                     `json:"configOnly"`
	Total      int                     `json:"total"`
}

// Count returns per-kind counts for assets.
func Count(assets []types.DetectedAsset) Counts {
	c := Counts{ByKind: make(map[types.AssetKind]int, len(types.AssetKinds))}
	for _, k := range types.AssetKinds {
		c.ByKind[k] = 0
	}
	for _, a := range assets {
		kind := a.Kind
		if a.IsConfigReference() {
			kind = types.AssetFunctionHandler
			c.ConfigOnly++
		}
		c.ByKind[kind]++
		c.Total++
	}
	return c
}

// MigrationMatcher reports whether a path is a migration script for layout.
func MigrationMatcher(layout config.LayoutConfig) func(string) bool {
	return migrationMatcher(layout)
}
