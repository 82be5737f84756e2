package classify

import (
	"path"
	"strings"

	"github.com/grafana/regexp"

	"liberator/internal/config"
	"liberator/internal/types"
)

// Capture is one extracted match inside a file.
type Capture struct {
	Name   string
	Target string // table a policy applies to
	Offset int    // byte offset of the match, used for in-file ordering
}

// Rule is a declarative (matcher, extractor, constructor) triple.
type Rule struct {
	Name string
	// Match selects the files the rule applies to.
	Match func(path string) bool
	// Extract returns captures in the order they appear in content.
	Extract func(path string, content []byte) []Capture
	// Build turns a capture into an asset.
	Build func(path string, c Capture) types.DetectedAsset
	// ReferenceOnly rules emit an asset only when no path-template
	// function handler of the same name exists in the set, and at most once
	// per name.
	ReferenceOnly bool
}

const ident = `(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)`

var (
	reTable = regexp.MustCompile(`(?i)\bcreate\s+(?:(?:global\s+|local\s+)?(?:temporary|temp)\s+|unlogged\s+)?table\s+(?:if\s+not\s+exists\s+)?(` +
		ident + `(?:\s*\.\s*` + ident + `)?)`)
	rePolicy = regexp.MustCompile(`(?i)\bcreate\s+policy\s+(` + ident + `)\s+on\s+(` +
		ident + `(?:\s*\.\s*` + ident + `)?)`)
	reFunctionBlock = regexp.MustCompile(`(?m)^[ \t]*\[[ \t]*functions\.(?:"([^"]+)"|([A-Za-z0-9_-]+))[ \t]*\]`)

	reLineComment  = regexp.MustCompile(`--[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// DefaultRules returns the rule table for the given platform layout.
// Order matters only for assets sharing an in-file offset, which cannot
// happen across distinct statements.
func DefaultRules(layout config.LayoutConfig) []Rule {
	return []Rule{
		functionHandlerRule(layout),
		tableRule(layout),
		policyRule(layout),
		configReferenceRule(layout),
	}
}

func functionHandlerRule(layout config.LayoutConfig) Rule {
	root := layout.FunctionsRoot()
	return Rule{
		Name: "function-handler",
		Match: func(p string) bool {
			_, ok := handlerName(p, root, layout.EntryFile)
			return ok
		},
		Extract: func(p string, _ []byte) []Capture {
			name, _ := handlerName(p, root, layout.EntryFile)
			return []Capture{{Name: name}}
		},
		Build: func(p string, c Capture) types.DetectedAsset {
			return types.DetectedAsset{Kind: types.AssetFunctionHandler, Name: c.Name, SourcePath: p}
		},
	}
}

func tableRule(layout config.LayoutConfig) Rule {
	return Rule{
		Name:  "migration-table",
		Match: migrationMatcher(layout),
		Extract: func(_ string, content []byte) []Capture {
			text := maskComments(content)
			var out []Capture
			for _, m := range reTable.FindAllSubmatchIndex(text, -1) {
				out = append(out, Capture{Name: unqualify(string(text[m[2]:m[3]])), Offset: m[0]})
			}
			return out
		},
		Build: func(p string, c Capture) types.DetectedAsset {
			return types.DetectedAsset{Kind: types.AssetTable, Name: c.Name, SourcePath: p}
		},
	}
}

func policyRule(layout config.LayoutConfig) Rule {
	return Rule{
		Name:  "migration-policy",
		Match: migrationMatcher(layout),
		Extract: func(_ string, content []byte) []Capture {
			text := maskComments(content)
			var out []Capture
			for _, m := range rePolicy.FindAllSubmatchIndex(text, -1) {
				out = append(out, Capture{
					Name:   unquote(string(text[m[2]:m[3]])),
					Target: unqualify(string(text[m[4]:m[5]])),
					Offset: m[0],
				})
			}
			return out
		},
		Build: func(p string, c Capture) types.DetectedAsset {
			return types.DetectedAsset{Kind: types.AssetAccessPolicy, Name: c.Target + ": " + c.Name, SourcePath: p}
		},
	}
}

func configReferenceRule(layout config.LayoutConfig) Rule {
	cfgPath := layout.ConfigPath()
	root := layout.FunctionsRoot()
	return Rule{
		Name:  "config-function-reference",
		Match: func(p string) bool { return p == cfgPath },
		Extract: func(_ string, content []byte) []Capture {
			var out []Capture
			for _, m := range reFunctionBlock.FindAllSubmatchIndex(content, -1) {
				name := ""
				if m[2] >= 0 {
					name = string(content[m[2]:m[3]])
				} else if m[4] >= 0 {
					name = string(content[m[4]:m[5]])
				}
				if name = strings.TrimSpace(name); name != "" {
					out = append(out, Capture{Name: name, Offset: m[0]})
				}
			}
			return out
		},
		Build: func(_ string, c Capture) types.DetectedAsset {
			// The handler file is expected here but is not part of the set.
			return types.DetectedAsset{
				Kind:       types.AssetFunctionHandler,
				Name:       c.Name,
				SourcePath: path.Join(root, c.Name, layout.EntryFile),
				Details:    types.DetailsReferencedInConfig,
			}
		},
		ReferenceOnly: true,
	}
}

// handlerName matches <root>/<name>/<entry> exactly.
func handlerName(p, root, entry string) (string, bool) {
	if root == "" || !strings.HasPrefix(p, root+"/") {
		return "", false
	}
	rest := strings.Split(strings.TrimPrefix(p, root+"/"), "/")
	if len(rest) != 2 || rest[0] == "" || rest[1] != entry {
		return "", false
	}
	return rest[0], true
}

func migrationMatcher(layout config.LayoutConfig) func(string) bool {
	root := layout.MigrationsRoot()
	exts := make(map[string]struct{}, len(layout.MigrationExts))
	for _, e := range layout.MigrationExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return func(p string) bool {
		if p == root || !types.HasPathPrefix(p, root) {
			return false
		}
		_, ok := exts[strings.ToLower(path.Ext(p))]
		return ok
	}
}

// maskComments blanks SQL comments while keeping byte offsets stable.
func maskComments(content []byte) []byte {
	out := append([]byte(nil), content...)
	blank := func(b []byte) []byte {
		r := make([]byte, len(b))
		for i, c := range b {
			if c == '\n' {
				r[i] = '\n'
			} else {
				r[i] = ' '
			}
		}
		return r
	}
	out = reBlockComment.ReplaceAllFunc(out, blank)
	return reLineComment.ReplaceAllFunc(out, blank)
}

// unqualify strips a schema prefix and identifier quotes.
func unqualify(id string) string {
	parts := strings.Split(id, ".")
	return unquote(strings.TrimSpace(parts[len(parts)-1]))
}

func unquote(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 2 && id[0] == '"' && id[len(id)-1] == '"' {
		return id[1 : len(id)-1]
	}
	return id
}
