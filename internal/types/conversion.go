package types

// ResultKind is the portable construct a conversion produced.
type ResultKind string

const (
	ResultRoute      ResultKind = "route"
	ResultMiddleware ResultKind = "middleware"
)

// ResultStatus is the per-item outcome of a conversion.
type ResultStatus string

const (
	StatusOK     ResultStatus = "ok"
	StatusFailed ResultStatus = "failed"
)

// ConversionResult is one converted (or failed) item. Failed items stay in
// result lists so later stages can report them.
type ConversionResult struct {
	Kind        ResultKind   `json:"kind"`
	Name        string       `json:"name"`
	Content     string       `json:"content,omitempty"`
	Status      ResultStatus `json:"status"`
	ErrorDetail string       `json:"errorDetail,omitempty"`
}

// OK reports whether the item converted.
func (r ConversionResult) OK() bool { return r.Status == StatusOK }

// PartialResult is the conversion orchestrator's output.
type PartialResult struct {
	Routes      []ConversionResult `json:"routes"`
	Middlewares []ConversionResult `json:"middlewares"`
	// Manifest is the generated orchestration manifest, nil when none was produced.
	Manifest []byte   `json:"manifest,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// All returns routes followed by middlewares.
func (p PartialResult) All() []ConversionResult {
	out := make([]ConversionResult, 0, len(p.Routes)+len(p.Middlewares))
	out = append(out, p.Routes...)
	return append(out, p.Middlewares...)
}

// CountOK returns how many of results converted.
func CountOK(results []ConversionResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// MigrationOptions are the user-confirmed choices that drive conversion and
// packaging.
type MigrationOptions struct {
	ConvertHandlers       bool   `json:"convertHandlers" mapstructure:"convert_handlers"`
	ExtractPolicies       bool   `json:"extractPolicies" mapstructure:"extract_policies"`
	IncludePlatformFolder bool   `json:"includePlatformFolder" mapstructure:"include_platform_folder"`
	GenerateCompose       bool   `json:"generateCompose" mapstructure:"generate_compose"`
	ProjectName           string `json:"projectName,omitempty" mapstructure:"project_name"`
	// TargetExt is the extension used for generated routes and middlewares.
	TargetExt string `json:"targetExt,omitempty" mapstructure:"target_ext"`
}

// DefaultMigrationOptions enables every conversion.
func DefaultMigrationOptions() MigrationOptions {
	return MigrationOptions{
		ConvertHandlers: true,
		ExtractPolicies: true,
		GenerateCompose: true,
		TargetExt:       "js",
	}
}

// Ext returns the normalized generated-file extension.
func (o MigrationOptions) Ext() string {
	ext := o.TargetExt
	for len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	if ext == "" {
		return "js"
	}
	return ext
}
