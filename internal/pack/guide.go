package pack

import (
	"fmt"
	"strings"

	"liberator/internal/classify"
	"liberator/internal/types"
)

// MiddlewaresNotGenerated is the guide sentence used whenever no access
// middleware made it into the archive.
const MiddlewaresNotGenerated = "Security middlewares were not generated."

// ManualMigrationLine is the guide entry for a failed conversion item.
func ManualMigrationLine(name string) string {
	return fmt.Sprintf("- not converted, manual migration required: `%s`", name)
}

var kindTitles = map[types.AssetKind]string{
	types.AssetFunctionHandler: "Function handlers",
	types.AssetTable:           "Tables",
	types.AssetAccessPolicy:    "Access policies",
}

// Guide renders MIGRATION_GUIDE.md. It is built from counts and item names
// only; no source or converted content ends up in it.
func Guide(assets []types.DetectedAsset, res types.PartialResult, opts types.MigrationOptions) []byte {
	counts := classify.Count(assets)
	var b strings.Builder

	title := "Migration guide"
	if opts.ProjectName != "" {
		title += ": " + opts.ProjectName
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## Detected platform constructs\n\n")
	b.WriteString("| Kind | Count |\n|------|-------|\n")
	for _, k := range types.AssetKinds {
		fmt.Fprintf(&b, "| %s | %d |\n", kindTitles[k], counts.ByKind[k])
	}
	b.WriteString("\n")

	b.WriteString("## Backend routes\n\n")
	switch {
	case !opts.ConvertHandlers:
		b.WriteString("Handler conversion was disabled; no routes were generated.\n\n")
	default:
		fmt.Fprintf(&b, "Converted %d of %d handlers into `backend/routes/`.\n\n", types.CountOK(res.Routes), len(res.Routes))
	}

	b.WriteString("## Access middleware\n\n")
	okMW := types.CountOK(res.Middlewares)
	switch {
	case okMW > 0:
		fmt.Fprintf(&b, "Generated %d of %d middlewares into `backend/middleware/`.\n\n", okMW, len(res.Middlewares))
	case !opts.ExtractPolicies:
		b.WriteString(MiddlewaresNotGenerated + " Policy extraction was disabled.\n\n")
	default:
		b.WriteString(MiddlewaresNotGenerated + " Review the access policies listed above and enforce them manually.\n\n")
	}

	var failed []string
	for _, r := range res.All() {
		if !r.OK() {
			failed = append(failed, ManualMigrationLine(r.Name))
		}
	}
	if len(failed) > 0 {
		b.WriteString("## Manual migration required\n\n")
		b.WriteString(strings.Join(failed, "\n"))
		b.WriteString("\n\n")
	}

	var configOnly []string
	for _, a := range assets {
		if a.IsConfigReference() {
			configOnly = append(configOnly, fmt.Sprintf("- declared in config without handler source: `%s`", a.Name))
		}
	}
	if len(configOnly) > 0 {
		b.WriteString("## Config-only functions\n\n")
		b.WriteString(strings.Join(configOnly, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("## Next steps\n\n")
	b.WriteString("1. Install backend dependencies and mount the routes in your server entry point.\n")
	b.WriteString("2. Point the frontend at the new backend instead of the hosted platform client.\n")
	if len(res.Manifest) > 0 {
		b.WriteString("3. Run `docker compose up` to start the backend, frontend and database.\n")
	}
	return []byte(b.String())
}
