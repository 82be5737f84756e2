package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"liberator/internal/classify"
	"liberator/internal/scan"
	"liberator/internal/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir|zip>",
	Short: "Detect platform-coupled constructs without converting anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

type scanReport struct {
	Files   int                   `json:"files"`
	Bytes   int64                 `json:"bytes"`
	Skipped []scan.Skipped        `json:"skipped,omitempty"`
	Counts  classify.Counts       `json:"counts"`
	Assets  []types.DetectedAsset `json:"assets"`
}

func runScan(cmd *cobra.Command, args []string) error {
	set, skipped, err := loadSource(args[0], cfg.Layout)
	if err != nil {
		return err
	}
	assets := classify.New(cfg.Layout).Classify(set)
	report := scanReport{
		Files:   set.Len(),
		Bytes:   set.Size(),
		Skipped: skipped,
		Counts:  classify.Count(assets),
		Assets:  assets,
	}
	return emit(cmd.OutOrStdout(), report, func(w io.Writer) { printScan(w, report) })
}

func printScan(w io.Writer, r scanReport) {
	fmt.Fprintf(w, "%d files (%s), %d skipped\n\n", r.Files, humanize.Bytes(uint64(r.Bytes)), len(r.Skipped))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSOURCE")
	for _, a := range r.Assets {
		name := a.Name
		if a.IsConfigReference() {
			name += " (config only)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Kind, name, a.SourcePath)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d handlers, %d tables, %d policies\n",
		r.Counts.ByKind[types.AssetFunctionHandler],
		r.Counts.ByKind[types.AssetTable],
		r.Counts.ByKind[types.AssetAccessPolicy])
}
