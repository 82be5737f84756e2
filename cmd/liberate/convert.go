package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"liberator/internal/pipeline"
	"liberator/internal/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert <dir|zip>",
	Short: "Convert handlers and extract access policies, printing the results",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	addOptionFlags(convertCmd)
}

// addOptionFlags registers the migration options on cmd.
func addOptionFlags(cmd *cobra.Command) {
	d := types.DefaultMigrationOptions()
	f := cmd.Flags()
	f.Bool("handlers", d.ConvertHandlers, "convert function handlers into routes")
	f.Bool("policies", d.ExtractPolicies, "extract access policies into middlewares")
	f.Bool("include-platform", d.IncludePlatformFolder, "keep the platform folder in the output")
	f.Bool("compose", d.GenerateCompose, "generate a docker-compose manifest")
	f.String("project", d.ProjectName, "project name used in the manifest")
	f.String("ext", d.TargetExt, "extension of generated routes and middlewares")
}

func optionsFromFlags(cmd *cobra.Command) types.MigrationOptions {
	f := cmd.Flags()
	o := types.DefaultMigrationOptions()
	o.ConvertHandlers, _ = f.GetBool("handlers")
	o.ExtractPolicies, _ = f.GetBool("policies")
	o.IncludePlatformFolder, _ = f.GetBool("include-platform")
	o.GenerateCompose, _ = f.GetBool("compose")
	o.ProjectName, _ = f.GetString("project")
	o.TargetExt, _ = f.GetString("ext")
	return o
}

// liberate runs a fresh pipeline over the source at path. A hard conversion
// failure is returned together with the failed run's snapshot.
func liberate(cmd *cobra.Command, path string) (*pipeline.Controller, error) {
	set, _, err := loadSource(path, cfg.Layout)
	if err != nil {
		return nil, err
	}
	deps, cleanup, err := pipelineDeps(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctrl, err := pipeline.NewController(set, deps)
	if err != nil {
		return nil, err
	}
	return ctrl, ctrl.Liberate(cmd.Context(), optionsFromFlags(cmd))
}

type convertReport struct {
	Run         types.PipelineRun        `json:"run"`
	Routes      []types.ConversionResult `json:"routes"`
	Middlewares []types.ConversionResult `json:"middlewares"`
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctrl, err := liberate(cmd, args[0])
	if ctrl == nil {
		return err
	}
	run := ctrl.Snapshot()
	report := convertReport{Run: run, Routes: run.ConversionResults, Middlewares: run.MiddlewareResults}
	if perr := emit(cmd.OutOrStdout(), report, func(w io.Writer) { printConvert(w, run) }); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func printConvert(w io.Writer, run types.PipelineRun) {
	fmt.Fprintf(w, "run %s: %s\n", run.ID, run.Stage)
	fmt.Fprintf(w, "converted %d of %d handlers\n", types.CountOK(run.ConversionResults), len(run.ConversionResults))
	for _, r := range run.ConversionResults {
		printResult(w, r)
	}
	fmt.Fprintf(w, "generated %d middlewares\n", types.CountOK(run.MiddlewareResults))
	for _, r := range run.MiddlewareResults {
		printResult(w, r)
	}
	for _, warn := range run.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if run.LastError != "" {
		fmt.Fprintf(w, "error: %s\n", run.LastError)
	}
}

func printResult(w io.Writer, r types.ConversionResult) {
	if r.OK() {
		fmt.Fprintf(w, "  ok      %s\n", r.Name)
		return
	}
	fmt.Fprintf(w, "  failed  %s: %s\n", r.Name, r.ErrorDetail)
}
