package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"liberator/internal/archive"
	"liberator/internal/artifact"
	"liberator/internal/types"
)

var packCmd = &cobra.Command{
	Use:   "pack <dir|zip>",
	Short: "Convert a project and write the portable archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runPack,
}

func init() {
	addOptionFlags(packCmd)
	packCmd.Flags().StringP("output", "o", artifact.ArchiveName, "archive to write")
	packCmd.Flags().Bool("upload", false, "also store the archive in the configured artifact store")
}

type packReport struct {
	RunID    string   `json:"runId"`
	Archive  string   `json:"archive"`
	Files    int      `json:"files"`
	Bytes    int      `json:"bytes"`
	Routes   string   `json:"routes"`
	URL      string   `json:"url,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func runPack(cmd *cobra.Command, args []string) error {
	ctrl, err := liberate(cmd, args[0])
	if err != nil {
		return err
	}
	out, ok := ctrl.Output()
	if !ok {
		return fmt.Errorf("run %s produced no output", ctrl.ID())
	}

	var buf bytes.Buffer
	if err := archive.WriteZip(&buf, out); err != nil {
		return err
	}
	dest, _ := cmd.Flags().GetString("output")
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	run := ctrl.Snapshot()
	report := packReport{
		RunID:    run.ID,
		Archive:  dest,
		Files:    out.Len(),
		Bytes:    buf.Len(),
		Routes:   fmt.Sprintf("%d/%d", types.CountOK(run.ConversionResults), len(run.ConversionResults)),
		Warnings: run.Warnings,
	}
	if upload, _ := cmd.Flags().GetBool("upload"); upload {
		store, err := artifact.New(cfg.Storage.Artifact)
		if err != nil {
			return err
		}
		if err := store.Put(cmd.Context(), run.ID, artifact.ArchiveName, buf.Bytes()); err != nil {
			return err
		}
		url, err := store.URL(cmd.Context(), run.ID, artifact.ArchiveName)
		if err != nil {
			return err
		}
		report.URL = url
	}

	return emit(cmd.OutOrStdout(), report, func(w io.Writer) {
		fmt.Fprintf(w, "wrote %s: %d files, %s\n", report.Archive, report.Files, humanize.Bytes(uint64(report.Bytes)))
		fmt.Fprintf(w, "converted %s handlers\n", report.Routes)
		if report.URL != "" {
			fmt.Fprintf(w, "uploaded to %s\n", report.URL)
		}
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
	})
}
