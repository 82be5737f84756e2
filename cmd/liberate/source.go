package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"liberator/internal/archive"
	"liberator/internal/config"
	"liberator/internal/convert"
	"liberator/internal/convertsvc"
	"liberator/internal/pipeline"
	"liberator/internal/runstore"
	"liberator/internal/scan"
	"liberator/internal/transfer"
	"liberator/internal/types"
)

// loadSource ingests a project directory or a zip export of one.
func loadSource(path string, layout config.LayoutConfig) (*types.SourceFileSet, []scan.Skipped, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrInput, err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil, nil, fmt.Errorf("%w: %s is neither a directory nor a .zip archive", types.ErrInput, path)
		}
		set, err := archive.ReadZipFile(path, readOptions(layout))
		return set, nil, err
	}
	res, err := scan.Ingest(path, scan.Options{IgnoreDirs: layout.IgnoreDirs, MaxFileBytes: layout.MaxFileBytes})
	if err != nil {
		return nil, nil, err
	}
	return res.Files, res.Skipped, nil
}

func readOptions(layout config.LayoutConfig) archive.ReadOptions {
	return archive.ReadOptions{
		IgnoreDirs:     layout.IgnoreDirs,
		StripSingleDir: layout.StripSingleDir,
		MaxFileBytes:   layout.MaxFileBytes,
	}
}

// secrets lists configured credentials that must never reach stored errors.
func secrets(c config.Config) []string {
	var out []string
	for _, s := range []string{c.Convert.APIKey, c.Orchestrator.Token, c.Storage.Artifact.SecretKey} {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// pipelineDeps wires the conversion service, dispatcher and optional run
// store. The returned cleanup closes the store.
func pipelineDeps(ctx context.Context, c config.Config) (pipeline.Deps, func(), error) {
	svc, err := convertsvc.New(ctx, c.Convert)
	if err != nil {
		return pipeline.Deps{}, nil, err
	}
	deps := pipeline.Deps{
		Layout:     c.Layout,
		Converter:  convert.New(svc, c.Layout, c.Convert.Timeout),
		Dispatcher: transfer.New(c.Transfer, c.Orchestrator),
		Secrets:    secrets(c),
	}
	cleanup := func() {}
	if strings.TrimSpace(c.Storage.RunsDSN) != "" {
		store, err := runstore.Open(c.Storage.RunsDSN)
		if err != nil {
			return pipeline.Deps{}, nil, err
		}
		deps.Recorder = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("closing run store failed")
			}
		}
	}
	return deps, cleanup, nil
}
