package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"liberator/internal/artifact"
	"liberator/internal/convert"
	"liberator/internal/convertsvc"
	"liberator/internal/pipeline"
	"liberator/internal/runstore"
	"liberator/internal/server"
	"liberator/internal/transfer"
)

const snapshotCacheEntries = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	if err := v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := convertsvc.New(ctx, cfg.Convert)
	if err != nil {
		return err
	}
	store, err := runstore.Open(cfg.Storage.RunsDSN)
	if err != nil {
		return err
	}
	snapshots, err := runstore.NewCached(store, snapshotCacheEntries)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			log.WithError(err).Warn("closing run store failed")
		}
	}()
	artifacts, err := artifact.New(cfg.Storage.Artifact)
	if err != nil {
		return err
	}

	manager := pipeline.NewManager(pipeline.Deps{
		Layout:     cfg.Layout,
		Converter:  convert.New(svc, cfg.Layout, cfg.Convert.Timeout),
		Dispatcher: transfer.New(cfg.Transfer, cfg.Orchestrator),
		Recorder:   snapshots,
		Secrets:    secrets(cfg),
	})
	api := server.NewAPI(manager, artifacts, snapshots, cfg.Layout, secrets(cfg))
	srv := server.New(cfg.Server.Addr, api.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exiting")
	return nil
}
