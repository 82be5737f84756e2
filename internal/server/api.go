package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"liberator/internal/archive"
	"liberator/internal/artifact"
	"liberator/internal/classify"
	"liberator/internal/config"
	"liberator/internal/convert"
	"liberator/internal/pipeline"
	"liberator/internal/redact"
	"liberator/internal/runstore"
	"liberator/internal/transfer"
	"liberator/internal/types"
)

const maxUploadBytes = 256 << 20

// API exposes pipeline runs over HTTP.
type API struct {
	runs      *pipeline.Manager
	artifacts artifact.Store
	snapshots runstore.Store
	layout    config.LayoutConfig
	secrets   []string
}

func NewAPI(runs *pipeline.Manager, artifacts artifact.Store, snapshots runstore.Store, layout config.LayoutConfig, secrets []string) *API {
	return &API{runs: runs, artifacts: artifacts, snapshots: snapshots, layout: layout, secrets: secrets}
}

// Handler returns the routed API.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", a.handleCreate)
	mux.HandleFunc("GET /api/runs/{id}", a.handleGet)
	mux.HandleFunc("DELETE /api/runs/{id}", a.handleDelete)
	mux.HandleFunc("POST /api/runs/{id}/analyze", a.handleAnalyze)
	mux.HandleFunc("POST /api/runs/{id}/configure", a.handleConfigure)
	mux.HandleFunc("POST /api/runs/{id}/convert", a.handleConvert)
	mux.HandleFunc("POST /api/runs/{id}/retry", a.handleRetry)
	mux.HandleFunc("POST /api/runs/{id}/restart", a.handleRestart)
	mux.HandleFunc("GET /api/runs/{id}/archive", a.handleArchive)
	mux.HandleFunc("POST /api/runs/{id}/deploy", a.handleDeploy)
	mux.HandleFunc("GET /api/runs/{id}/events", a.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: read upload: %v", types.ErrInput, err))
		return
	}
	if len(body) > maxUploadBytes {
		a.writeError(w, fmt.Errorf("%w: upload exceeds %d bytes", types.ErrInput, maxUploadBytes))
		return
	}
	set, err := archive.ReadZip(bytes.NewReader(body), int64(len(body)), archive.ReadOptions{
		IgnoreDirs:     a.layout.IgnoreDirs,
		StripSingleDir: a.layout.StripSingleDir,
		MaxFileBytes:   a.layout.MaxFileBytes,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	c, err := a.runs.Start(set)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID(), "stage": c.Stage(), "files": set.Len()})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c, ok := a.runs.Get(id); ok {
		writeJSON(w, http.StatusOK, c.Snapshot())
		return
	}
	if a.snapshots != nil {
		run, err := a.snapshots.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, runstore.ErrNotFound) {
			a.writeError(w, err)
			return
		}
	}
	http.Error(w, "run not found", http.StatusNotFound)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	assets, err := c.Analyze(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets, "counts": classify.Count(assets)})
}

func (a *API) handleConfigure(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	opts := types.DefaultMigrationOptions()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, fmt.Errorf("%w: decode options: %v", types.ErrInput, err))
		return
	}
	if err := c.Configure(r.Context(), opts); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) handleConvert(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	if err := c.Convert(r.Context()); err != nil {
		a.dropArchive(r.Context(), c.ID())
		if errors.Is(err, convert.ErrHandlerConversion) {
			writeJSON(w, http.StatusBadGateway, c.Snapshot())
			return
		}
		a.writeError(w, err)
		return
	}
	out, _ := c.Output()
	zipped, err := archive.Bytes(out)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.artifacts.Put(r.Context(), c.ID(), artifact.ArchiveName, zipped); err != nil {
		a.writeError(w, fmt.Errorf("store archive: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	stage, err := types.ParseStage(r.URL.Query().Get("stage"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := c.RetryFrom(r.Context(), stage); err != nil {
		a.writeError(w, err)
		return
	}
	a.dropArchive(r.Context(), c.ID())
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	c, err := a.runs.Restart(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID(), "stage": c.Stage()})
}

// handleDelete drops a live run and its stored archive. The persisted
// snapshot stays readable.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	if c.Stage() == types.StageConverting {
		a.writeError(w, pipeline.ErrBusy)
		return
	}
	a.runs.Forget(c.ID())
	a.dropArchive(r.Context(), c.ID())
	w.WriteHeader(http.StatusNoContent)
}

// dropArchive removes the stored archive of a run that no longer has an
// exported output.
func (a *API) dropArchive(ctx context.Context, id string) {
	if err := a.artifacts.Delete(ctx, id, artifact.ArchiveName); err != nil {
		log.WithField("run", id).WithError(err).Warn("removing stored archive failed")
	}
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c, ok := a.runs.Get(id); ok && c.Stage() != types.StageExported {
		http.Error(w, "archive not found", http.StatusNotFound)
		return
	}
	if u, err := a.artifacts.URL(r.Context(), id, artifact.ArchiveName); err == nil && u != "" {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	b, err := a.artifacts.Get(r.Context(), id, artifact.ArchiveName)
	if errors.Is(err, artifact.ErrNotFound) {
		http.Error(w, "archive not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	_, _ = w.Write(b)
}

type deployRequest struct {
	Target      transfer.Target      `json:"target"`
	Credentials transfer.Credentials `json:"credentials"`
}

func (a *API) handleDeploy(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controller(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		a.writeError(w, fmt.Errorf("%w: decode deploy request: %v", types.ErrInput, err))
		return
	}
	sum, err := c.Dispatch(r.Context(), req.Target, req.Credentials, nil)
	if err != nil && sum.Mode == "" {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) controller(w http.ResponseWriter, r *http.Request) (*pipeline.Controller, bool) {
	c, ok := a.runs.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
	}
	return c, ok
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInput):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, convert.ErrHandlerConversion):
		status = http.StatusBadGateway
	}
	msg := redact.Message(err.Error(), a.secrets...)
	if status == http.StatusInternalServerError {
		log.WithError(errors.New(msg)).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response failed")
	}
}
