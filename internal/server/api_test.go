package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liberator/internal/archive"
	"liberator/internal/artifact"
	"liberator/internal/config"
	"liberator/internal/convert"
	"liberator/internal/convertsvc"
	"liberator/internal/pipeline"
	"liberator/internal/runstore"
	"liberator/internal/types"
)

func newTestAPI(t *testing.T, svc convertsvc.Service) (*httptest.Server, runstore.Store) {
	t.Helper()
	layout := config.Default().Layout
	snapshots := runstore.NewMemory()
	runs := pipeline.NewManager(pipeline.Deps{
		Layout:    layout,
		Converter: convert.New(svc, layout, 0),
		Recorder:  snapshots,
	})
	api := NewAPI(runs, artifact.NewMemoryStore(), snapshots, layout, nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, snapshots
}

func uploadZip(t *testing.T) []byte {
	t.Helper()
	set := types.NewFileSet()
	require.NoError(t, set.Add("repo-main/index.html", []byte("<html></html>")))
	require.NoError(t, set.Add("repo-main/supabase/functions/hello/index.ts", []byte("serve()")))
	require.NoError(t, set.Add("repo-main/supabase/migrations/001.sql", []byte("create table users (id int);")))
	b, err := archive.Bytes(set)
	require.NoError(t, err)
	return b
}

func post(t *testing.T, url, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createRun(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := post(t, srv.URL+"/api/runs", "application/zip", uploadZip(t))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAPIFullFlow(t *testing.T) {
	srv, snapshots := newTestAPI(t, &convertsvc.Fake{})
	id := createRun(t, srv)
	base := srv.URL + "/api/runs/" + id

	resp := post(t, base+"/analyze", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, base+"/configure", "application/json", []byte(`{"convertHandlers":true,"extractPolicies":false,"generateCompose":false}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, base+"/convert", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[types.PipelineRun](t, resp)
	assert.Equal(t, types.StageExported, run.Stage)
	require.Len(t, run.ConversionResults, 1)

	archiveResp, err := http.Get(base + "/archive")
	require.NoError(t, err)
	defer archiveResp.Body.Close()
	require.Equal(t, http.StatusOK, archiveResp.StatusCode)
	zipped, err := io.ReadAll(archiveResp.Body)
	require.NoError(t, err)
	out, err := archive.ReadZip(bytes.NewReader(zipped), int64(len(zipped)), archive.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, out.Has("backend/routes/hello.js"))
	assert.True(t, out.Has("frontend/index.html"))

	stored, err := snapshots.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StageExported, stored.Stage)
}

func TestAPIHandlerFailure(t *testing.T) {
	srv, _ := newTestAPI(t, &convertsvc.Fake{Handlers: func(context.Context, []convertsvc.Item) ([]convertsvc.ItemResult, error) {
		return nil, errors.New("conversion backend down")
	}})
	id := createRun(t, srv)
	base := srv.URL + "/api/runs/" + id
	post(t, base+"/analyze", "", nil)
	post(t, base+"/configure", "application/json", []byte(`{}`))

	resp := post(t, base+"/convert", "", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	run := decode[types.PipelineRun](t, resp)
	assert.Equal(t, types.StageFailed, run.Stage)
	assert.Contains(t, run.LastError, "conversion backend down")

	archiveResp, err := http.Get(base + "/archive")
	require.NoError(t, err)
	archiveResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, archiveResp.StatusCode)

	resp = post(t, base+"/deploy", "application/json", []byte(`{"target":{"mode":"orchestrated"}}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, base+"/retry?stage=configured", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRetryAfterExportDropsArchive(t *testing.T) {
	var fail atomic.Bool
	svc := &convertsvc.Fake{Handlers: func(_ context.Context, items []convertsvc.Item) ([]convertsvc.ItemResult, error) {
		if fail.Load() {
			return nil, errors.New("conversion backend down")
		}
		out := make([]convertsvc.ItemResult, 0, len(items))
		for _, it := range items {
			out = append(out, convertsvc.ItemResult{Name: it.Name, Content: "module.exports = {}"})
		}
		return out, nil
	}}
	srv, _ := newTestAPI(t, svc)
	id := createRun(t, srv)
	base := srv.URL + "/api/runs/" + id
	post(t, base+"/analyze", "", nil)
	post(t, base+"/configure", "application/json", []byte(`{"convertHandlers":true}`))
	require.Equal(t, http.StatusOK, post(t, base+"/convert", "", nil).StatusCode)

	archiveStatus := func() int {
		resp, err := http.Get(base + "/archive")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, archiveStatus())

	require.Equal(t, http.StatusOK, post(t, base+"/retry?stage=configured", "", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, archiveStatus())

	fail.Store(true)
	require.Equal(t, http.StatusBadGateway, post(t, base+"/convert", "", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, archiveStatus())
}

func TestAPIDeleteRun(t *testing.T) {
	srv, _ := newTestAPI(t, &convertsvc.Fake{})
	id := createRun(t, srv)
	base := srv.URL + "/api/runs/" + id
	post(t, base+"/analyze", "", nil)
	post(t, base+"/configure", "application/json", []byte(`{"convertHandlers":true}`))
	require.Equal(t, http.StatusOK, post(t, base+"/convert", "", nil).StatusCode)

	req, err := http.NewRequest(http.MethodDelete, base, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, post(t, base+"/analyze", "", nil).StatusCode)
	archiveResp, err := http.Get(base + "/archive")
	require.NoError(t, err)
	archiveResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, archiveResp.StatusCode)

	getResp, err := http.Get(base)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestAPIErrors(t *testing.T) {
	srv, _ := newTestAPI(t, &convertsvc.Fake{})

	resp := post(t, srv.URL+"/api/runs", "application/zip", []byte("not a zip"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/runs/nope/analyze", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := createRun(t, srv)
	resp = post(t, srv.URL+"/api/runs/"+id+"/convert", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv.URL+"/api/runs/"+id+"/retry?stage=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIEventsWebsocket(t *testing.T) {
	srv, _ := newTestAPI(t, &convertsvc.Fake{})
	id := createRun(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/runs/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello eventsOutbound
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "subscribed", hello.Type)
	assert.Equal(t, "uploaded", hello.Stage)

	post(t, srv.URL+"/api/runs/"+id+"/analyze", "", nil)

	var msg eventsOutbound
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Event)
	assert.Equal(t, types.StageUploaded, msg.Event.From)
	assert.Equal(t, types.StageAnalyzed, msg.Event.To)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t, &convertsvc.Fake{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
