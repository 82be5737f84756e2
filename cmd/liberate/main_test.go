package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liberator/internal/archive"
	"liberator/internal/classify"
	"liberator/internal/config"
	"liberator/internal/convertsvc"
	"liberator/internal/transfer"
	"liberator/internal/types"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"package.json":                      "{}",
		"src/main.ts":                       "console.log(1)",
		"supabase/config.toml":              "[functions.hello]\n[functions.ghost]\n",
		"supabase/functions/hello/index.ts": "Deno.serve(() => new Response('hi'))",
		"supabase/migrations/0001_init.sql": "CREATE TABLE posts (id int);\nCREATE POLICY \"read\" ON posts FOR SELECT USING (true);\n",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScanJSON(t *testing.T) {
	out, err := execute(t, "scan", writeProject(t), "--json")
	require.NoError(t, err)

	var report struct {
		Files  int             `json:"files"`
		Counts classify.Counts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 5, report.Files)
	assert.Equal(t, 2, report.Counts.ByKind[types.AssetFunctionHandler])
	assert.Equal(t, 1, report.Counts.ByKind[types.AssetTable])
	assert.Equal(t, 1, report.Counts.ByKind[types.AssetAccessPolicy])
	assert.Equal(t, 1, report.Counts.ConfigOnly)
}

func TestScanRejectsPlainFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	_, err := execute(t, "scan", p, "--json")
	assert.ErrorIs(t, err, types.ErrInput)
}

func TestPackWritesArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []convertsvc.Item `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		var items []convertsvc.ItemResult
		if r.URL.Path == "/v1/"+string(convertsvc.OpConvertHandlers) {
			for _, it := range req.Items {
				items = append(items, convertsvc.ItemResult{Name: it.Name, Content: "export default (req, res) => res.send('hi')"})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()
	t.Setenv("LIBERATE_CONVERT_BACKEND", "http")
	t.Setenv("LIBERATE_CONVERT_BASE_URL", srv.URL)

	dest := filepath.Join(t.TempDir(), "out", "liberated.zip")
	out, err := execute(t, "pack", writeProject(t), "-o", dest, "--json")
	require.NoError(t, err)

	var report packReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "1/1", report.Routes)
	assert.Equal(t, dest, report.Archive)

	files, err := archive.ReadZipFile(dest, archive.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, files.Has("backend/routes/hello.js"))
	assert.True(t, files.Has("frontend/src/main.ts"))
	assert.True(t, files.Has("docker-compose.yml"))
	guide, ok := files.Get("MIGRATION_GUIDE.md")
	require.True(t, ok)
	assert.Contains(t, string(guide), "Converted 1 of 1 handlers")
}

func writeArchive(t *testing.T) string {
	t.Helper()
	set := types.NewFileSet()
	require.NoError(t, set.Add("frontend/index.html", []byte("<html></html>")))
	require.NoError(t, set.Add("backend/routes/hello.js", []byte("module.exports = {}")))
	b, err := archive.Bytes(set)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "liberated.zip")
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func resetDeployFlags(t *testing.T) {
	t.Cleanup(func() {
		for flag, value := range map[string]string{"target": "ftp", "host": "", "user": "", "password": "", "server-id": "", "endpoint": "", "token": ""} {
			_ = deployCmd.Flags().Set(flag, value)
		}
	})
}

func TestDeployMasksTokenInRejection(t *testing.T) {
	resetDeployFlags(t)
	const token = "supersecrettoken123"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credential "+token, http.StatusUnauthorized)
	}))
	defer srv.Close()

	out, err := execute(t, "deploy", writeArchive(t), "--json",
		"--target", "orchestrated", "--server-id", "srv-1", "--endpoint", srv.URL, "--token", token)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.NotContains(t, out, token)
	assert.Contains(t, out, "[REDACTED]")

	var sum types.TransferSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	require.Len(t, sum.Outcomes, 1)
	assert.False(t, sum.Outcomes[0].Succeeded)
}

type failingSession struct{}

func (failingSession) EnsureDir(context.Context, string) error { return nil }
func (failingSession) Write(context.Context, string, []byte) error {
	return errors.New("552 quota exceeded")
}
func (failingSession) Close() error { return nil }

func TestDeployPerFileFailuresKeepZeroExit(t *testing.T) {
	resetDeployFlags(t)
	prev := newDispatcher
	newDispatcher = func(tc config.TransferConfig, oc config.OrchestratorConfig) *transfer.Dispatcher {
		return transfer.New(tc, oc).WithDialer(transfer.ProtocolFTP, func(context.Context, transfer.Target, transfer.Credentials, transfer.Options) (transfer.Session, error) {
			return failingSession{}, nil
		})
	}
	t.Cleanup(func() { newDispatcher = prev })

	out, err := execute(t, "deploy", writeArchive(t), "--json",
		"--target", "ftp", "--host", "ftp.example.com", "--user", "u", "--password", "pw-secret-1")
	require.NoError(t, err)

	var sum types.TransferSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.TotalFiles)
	assert.Equal(t, 0, sum.SucceededCount)
	assert.Len(t, sum.Outcomes, 2)
}

func TestTargetFromFlags(t *testing.T) {
	cfg = config.Default()
	cfg.Orchestrator.Endpoint = "https://deploy.example.com"
	require.NoError(t, deployCmd.Flags().Set("target", "orchestrated"))
	require.NoError(t, deployCmd.Flags().Set("server-id", "srv-1"))
	t.Cleanup(func() {
		_ = deployCmd.Flags().Set("target", "ftp")
		_ = deployCmd.Flags().Set("server-id", "")
	})

	target, _, err := targetFromFlags(deployCmd)
	require.NoError(t, err)
	assert.Equal(t, "orchestrated", string(target.Mode))
	assert.Equal(t, "srv-1", target.ServerID)
	assert.Equal(t, "https://deploy.example.com", target.Endpoint)

	require.NoError(t, deployCmd.Flags().Set("target", "gopher"))
	_, _, err = targetFromFlags(deployCmd)
	assert.ErrorIs(t, err, types.ErrInput)
}
