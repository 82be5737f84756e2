package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "supabase", cfg.Layout.PlatformRoot)
	assert.Equal(t, "supabase/functions", cfg.Layout.FunctionsRoot())
	assert.Equal(t, "supabase/migrations", cfg.Layout.MigrationsRoot())
	assert.Equal(t, "supabase/config.toml", cfg.Layout.ConfigPath())
	assert.Equal(t, "http", cfg.Convert.Backend)
	assert.Equal(t, 20*time.Second, cfg.Transfer.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Transfer.CloseGrace)
	assert.Equal(t, "memory", cfg.Storage.Artifact.Backend)
}

func TestLoadEnvAndFileOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "liberate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
layout:
  platform_root: platform
convert:
  backend: gemini
transfer:
  write_timeout: 5s
`), 0o644))
	t.Setenv("LIBERATE_SERVER_ADDR", ":9999")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "platform", cfg.Layout.PlatformRoot)
	assert.Equal(t, "gemini", cfg.Convert.Backend)
	assert.Equal(t, "from-env", cfg.Convert.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Transfer.WriteTimeout)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty root":      func(c *Config) { c.Layout.PlatformRoot = "" },
		"bad backend":     func(c *Config) { c.Convert.Backend = "carrier-pigeon" },
		"bad artifact":    func(c *Config) { c.Storage.Artifact.Backend = "tape" },
		"zero write time": func(c *Config) { c.Transfer.WriteTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestCanUseS3(t *testing.T) {
	a := Default().Storage.Artifact
	assert.False(t, a.CanUseS3())
	a.Endpoint, a.AccessKey, a.SecretKey = "minio:9000", "k", "s"
	assert.True(t, a.CanUseS3())
}
