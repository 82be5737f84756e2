package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is built once at process start and passed by value to the
// components that need it.
type Config struct {
	Log          LogConfig
	Layout       LayoutConfig
	Convert      ConvertConfig
	Transfer     TransferConfig
	Orchestrator OrchestratorConfig
	Storage      StorageConfig
	Server       ServerConfig
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// LayoutConfig describes where the hosted platform keeps its constructs.
type LayoutConfig struct {
	PlatformRoot   string
	FunctionsDir   string
	EntryFile      string
	MigrationsDir  string
	MigrationExts  []string
	ConfigFile     string
	MaxFileBytes   int64
	IgnoreDirs     []string
	StripSingleDir bool
}

type ConvertConfig struct {
	Backend      string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	CacheEntries int
}

type TransferConfig struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// CloseGrace bounds how long closing waits for a timed-out write.
	CloseGrace     time.Duration
	KnownHostsFile string
}

type OrchestratorConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

type StorageConfig struct {
	RunsDSN  string
	Artifact ArtifactConfig
}

type ArtifactConfig struct {
	Backend   string
	DiskRoot  string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type ServerConfig struct {
	Addr string
}

// FunctionsRoot returns the repo-relative directory holding function handlers.
func (l LayoutConfig) FunctionsRoot() string {
	return joinSlash(l.PlatformRoot, l.FunctionsDir)
}

// MigrationsRoot returns the repo-relative migrations directory.
func (l LayoutConfig) MigrationsRoot() string {
	return joinSlash(l.PlatformRoot, l.MigrationsDir)
}

// ConfigPath returns the repo-relative platform configuration file path.
func (l LayoutConfig) ConfigPath() string {
	return joinSlash(l.PlatformRoot, l.ConfigFile)
}

// CanUseS3 reports whether the S3 artifact backend is fully configured.
func (a ArtifactConfig) CanUseS3() bool {
	return strings.TrimSpace(a.Endpoint) != "" &&
		strings.TrimSpace(a.AccessKey) != "" &&
		strings.TrimSpace(a.SecretKey) != "" &&
		strings.TrimSpace(a.Bucket) != ""
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Layout: LayoutConfig{
			PlatformRoot:   "supabase",
			FunctionsDir:   "functions",
			EntryFile:      "index.ts",
			MigrationsDir:  "migrations",
			MigrationExts:  []string{".sql"},
			ConfigFile:     "config.toml",
			MaxFileBytes:   8 << 20,
			IgnoreDirs:     []string{".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", ".next", ".cache", ".turbo"},
			StripSingleDir: true,
		},
		Convert: ConvertConfig{
			Backend:      "http",
			BaseURL:      "http://localhost:8787",
			Model:        "gemini-2.5-flash",
			Timeout:      3 * time.Minute,
			MaxAttempts:  3,
			RetryBackoff: 500 * time.Millisecond,
			CacheEntries: 512,
		},
		Transfer: TransferConfig{
			ConnectTimeout: 20 * time.Second,
			WriteTimeout:   60 * time.Second,
			CloseGrace:     5 * time.Second,
		},
		Orchestrator: OrchestratorConfig{Timeout: 60 * time.Second},
		Storage: StorageConfig{
			Artifact: ArtifactConfig{
				Backend:  "memory",
				DiskRoot: "tmp/artifacts",
				Region:   "us-east-1",
				Bucket:   "liberate-artifacts",
			},
		},
		Server: ServerConfig{Addr: ":8081"},
	}
}

// SetDefaults registers Default() on v so that env vars and config files
// override it key by key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("layout.platform_root", d.Layout.PlatformRoot)
	v.SetDefault("layout.functions_dir", d.Layout.FunctionsDir)
	v.SetDefault("layout.entry_file", d.Layout.EntryFile)
	v.SetDefault("layout.migrations_dir", d.Layout.MigrationsDir)
	v.SetDefault("layout.migration_exts", d.Layout.MigrationExts)
	v.SetDefault("layout.config_file", d.Layout.ConfigFile)
	v.SetDefault("layout.max_file_bytes", d.Layout.MaxFileBytes)
	v.SetDefault("layout.ignore_dirs", d.Layout.IgnoreDirs)
	v.SetDefault("layout.strip_single_dir", d.Layout.StripSingleDir)

	v.SetDefault("convert.backend", d.Convert.Backend)
	v.SetDefault("convert.base_url", d.Convert.BaseURL)
	v.SetDefault("convert.api_key", d.Convert.APIKey)
	v.SetDefault("convert.model", d.Convert.Model)
	v.SetDefault("convert.timeout", d.Convert.Timeout)
	v.SetDefault("convert.max_attempts", d.Convert.MaxAttempts)
	v.SetDefault("convert.retry_backoff", d.Convert.RetryBackoff)
	v.SetDefault("convert.cache_entries", d.Convert.CacheEntries)

	v.SetDefault("transfer.connect_timeout", d.Transfer.ConnectTimeout)
	v.SetDefault("transfer.write_timeout", d.Transfer.WriteTimeout)
	v.SetDefault("transfer.close_grace", d.Transfer.CloseGrace)
	v.SetDefault("transfer.known_hosts_file", d.Transfer.KnownHostsFile)

	v.SetDefault("orchestrator.endpoint", d.Orchestrator.Endpoint)
	v.SetDefault("orchestrator.token", d.Orchestrator.Token)
	v.SetDefault("orchestrator.timeout", d.Orchestrator.Timeout)

	v.SetDefault("storage.runs_dsn", d.Storage.RunsDSN)
	v.SetDefault("storage.artifact.backend", d.Storage.Artifact.Backend)
	v.SetDefault("storage.artifact.disk_root", d.Storage.Artifact.DiskRoot)
	v.SetDefault("storage.artifact.endpoint", d.Storage.Artifact.Endpoint)
	v.SetDefault("storage.artifact.region", d.Storage.Artifact.Region)
	v.SetDefault("storage.artifact.access_key", d.Storage.Artifact.AccessKey)
	v.SetDefault("storage.artifact.secret_key", d.Storage.Artifact.SecretKey)
	v.SetDefault("storage.artifact.bucket", d.Storage.Artifact.Bucket)
	v.SetDefault("storage.artifact.use_ssl", d.Storage.Artifact.UseSSL)

	v.SetDefault("server.addr", d.Server.Addr)
}

// Load reads .env (if present), the optional config file, and LIBERATE_*
// environment variables into a Config. Flags bound on v take precedence.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix("LIBERATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("gemini_api_key", "GEMINI_API_KEY")

	if cfgFile = strings.TrimSpace(cfgFile); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	cfg := Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
		Layout: LayoutConfig{
			PlatformRoot:   strings.Trim(v.GetString("layout.platform_root"), "/"),
			FunctionsDir:   strings.Trim(v.GetString("layout.functions_dir"), "/"),
			EntryFile:      v.GetString("layout.entry_file"),
			MigrationsDir:  strings.Trim(v.GetString("layout.migrations_dir"), "/"),
			MigrationExts:  v.GetStringSlice("layout.migration_exts"),
			ConfigFile:     v.GetString("layout.config_file"),
			MaxFileBytes:   v.GetInt64("layout.max_file_bytes"),
			IgnoreDirs:     v.GetStringSlice("layout.ignore_dirs"),
			StripSingleDir: v.GetBool("layout.strip_single_dir"),
		},
		Convert: ConvertConfig{
			Backend:      strings.ToLower(v.GetString("convert.backend")),
			BaseURL:      v.GetString("convert.base_url"),
			APIKey:       firstNonEmpty(v.GetString("convert.api_key"), v.GetString("gemini_api_key")),
			Model:        v.GetString("convert.model"),
			Timeout:      v.GetDuration("convert.timeout"),
			MaxAttempts:  v.GetInt("convert.max_attempts"),
			RetryBackoff: v.GetDuration("convert.retry_backoff"),
			CacheEntries: v.GetInt("convert.cache_entries"),
		},
		Transfer: TransferConfig{
			ConnectTimeout: v.GetDuration("transfer.connect_timeout"),
			WriteTimeout:   v.GetDuration("transfer.write_timeout"),
			CloseGrace:     v.GetDuration("transfer.close_grace"),
			KnownHostsFile: v.GetString("transfer.known_hosts_file"),
		},
		Orchestrator: OrchestratorConfig{
			Endpoint: v.GetString("orchestrator.endpoint"),
			Token:    v.GetString("orchestrator.token"),
			Timeout:  v.GetDuration("orchestrator.timeout"),
		},
		Storage: StorageConfig{
			RunsDSN: v.GetString("storage.runs_dsn"),
			Artifact: ArtifactConfig{
				Backend:   strings.ToLower(v.GetString("storage.artifact.backend")),
				DiskRoot:  v.GetString("storage.artifact.disk_root"),
				Endpoint:  v.GetString("storage.artifact.endpoint"),
				Region:    firstNonEmpty(v.GetString("storage.artifact.region"), "us-east-1"),
				AccessKey: v.GetString("storage.artifact.access_key"),
				SecretKey: v.GetString("storage.artifact.secret_key"),
				Bucket:    v.GetString("storage.artifact.bucket"),
				UseSSL:    v.GetBool("storage.artifact.use_ssl"),
			},
		},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if c.Layout.PlatformRoot == "" {
		return fmt.Errorf("layout.platform_root is required")
	}
	if c.Layout.EntryFile == "" {
		return fmt.Errorf("layout.entry_file is required")
	}
	switch c.Convert.Backend {
	case "http", "gemini":
	default:
		return fmt.Errorf("convert.backend must be http or gemini, got %q", c.Convert.Backend)
	}
	switch c.Storage.Artifact.Backend {
	case "memory", "disk", "s3":
	default:
		return fmt.Errorf("storage.artifact.backend must be memory, disk or s3, got %q", c.Storage.Artifact.Backend)
	}
	if c.Transfer.ConnectTimeout <= 0 || c.Transfer.WriteTimeout <= 0 {
		return fmt.Errorf("transfer timeouts must be positive")
	}
	return nil
}

func joinSlash(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
