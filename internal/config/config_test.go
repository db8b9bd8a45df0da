package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("data", "hestia", "hestia.db"), filepath.Clean(cfg.Store.DSN))
	assert.Equal(t, filepath.Join("data", "hestia", "export"), filepath.Clean(cfg.Export.Path))
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "hestia.yaml", `
data_dir: /srv/hestia
http:
  addr: ":18080"
  shutdown_timeout: 5s
store:
  type: sqlite
  dsn: /srv/hestia/db/records.db
  read_conns: 8
export:
  storage: s3
  prefix: dumps
  compress: true
  schedule: "0 3 * * *"
  kinds: [Task, device]
  s3:
    bucket: hestia-dumps
    region: eu-west-1
logging:
  level: debug
  format: text
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":18080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.HTTP.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "/srv/hestia/db/records.db", cfg.Store.DSN)
	assert.Equal(t, 8, cfg.Store.ReadConns)
	assert.Equal(t, "hestia-dumps", cfg.Export.S3.Bucket)
	assert.True(t, cfg.Export.Compress)

	kinds, err := cfg.ExportKinds()
	require.NoError(t, err)
	assert.Equal(t, []types.Kind{types.KindTask, types.KindDevice}, kinds)

	sc := cfg.StoreOpenConfig()
	assert.Equal(t, store.TypeSQLite, sc.Type)
	assert.Equal(t, 8, sc.ReadConns)
	assert.Equal(t, "text", cfg.LoggingSetup().Format)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "hestia.json", `{"data_dir":"/tmp/h","store":{"type":"memory"},"grpc":{"enabled":false}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, store.TypeMemory, cfg.Store.Type)
	assert.Empty(t, cfg.Store.DSN)
	assert.False(t, cfg.GRPC.Enabled)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "hestia.toml", "x = 1"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "http: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown store type", func(c *Config) { c.Store.Type = "hbase" }},
		{"negative read conns", func(c *Config) { c.Store.ReadConns = -1 }},
		{"s3 without bucket", func(c *Config) { c.Export.Storage = "s3" }},
		{"unknown export storage", func(c *Config) { c.Export.Storage = "ftp" }},
		{"unknown export kind", func(c *Config) { c.Export.Kinds = []string{"Patient"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"grpc without addr", func(c *Config) { c.GRPC.Addr = "" }},
		{"empty http addr", func(c *Config) { c.HTTP.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HESTIA_DATA_DIR", "/env/data")
	t.Setenv("HESTIA_STORE_DSN", "/env/store.db")
	t.Setenv("HESTIA_STORE_READ_CONNS", "2")
	t.Setenv("HESTIA_GRPC_ENABLED", "false")
	t.Setenv("HESTIA_EXPORT_KINDS", "Task, AuditEvent ,")
	t.Setenv("HESTIA_LOG_LEVEL", "warn")
	t.Setenv("HESTIA_METRICS_STATS_WINDOW", "10m")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "/env/store.db", cfg.Store.DSN)
	assert.Equal(t, 2, cfg.Store.ReadConns)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, []string{"Task", "AuditEvent"}, cfg.Export.Kinds)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10*time.Minute, cfg.Metrics.StatsWindow)
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	t.Setenv("HESTIA_STORE_READ_CONNS", "many")
	t.Setenv("HESTIA_STORE_BUSY_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := LoadFromEnv(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HESTIA_STORE_READ_CONNS")
	assert.Contains(t, err.Error(), "HESTIA_STORE_BUSY_TIMEOUT")
	assert.Equal(t, 4, cfg.Store.ReadConns)
	assert.Equal(t, 5*time.Second, cfg.Store.BusyTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := writeFile(t, ".env", "HESTIA_HTTP_ADDR=:7070\nHESTIA_LOG_FORMAT=text\n")
	t.Setenv("HESTIA_LOG_FORMAT", "json")
	t.Setenv("HESTIA_HTTP_ADDR", "")
	os.Unsetenv("HESTIA_HTTP_ADDR")

	require.NoError(t, LoadDotEnv(path))
	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "json", cfg.Logging.Format, "existing variables win over .env")
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.Store.DSN = filepath.Join(root, "db", "hestia.db")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, filepath.Join(root, "db"), cfg.Export.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}
