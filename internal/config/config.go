// Package config provides configuration for the hestia service and CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pegacorn/hestia/internal/logging"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "HESTIA_"

// Config holds the configuration for hestia.
type Config struct {
	// DataDir is the base directory for the store database and local exports.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	GRPC    GRPCConfig    `json:"grpc" yaml:"grpc"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Export  ExportConfig  `json:"export" yaml:"export"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds the drain of in-flight requests on stop.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StoreConfig holds the store connection coordinates.
type StoreConfig struct {
	// Type is the backend: sqlite or memory.
	Type string `json:"type" yaml:"type"`

	// DSN locates the store. For sqlite it is a database path; empty means
	// <data_dir>/hestia.db.
	DSN string `json:"dsn" yaml:"dsn"`

	// ReadConns is the size of the read connection pool.
	ReadConns int `json:"read_conns" yaml:"read_conns"`

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// KeyFilterFPR is the row key filter false positive rate. Negative
	// disables the filter.
	KeyFilterFPR float64 `json:"key_filter_fpr" yaml:"key_filter_fpr"`

	// PingTimeout bounds the connectivity check made when opening.
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
}

// ExportConfig holds bulk export configuration.
type ExportConfig struct {
	// Storage is the export target: local or s3.
	Storage string `json:"storage" yaml:"storage"`

	// Path is the local export directory (for local storage).
	Path string `json:"path" yaml:"path"`

	// Prefix is the object prefix documents are written under.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Compress stores documents snappy-compressed.
	Compress bool `json:"compress" yaml:"compress"`

	// Schedule is a cron expression for periodic export. Empty disables it.
	Schedule string `json:"schedule" yaml:"schedule"`

	// Kinds are the kinds exported on schedule. Empty means all kinds.
	Kinds []string `json:"kinds" yaml:"kinds"`

	// S3 configuration (for s3 storage)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"`
	AddSource bool   `json:"add_source" yaml:"add_source"`
}

// MetricsConfig holds metrics and statistics configuration.
type MetricsConfig struct {
	// Enabled serves /metrics and records searches.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// StatsWindow is how long parameter usage statistics are retained.
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/hestia",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Store: StoreConfig{
			Type:        store.TypeSQLite,
			ReadConns:   4,
			BusyTimeout: 5 * time.Second,
			PingTimeout: 5 * time.Second,
		},
		Export: ExportConfig{
			Storage: "local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			StatsWindow: time.Hour,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/hestia"
	}
	if c.Store.Type == "" {
		c.Store.Type = store.TypeSQLite
	}
	if c.Store.Type == store.TypeSQLite && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.DataDir, "hestia.db")
	}
	if c.Export.Storage == "" {
		c.Export.Storage = "local"
	}
	if c.Export.Path == "" {
		c.Export.Path = filepath.Join(c.DataDir, "export")
	}
}

// StoreOpenConfig returns the store connection settings.
func (c *Config) StoreOpenConfig() store.Config {
	return store.Config{
		Type:         c.Store.Type,
		DSN:          c.Store.DSN,
		ReadConns:    c.Store.ReadConns,
		BusyTimeout:  c.Store.BusyTimeout,
		KeyFilterFPR: c.Store.KeyFilterFPR,
		PingTimeout:  c.Store.PingTimeout,
	}
}

// LoggingSetup returns the logger settings.
func (c *Config) LoggingSetup() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
	}
}

// ExportKinds returns the kinds exported on schedule.
func (c *Config) ExportKinds() ([]types.Kind, error) {
	if len(c.Export.Kinds) == 0 {
		return types.AllKinds(), nil
	}
	kinds := make([]types.Kind, 0, len(c.Export.Kinds))
	for _, name := range c.Export.Kinds {
		k, err := types.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}

	switch c.Store.Type {
	case store.TypeSQLite, store.TypeMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid store type: %s (must be sqlite or memory)", c.Store.Type))
	}
	if c.Store.ReadConns < 0 {
		errs = append(errs, fmt.Errorf("store.read_conns must not be negative, got %d", c.Store.ReadConns))
	}
	if c.Store.KeyFilterFPR >= 1 {
		errs = append(errs, fmt.Errorf("store.key_filter_fpr must be below 1, got %g", c.Store.KeyFilterFPR))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, fmt.Errorf("http.addr is required"))
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		errs = append(errs, fmt.Errorf("grpc.addr is required when grpc is enabled"))
	}

	if c.Export.Storage != "local" && c.Export.Storage != "s3" {
		errs = append(errs, fmt.Errorf("invalid export storage: %s (must be local or s3)", c.Export.Storage))
	}
	if c.Export.Storage == "s3" && c.Export.S3.Bucket == "" {
		errs = append(errs, fmt.Errorf("export.s3.bucket is required when export storage is s3"))
	}
	if _, err := c.ExportKinds(); err != nil {
		errs = append(errs, fmt.Errorf("export.kinds: %w", err))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overrides configuration from HESTIA_ environment variables.
// Malformed numeric or duration values are reported and leave the field
// unchanged.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	duration("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)

	str("GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("GRPC_ENABLED", &cfg.GRPC.Enabled)

	str("STORE_TYPE", &cfg.Store.Type)
	str("STORE_DSN", &cfg.Store.DSN)
	integer("STORE_READ_CONNS", &cfg.Store.ReadConns)
	duration("STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)
	duration("STORE_PING_TIMEOUT", &cfg.Store.PingTimeout)

	str("EXPORT_STORAGE", &cfg.Export.Storage)
	str("EXPORT_PATH", &cfg.Export.Path)
	str("EXPORT_PREFIX", &cfg.Export.Prefix)
	boolean("EXPORT_COMPRESS", &cfg.Export.Compress)
	str("EXPORT_SCHEDULE", &cfg.Export.Schedule)
	if v := os.Getenv(EnvPrefix + "EXPORT_KINDS"); v != "" {
		cfg.Export.Kinds = splitList(v)
	}
	str("S3_BUCKET", &cfg.Export.S3.Bucket)
	str("S3_REGION", &cfg.Export.S3.Region)
	str("S3_ENDPOINT", &cfg.Export.S3.Endpoint)
	boolean("S3_USE_PATH_STYLE", &cfg.Export.S3.UsePathStyle)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	duration("METRICS_STATS_WINDOW", &cfg.Metrics.StatsWindow)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Store.Type == store.TypeSQLite && c.Store.DSN != "" && c.Store.DSN != ":memory:" {
		dirs = append(dirs, filepath.Dir(c.Store.DSN))
	}
	if c.Export.Storage == "local" {
		dirs = append(dirs, c.Export.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
