// ABOUTME: Configuration model for mcp-foundation with deployment-mode helpers
// ABOUTME: Groups server, auth, database, cache, storage and lifecycle settings

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DeploymentMode selects environment-specific defaults.
type DeploymentMode string

const (
	ModeDevelopment DeploymentMode = "development"
	ModeUVX         DeploymentMode = "uvx"
	ModeDocker      DeploymentMode = "docker"
	ModeProduction  DeploymentMode = "production"
)

// LogLevel is the configured minimum log severity.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// StorageBackend names where file storage lives.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
	StorageAzure StorageBackend = "azure"
	StorageGCS   StorageBackend = "gcs"
)

// DefaultDatabaseURL is the embedded database used in development modes.
const DefaultDatabaseURL = "sqlite:///./data/mcp.db"

// Version is reported by health endpoints and the initialize handshake.
const Version = "1.0.0"

// Config represents the complete resolved configuration.
type Config struct {
	DeploymentMode DeploymentMode
	Debug          bool
	UseFileWatcher bool

	Server        ServerConfig
	Auth          AuthConfig
	Performance   PerformanceConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
	Lifecycle     LifecycleConfig
}

// ServerConfig holds identity and listener configuration
type ServerConfig struct {
	Name           string
	Host           string
	Port           int
	Reload         bool
	Workers        int
	GRPCHealthPort int // 0 disables the gRPC health service
}

// AuthConfig holds request authentication configuration
type AuthConfig struct {
	Enabled          bool
	OAuthProviderURL string
	APIKeyHeader     string
	SecretKey        string
}

// PerformanceConfig bounds concurrency and per-request work
type PerformanceConfig struct {
	MaxConnections int
	RequestTimeout time.Duration
	CacheTTL       time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL              string
	Echo             bool
	PoolSize         int
	MaxOverflow      int
	AutoCreateTables bool
}

// RedisConfig holds cache connection configuration
type RedisConfig struct {
	URL string
	SSL bool
	DB  int
}

// StorageConfig holds file storage configuration. Only the local backend is
// acted on; the cloud backends are carried through for downstream consumers.
type StorageConfig struct {
	Backend StorageBackend
	Path    string
	Bucket  string
	Region  string
}

// ObservabilityConfig holds metrics and tracing toggles
type ObservabilityConfig struct {
	EnableMetrics   bool
	EnableTracing   bool
	TracingEndpoint string
	MetricsPath     string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  LogLevel
	Format string // text or json
}

// LifecycleConfig holds startup and shutdown timing
type LifecycleConfig struct {
	StartupGrace    time.Duration
	ShutdownTimeout time.Duration
}

// Defaults returns the configuration used for every unset key.
func Defaults() Config {
	return Config{
		DeploymentMode: ModeDevelopment,
		Server: ServerConfig{
			Name:    "mcp-server-foundation",
			Host:    "127.0.0.1",
			Port:    8000,
			Workers: 1,
		},
		Auth: AuthConfig{
			Enabled:      true,
			APIKeyHeader: "X-API-Key",
			SecretKey:    "dev-secret-key-change-in-production",
		},
		Performance: PerformanceConfig{
			MaxConnections: 100,
			RequestTimeout: 30 * time.Second,
			CacheTTL:       time.Hour,
		},
		Database: DatabaseConfig{
			URL:              DefaultDatabaseURL,
			PoolSize:         10,
			MaxOverflow:      20,
			AutoCreateTables: true,
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
			Path:    "./data/storage",
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableTracing: true,
			MetricsPath:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  LevelInfo,
			Format: "text",
		},
		Lifecycle: LifecycleConfig{
			StartupGrace:    2 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// IsDevelopment reports whether the mode is development or uvx.
func (c *Config) IsDevelopment() bool {
	return c.DeploymentMode.IsDevelopment()
}

// IsProduction reports whether the mode is docker or production.
func (c *Config) IsProduction() bool {
	return c.DeploymentMode == ModeDocker || c.DeploymentMode == ModeProduction
}

// IsDevelopment reports whether m is one of the local development modes.
func (m DeploymentMode) IsDevelopment() bool {
	return m == ModeDevelopment || m == ModeUVX
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// StorageOptions returns the storage settings handed to a storage backend.
// Bucket and region are only included for non-local backends, and only when set.
func (c *Config) StorageOptions() map[string]string {
	opts := map[string]string{
		"backend": string(c.Storage.Backend),
		"path":    c.Storage.Path,
	}
	if c.Storage.Backend != StorageLocal {
		if c.Storage.Bucket != "" {
			opts["bucket"] = c.Storage.Bucket
		}
		if c.Storage.Region != "" {
			opts["region"] = c.Storage.Region
		}
	}
	return opts
}

// Clone returns a copy that can be modified without affecting c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// SQLitePath returns the filesystem path of a sqlite:// database URL.
// The second return value is false for other schemes.
func (d DatabaseConfig) SQLitePath() (string, bool) {
	rest, ok := strings.CutPrefix(d.URL, "sqlite://")
	if !ok {
		return "", false
	}
	// sqlite:///relative and sqlite:////absolute
	if strings.HasPrefix(rest, "/") {
		rest = rest[1:]
	}
	if rest == "" {
		return ":memory:", true
	}
	return rest, true
}

// EnsureLocalDirs creates the storage directory and the sqlite database
// directory. It is a no-op outside the development modes.
func (c *Config) EnsureLocalDirs() error {
	if !c.IsDevelopment() {
		return nil
	}

	if c.Storage.Backend == StorageLocal && c.Storage.Path != "" {
		if err := os.MkdirAll(c.Storage.Path, 0755); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	if path, ok := c.Database.SQLitePath(); ok && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	return nil
}
