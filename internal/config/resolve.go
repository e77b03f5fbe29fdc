// ABOUTME: Two-pass configuration resolution from file, environment and overrides
// ABOUTME: Applies explicit values, derives mode-dependent fields, then validates once

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrUnknownKey is returned when an override names a key that does not exist.
var ErrUnknownKey = errors.New("unknown configuration key")

// Values maps configuration keys (lower-case, e.g. "port") to raw string values.
type Values map[string]string

// ValidationError describes the first configuration value that failed validation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// field binds a configuration key to the setter that parses it.
type field struct {
	key string
	set func(c *Config, raw string) error
	// textual fields accept the empty string; others treat it as unset
	textual bool
}

var fields = []field{
	{key: "server_name", textual: true, set: func(c *Config, v string) error { c.Server.Name = v; return nil }},
	{key: "deployment_mode", set: func(c *Config, v string) error {
		c.DeploymentMode = DeploymentMode(strings.ToLower(strings.TrimSpace(v)))
		return nil
	}},
	{key: "debug", set: boolSetter(func(c *Config, b bool) { c.Debug = b })},
	{key: "log_level", set: func(c *Config, v string) error {
		c.Logging.Level = LogLevel(strings.ToUpper(strings.TrimSpace(v)))
		return nil
	}},
	{key: "log_format", set: func(c *Config, v string) error {
		c.Logging.Format = strings.ToLower(strings.TrimSpace(v))
		return nil
	}},
	{key: "host", textual: true, set: func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{key: "port", set: intSetter(func(c *Config, n int) { c.Server.Port = n })},
	{key: "reload", set: boolSetter(func(c *Config, b bool) { c.Server.Reload = b })},
	{key: "workers", set: intSetter(func(c *Config, n int) { c.Server.Workers = n })},
	{key: "grpc_health_port", set: intSetter(func(c *Config, n int) { c.Server.GRPCHealthPort = n })},
	{key: "auth_enabled", set: boolSetter(func(c *Config, b bool) { c.Auth.Enabled = b })},
	{key: "oauth_provider_url", textual: true, set: func(c *Config, v string) error { c.Auth.OAuthProviderURL = v; return nil }},
	{key: "api_key_header", textual: true, set: func(c *Config, v string) error { c.Auth.APIKeyHeader = v; return nil }},
	{key: "secret_key", textual: true, set: func(c *Config, v string) error { c.Auth.SecretKey = v; return nil }},
	{key: "max_connections", set: intSetter(func(c *Config, n int) { c.Performance.MaxConnections = n })},
	{key: "request_timeout", set: func(c *Config, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.Performance.RequestTimeout = d
		return nil
	}},
	{key: "cache_ttl", set: func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("must be an integer number of seconds")
		}
		if n < 0 {
			return errors.New("must be >= 0")
		}
		c.Performance.CacheTTL = time.Duration(n) * time.Second
		return nil
	}},
	{key: "database_url", textual: true, set: func(c *Config, v string) error { c.Database.URL = v; return nil }},
	{key: "database_echo", set: boolSetter(func(c *Config, b bool) { c.Database.Echo = b })},
	{key: "database_pool_size", set: intSetter(func(c *Config, n int) { c.Database.PoolSize = n })},
	{key: "database_max_overflow", set: intSetter(func(c *Config, n int) { c.Database.MaxOverflow = n })},
	{key: "auto_create_tables", set: boolSetter(func(c *Config, b bool) { c.Database.AutoCreateTables = b })},
	{key: "redis_url", textual: true, set: func(c *Config, v string) error { c.Redis.URL = v; return nil }},
	{key: "redis_ssl", set: boolSetter(func(c *Config, b bool) { c.Redis.SSL = b })},
	{key: "redis_db", set: intSetter(func(c *Config, n int) { c.Redis.DB = n })},
	{key: "storage_backend", set: func(c *Config, v string) error {
		c.Storage.Backend = StorageBackend(strings.ToLower(strings.TrimSpace(v)))
		return nil
	}},
	{key: "storage_path", textual: true, set: func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{key: "storage_bucket", textual: true, set: func(c *Config, v string) error { c.Storage.Bucket = v; return nil }},
	{key: "storage_region", textual: true, set: func(c *Config, v string) error { c.Storage.Region = v; return nil }},
	{key: "enable_metrics", set: boolSetter(func(c *Config, b bool) { c.Observability.EnableMetrics = b })},
	{key: "enable_tracing", set: boolSetter(func(c *Config, b bool) { c.Observability.EnableTracing = b })},
	{key: "tracing_endpoint", textual: true, set: func(c *Config, v string) error { c.Observability.TracingEndpoint = v; return nil }},
	{key: "metrics_path", textual: true, set: func(c *Config, v string) error { c.Observability.MetricsPath = v; return nil }},
	{key: "use_file_watcher", set: boolSetter(func(c *Config, b bool) { c.UseFileWatcher = b })},
	{key: "startup_grace", set: durationSetter(func(c *Config, d time.Duration) { c.Lifecycle.StartupGrace = d })},
	{key: "shutdown_timeout", set: durationSetter(func(c *Config, d time.Duration) { c.Lifecycle.ShutdownTimeout = d })},
}

var fieldIndex = func() map[string]field {
	m := make(map[string]field, len(fields))
	for _, f := range fields {
		m[f.key] = f
	}
	return m
}()

// Keys returns every recognised configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.key)
	}
	sort.Strings(keys)
	return keys
}

// EnvName returns the environment variable that supplies key.
func EnvName(key string) string {
	return strings.ToUpper(key)
}

// FromEnviron converts os.Environ-style "KEY=value" pairs into a map.
func FromEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

// DotEnvFile is read from the working directory by Load when present.
const DotEnvFile = ".env"

// Load resolves configuration from, lowest precedence first: an optional
// file at path, a .env file in the working directory, the process
// environment and overrides.
func Load(path string, overrides Values) (*Config, error) {
	var fileValues Values
	if path != "" {
		var err error
		fileValues, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	dotEnv, err := LoadDotEnv(DotEnvFile)
	if err != nil {
		return nil, err
	}

	return resolve(fileValues, dotEnv, envValues(FromEnviron(os.Environ())), overrides)
}

// LoadDotEnv reads KEY=value pairs from a dotenv file. A missing file yields
// no values. Variables that are not configuration keys are ignored.
func LoadDotEnv(path string) (Values, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return envValues(env), nil
}

// Resolve builds a Config from an environment map and explicit overrides.
// It has no side effects.
func Resolve(env map[string]string, overrides Values) (*Config, error) {
	return resolve(envValues(env), overrides)
}

// envValues picks the recognised keys out of env. Variable names are matched
// case-insensitively.
func envValues(env map[string]string) Values {
	upper := make(map[string]string, len(env))
	for k, v := range env {
		upper[strings.ToUpper(k)] = v
	}

	vals := make(Values)
	for _, f := range fields {
		if v, ok := upper[EnvName(f.key)]; ok {
			vals[f.key] = v
		}
	}
	return vals
}

// resolve merges layers (later wins), then applies, derives and validates.
func resolve(layers ...Values) (*Config, error) {
	explicit := make(Values)
	for _, layer := range layers {
		for k, v := range layer {
			key := strings.ToLower(k)
			if _, ok := fieldIndex[key]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownKey, k)
			}
			explicit[key] = v
		}
	}

	cfg := Defaults()

	// first pass: explicit values only
	for _, f := range fields {
		raw, ok := explicit[f.key]
		if !ok || (!f.textual && strings.TrimSpace(raw) == "") {
			continue
		}
		if err := f.set(&cfg, raw); err != nil {
			return nil, &ValidationError{Field: f.key, Value: raw, Reason: err.Error()}
		}
	}

	if err := validateEnums(&cfg); err != nil {
		return nil, err
	}

	// second pass: fields derived from the deployment mode
	dev := cfg.DeploymentMode.IsDevelopment()
	if !isSet(explicit, "debug") {
		cfg.Debug = dev
	}
	if !isSet(explicit, "reload") {
		cfg.Server.Reload = dev
	}
	if !isSet(explicit, "use_file_watcher") {
		cfg.UseFileWatcher = dev
	}
	if dev && !strings.HasPrefix(cfg.Database.URL, "sqlite") {
		cfg.Database.URL = DefaultDatabaseURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isSet(vals Values, key string) bool {
	v, ok := vals[key]
	return ok && strings.TrimSpace(v) != ""
}

func validateEnums(c *Config) error {
	switch c.DeploymentMode {
	case ModeDevelopment, ModeUVX, ModeDocker, ModeProduction:
	default:
		return &ValidationError{Field: "deployment_mode", Value: string(c.DeploymentMode),
			Reason: "must be one of development, uvx, docker, production"}
	}

	switch c.Logging.Level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
	default:
		return &ValidationError{Field: "log_level", Value: string(c.Logging.Level),
			Reason: "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL"}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return &ValidationError{Field: "log_format", Value: c.Logging.Format, Reason: "must be text or json"}
	}

	switch c.Storage.Backend {
	case StorageLocal, StorageS3, StorageAzure, StorageGCS:
	default:
		return &ValidationError{Field: "storage_backend", Value: string(c.Storage.Backend),
			Reason: "must be one of local, s3, azure, gcs"}
	}

	return nil
}

// validate checks every range constraint and returns the first failure.
func (c *Config) validate() error {
	type check struct {
		field  string
		value  string
		ok     bool
		reason string
	}

	checks := []check{
		{"server_name", c.Server.Name, c.Server.Name != "", "is required"},
		{"port", strconv.Itoa(c.Server.Port), c.Server.Port >= 1 && c.Server.Port <= 65535, "must be between 1 and 65535"},
		{"workers", strconv.Itoa(c.Server.Workers), c.Server.Workers >= 1, "must be >= 1"},
		{"grpc_health_port", strconv.Itoa(c.Server.GRPCHealthPort), c.Server.GRPCHealthPort >= 0 && c.Server.GRPCHealthPort <= 65535, "must be 0 or between 1 and 65535"},
		{"api_key_header", c.Auth.APIKeyHeader, c.Auth.APIKeyHeader != "", "is required"},
		{"secret_key", "", c.Auth.SecretKey != "", "is required"},
		{"max_connections", strconv.Itoa(c.Performance.MaxConnections), c.Performance.MaxConnections >= 1, "must be >= 1"},
		{"request_timeout", c.Performance.RequestTimeout.String(), c.Performance.RequestTimeout >= time.Second, "must be >= 1s"},
		{"cache_ttl", c.Performance.CacheTTL.String(), c.Performance.CacheTTL >= 0, "must be >= 0"},
		{"database_pool_size", strconv.Itoa(c.Database.PoolSize), c.Database.PoolSize >= 1, "must be >= 1"},
		{"database_max_overflow", strconv.Itoa(c.Database.MaxOverflow), c.Database.MaxOverflow >= 0, "must be >= 0"},
		{"redis_db", strconv.Itoa(c.Redis.DB), c.Redis.DB >= 0 && c.Redis.DB <= 15, "must be between 0 and 15"},
		{"startup_grace", c.Lifecycle.StartupGrace.String(), c.Lifecycle.StartupGrace >= 0, "must be >= 0"},
		{"shutdown_timeout", c.Lifecycle.ShutdownTimeout.String(), c.Lifecycle.ShutdownTimeout >= 0, "must be >= 0"},
	}

	for _, ch := range checks {
		if !ch.ok {
			return &ValidationError{Field: ch.field, Value: ch.value, Reason: ch.reason}
		}
	}
	return nil
}

func boolSetter(apply func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := parseBool(raw)
		if err != nil {
			return err
		}
		apply(c, b)
		return nil
	}
}

func intSetter(apply func(*Config, int)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return errors.New("must be an integer")
		}
		apply(c, n)
		return nil
	}
}

func durationSetter(apply func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		d, err := parseSeconds(raw)
		if err != nil {
			return err
		}
		apply(c, d)
		return nil
	}
}

// parseBool accepts the usual spellings of true and false, case-insensitively.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, errors.New("must be a boolean")
}

// parseSeconds accepts a number of seconds ("30", "1.5") or a Go duration ("30s").
func parseSeconds(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.New("must be a number of seconds or a duration")
	}
	return d, nil
}
