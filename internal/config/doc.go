// Package config resolves the runtime configuration for mcp-foundation.
//
// # Overview
//
// Configuration is resolved once at startup into an immutable *Config. Values
// come from four layers, later layers winning:
//
//  1. An optional YAML or TOML file (see LoadFile)
//  2. A .env file in the working directory, if present (see LoadDotEnv)
//  3. Environment variables (the upper-case key, e.g. DEPLOYMENT_MODE)
//  4. Explicit overrides passed by the caller
//
// Anything not supplied falls back to a default.
//
// # Deployment Modes
//
// The deployment mode drives several derived values:
//
//	development, uvx   debug, reload and use_file_watcher default to true;
//	                   non-sqlite database URLs are replaced with the local default
//	docker, production debug, reload and use_file_watcher default to false;
//	                   database_url is used verbatim
//
// A derived value is only computed when the caller did not set it. An empty
// string counts as unset.
//
// # Configuration File
//
// Files use the same flat keys as the environment:
//
//	deployment_mode: production
//	port: 9000
//	secret_key: "${MCP_SECRET}"
//
// Values of the form ${VAR_NAME} are expanded from the process environment
// before parsing.
//
// # Validation
//
// Resolve validates every range and enum once, after derivation. The first
// violation is returned as a *ValidationError and no partial Config is
// produced:
//
//   - port in [1, 65535]
//   - workers, max_connections, database_pool_size >= 1
//   - redis_db in [0, 15]
//   - request_timeout >= 1s
//   - cache_ttl, database_max_overflow >= 0
//
// # Usage
//
//	cfg, err := config.Load("", nil)
//	if err != nil {
//	    var verr *config.ValidationError
//	    if errors.As(err, &verr) {
//	        // report verr.Field
//	    }
//	}
package config
