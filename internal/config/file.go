// ABOUTME: Optional YAML/TOML configuration file layer
// ABOUTME: Expands ${VAR} references and flattens values to configuration keys

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) file of flat
// configuration keys. Environment variables in the format ${VAR_NAME} are
// expanded before parsing.
func LoadFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &raw); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	vals := make(Values, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			vals[strings.ToLower(k)] = tv
		case bool, int, int64, uint64, float64:
			vals[strings.ToLower(k)] = fmt.Sprint(tv)
		default:
			return nil, fmt.Errorf("config key %q: nested values are not supported", k)
		}
	}
	return vals, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
