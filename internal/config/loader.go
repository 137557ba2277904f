package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/omarluq/quota-relay/internal/store"
)

// Format is a configuration file format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from the file extension. Unknown
// extensions are read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads a configuration file, expands ${VAR} references, applies
// QUOTA_RELAY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	cfg, err := LoadFromReader(file, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault returns Default with environment overrides applied.
func LoadDefault() (*Config, error) {
	cfg := Default()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader parses configuration in the given format. Environment
// variables in the form ${VAR_NAME} are expanded before parsing.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(content)))

	cfg := Default()
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return cfg, nil
}

// Environment variables that override file settings.
const (
	EnvBackend        = "QUOTA_RELAY_BACKEND"
	EnvSharedDriver   = "QUOTA_RELAY_SHARED_DRIVER"
	EnvRedisAddr      = "QUOTA_RELAY_REDIS_ADDR"
	EnvMaxRetries     = "QUOTA_RELAY_MAX_RETRIES"
	EnvInitialBackoff = "QUOTA_RELAY_INITIAL_BACKOFF"
	EnvLogLevel       = "QUOTA_RELAY_LOG_LEVEL"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the QUOTA_RELAY_* variables that are set.
// QUOTA_RELAY_INITIAL_BACKOFF takes a Go duration ("5s") or plain seconds.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		cfg.Limiter.Backend = store.Backend(strings.ToLower(v))
	}
	if v, ok := lookup(EnvSharedDriver); ok && v != "" {
		cfg.Limiter.Shared.Driver = store.Driver(strings.ToLower(v))
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		cfg.Limiter.Shared.Redis.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &EnvError{Name: EnvMaxRetries, Value: v, Err: err}
		}
		cfg.Retry.MaxRetries = &n
	}
	if v, ok := lookup(EnvInitialBackoff); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return &EnvError{Name: EnvInitialBackoff, Value: v, Err: err}
		}
		cfg.Retry.InitialBackoffMS = int(d / time.Millisecond)
	}
	return nil
}

func parseSeconds(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
