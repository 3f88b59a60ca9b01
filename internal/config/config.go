// Package config loads the service's configuration: defaults layered with
// an optional TOML file and then environment variable overrides, matching
// the teacher's internal/config/config.go precedence and helper shape.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the specforge server.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Store       StoreConfig       `toml:"store"`
	Cache       CacheConfig       `toml:"cache"`
	Log         LogConfig         `toml:"log"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
}

// ServerConfig holds HTTP listen settings.
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        string `toml:"port"`
	CORSOrigins string `toml:"cors_origins"`
}

// StoreConfig selects the Artifact Store and CAS backends.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
	// DSN is the postgres connection string. Only used when Backend is "postgres".
	DSN string `toml:"dsn"`
	// CASBackend is "memory", "fs", or "gcs".
	CASBackend string `toml:"cas_backend"`
	// CASPath is the filesystem root. Only used when CASBackend is "fs".
	CASPath string `toml:"cas_path"`
	// CASBucket is the GCS bucket name, required when CASBackend is "gcs".
	// cmd/specforged does not build a GCS client from it: with "gcs" it
	// falls back to the memory CAS.
	CASBucket string `toml:"cas_bucket"`
}

// CacheConfig holds the optional redis read-through cache settings.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// IdempotencyConfig holds the idempotency-key TTL. cmd/specforged applies
// it to the redis idempotency cache entries only; the artifact stores use
// store.DefaultIdempotencyTTL regardless of this setting.
type IdempotencyConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter
//  2. SPECFORGE_CONFIG environment variable
//  3. ./specforge.toml (current directory)
//  4. ~/.config/specforge/specforge.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "3000",
			CORSOrigins: "*",
		},
		Store: StoreConfig{
			Backend:    "memory",
			CASBackend: "memory",
		},
		Cache: CacheConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level: "info",
		},
		Idempotency: IdempotencyConfig{
			TTLHours: 24,
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	// 1. Explicit path passed by the caller, if that file exists
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
	}

	// 2. SPECFORGE_CONFIG env var
	if p := os.Getenv("SPECFORGE_CONFIG"); p != "" {
		return p
	}

	// 3. ./specforge.toml in current directory
	if _, err := os.Stat("specforge.toml"); err == nil {
		return "specforge.toml"
	}

	// 4. ~/.config/specforge/specforge.toml
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/specforge/specforge.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values. An env var only takes effect if it is non-empty. Names follow
// spec.md §6 (PORT, HOST, LOG_LEVEL) plus SPECFORGE_-prefixed names for
// settings the plain spec doesn't name.
func (c *Config) applyEnv() {
	envOverride("HOST", &c.Server.Host)
	envOverride("PORT", &c.Server.Port)
	envOverride("SPECFORGE_CORS_ORIGINS", &c.Server.CORSOrigins)
	envOverride("LOG_LEVEL", &c.Log.Level)

	envOverride("SPECFORGE_STORE_BACKEND", &c.Store.Backend)
	envOverride("SPECFORGE_STORE_DSN", &c.Store.DSN)
	envOverride("SPECFORGE_CAS_BACKEND", &c.Store.CASBackend)
	envOverride("SPECFORGE_CAS_PATH", &c.Store.CASPath)
	envOverride("SPECFORGE_CAS_BUCKET", &c.Store.CASBucket)

	envOverride("SPECFORGE_CACHE_URL", &c.Cache.URL)
	if v := os.Getenv("SPECFORGE_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("SPECFORGE_IDEMPOTENCY_TTL_HOURS"); v != "" {
		var hours int
		if _, err := fmt.Sscanf(v, "%d", &hours); err == nil && hours > 0 {
			c.Idempotency.TTLHours = hours
		}
	}
}

// Validate checks that backend selections carry their required settings.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid store backend: %q (must be \"memory\" or \"postgres\")", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.backend is \"postgres\"")
	}

	switch c.Store.CASBackend {
	case "memory", "fs", "gcs":
	default:
		return fmt.Errorf("invalid CAS backend: %q (must be \"memory\", \"fs\", or \"gcs\")", c.Store.CASBackend)
	}
	if c.Store.CASBackend == "gcs" && c.Store.CASBucket == "" {
		return fmt.Errorf("store.cas_bucket is required when store.cas_backend is \"gcs\"")
	}

	if c.Cache.Enabled && c.Cache.URL == "" {
		return fmt.Errorf("cache.url is required when cache.enabled is true")
	}

	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
