package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	History     HistoryConfig  `toml:"history"`
	Analysis    AnalysisConfig `toml:"analysis"`
	Assets      AssetsConfig   `toml:"assets"`
	MCP         MCPConfig      `toml:"mcp"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects the durable key-value backend.
// Backend is one of "badger" (default), "redis", "sqlite" or "memory".
type StorageConfig struct {
	Backend string       `toml:"backend"`
	Badger  BadgerConfig `toml:"badger"`
	Redis   RedisConfig  `toml:"redis"`
	SQLite  SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig contains BadgerDB-specific settings.
type BadgerConfig struct {
	Path string `toml:"path"`
}

// RedisConfig contains redis connection settings. Prefix is prepended to every key.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// SQLiteConfig contains the sqlite database file location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// HistoryConfig controls the report history store.
//
// MaxRecords caps the history (0 = unbounded). Eviction removes the oldest
// records but never the one just added, so when the history is full an
// arrival older than every stored record stays and the oldest of the others
// goes.
type HistoryConfig struct {
	Key              string `toml:"key"`
	MaxRecords       int    `toml:"max_records"`
	AutoSelectLatest bool   `toml:"auto_select_latest"`
	Dedupe           bool   `toml:"dedupe"`
}

// AnalysisConfig points at the external analysis backend.
type AnalysisConfig struct {
	URL               string `toml:"url"`
	Timeout           string `toml:"timeout"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	BreakerFailures   int    `toml:"breaker_failures"`
	BreakerCooldown   string `toml:"breaker_cooldown"`
}

// GetTimeout parses the request timeout, defaulting to two minutes.
// Analysis runs a full backtest and sentiment pass, so it is slow.
func (c *AnalysisConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// GetBreakerCooldown parses how long the breaker stays open, defaulting to 30s.
func (c *AnalysisConfig) GetBreakerCooldown() time.Duration {
	d, err := time.ParseDuration(c.BreakerCooldown)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// AssetsConfig optionally replaces the built-in asset catalog with a TOML file.
type AssetsConfig struct {
	File string `toml:"file"`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// ToCommon converts to the logger's configuration type.
func (c LoggingConfig) ToCommon() common.LoggingConfig {
	return common.LoggingConfig{
		Level:      c.Level,
		Outputs:    c.Outputs,
		FilePath:   c.FilePath,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
}

// IsProduction reports whether the environment is "prod" (or unset).
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "" || env == "prod"
}

// BaseURL returns the URL the server listens on.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// Validate returns a list of configuration problems, empty when valid.
func (c *Config) Validate() []string {
	var issues []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}

	switch c.Storage.Backend {
	case "badger":
		if strings.TrimSpace(c.Storage.Badger.Path) == "" {
			issues = append(issues, "storage.badger.path is required when storage.backend is \"badger\"")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			issues = append(issues, "storage.redis.addr is required when storage.backend is \"redis\"")
		}
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			issues = append(issues, "storage.sqlite.path is required when storage.backend is \"sqlite\"")
		}
	case "memory":
	default:
		issues = append(issues, fmt.Sprintf("storage.backend must be one of badger, redis, sqlite, memory (got %q)", c.Storage.Backend))
	}

	if strings.TrimSpace(c.History.Key) == "" {
		issues = append(issues, "history.key must not be empty")
	}
	if c.History.MaxRecords < 0 {
		issues = append(issues, fmt.Sprintf("history.max_records must be >= 0 (got %d)", c.History.MaxRecords))
	}

	if strings.TrimSpace(c.Analysis.URL) == "" {
		issues = append(issues, "analysis.url is required")
	}
	if c.Analysis.Timeout != "" {
		if _, err := time.ParseDuration(c.Analysis.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("analysis.timeout is not a duration: %q", c.Analysis.Timeout))
		}
	}

	return issues
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies QUANT_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUANT_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("QUANT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUANT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if backend := os.Getenv("QUANT_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if badgerPath := os.Getenv("QUANT_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if addr := os.Getenv("QUANT_REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("QUANT_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if sqlitePath := os.Getenv("QUANT_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}
	if maxRecords := os.Getenv("QUANT_HISTORY_MAX_RECORDS"); maxRecords != "" {
		if n, err := strconv.Atoi(maxRecords); err == nil {
			config.History.MaxRecords = n
		}
	}
	if autoSelect := os.Getenv("QUANT_HISTORY_AUTO_SELECT_LATEST"); autoSelect != "" {
		if b, err := strconv.ParseBool(autoSelect); err == nil {
			config.History.AutoSelectLatest = b
		}
	}
	if url := os.Getenv("QUANT_ANALYSIS_URL"); url != "" {
		config.Analysis.URL = url
	}
	if level := os.Getenv("QUANT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
