package config

// DefaultHistoryKey is the storage key holding the serialized report history.
const DefaultHistoryKey = "reportHistory"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "prod",
		Server: ServerConfig{
			Port: 4251,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Backend: "badger",
			Badger: BadgerConfig{
				Path: "./data/quant-portal",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "quant-portal:",
			},
			SQLite: SQLiteConfig{
				Path: "./data/quant-portal.db",
			},
		},
		History: HistoryConfig{
			Key:        DefaultHistoryKey,
			MaxRecords: 200,
		},
		Analysis: AnalysisConfig{
			URL:               "http://localhost:5000",
			Timeout:           "120s",
			RequestsPerMinute: 10,
			BreakerFailures:   5,
			BreakerCooldown:   "30s",
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
