// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	LevelDB   LevelDBConfig   `yaml:"leveldb"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"-"`
}

// LevelDBConfig holds LevelDB cache configuration
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig holds external executor API configuration
type ExecutorConfig struct {
	BaseURL          string `yaml:"baseUrl"`
	APIKey           string `yaml:"-"`
	RequestTimeout   int    `yaml:"requestTimeout"`   // seconds
	BreakerThreshold int    `yaml:"breakerThreshold"` // consecutive failures before the breaker opens
	BreakerCooldown  int    `yaml:"breakerCooldown"`  // seconds the breaker stays open
}

// MonitorConfig holds execution monitor configuration
type MonitorConfig struct {
	PollInterval int `yaml:"pollInterval"` // seconds between executor polls
}

// ReaperConfig holds the orphaned-execution sweep configuration
type ReaperConfig struct {
	Schedule       string `yaml:"schedule"`       // cron expression
	StaleThreshold int    `yaml:"staleThreshold"` // minutes before a live execution counts as orphaned
}

// WebSocketConfig holds observer connection configuration
type WebSocketConfig struct {
	ReadLimit int64 `yaml:"readLimit"` // max inbound message size in bytes
}

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultLevelDBPath        = "./data/leveldb"
	DefaultExecutorBaseURL    = "https://api.toolhouse.ai"
	DefaultRequestTimeout     = 30
	DefaultBreakerThreshold   = 5
	DefaultBreakerCooldown    = 60
	DefaultPollInterval       = 2
	DefaultReaperSchedule     = "*/5 * * * *"
	DefaultStaleThreshold     = 60
	DefaultWSReadLimit        = 64 * 1024
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// Load creates a new configuration from the YAML file, overridden by
// environment variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	postgresURL := os.Getenv("AGENTHUB_POSTGRES_URL")
	if postgresURL == "" {
		return nil, fmt.Errorf("AGENTHUB_POSTGRES_URL environment variable is required")
	}

	executorAPIKey := os.Getenv("AGENTHUB_EXECUTOR_API_KEY")
	if executorAPIKey == "" {
		return nil, fmt.Errorf("AGENTHUB_EXECUTOR_API_KEY environment variable is required")
	}

	config.Server = ServerConfig{
		Port:         getEnv("AGENTHUB_SERVER_PORT", orDefault(config.Server.Port, DefaultServerPort)),
		ReadTimeout:  getEnvInt("AGENTHUB_SERVER_READ_TIMEOUT", orDefaultInt(config.Server.ReadTimeout, DefaultServerReadTimeout)),
		WriteTimeout: getEnvInt("AGENTHUB_SERVER_WRITE_TIMEOUT", orDefaultInt(config.Server.WriteTimeout, DefaultServerWriteTimeout)),
	}

	config.Postgres = PostgresConfig{
		URL: postgresURL,
	}

	config.LevelDB = LevelDBConfig{
		Path: getEnv("AGENTHUB_LEVELDB_PATH", orDefault(config.LevelDB.Path, DefaultLevelDBPath)),
	}

	config.Executor = ExecutorConfig{
		BaseURL:          getEnv("AGENTHUB_EXECUTOR_BASE_URL", orDefault(config.Executor.BaseURL, DefaultExecutorBaseURL)),
		APIKey:           executorAPIKey,
		RequestTimeout:   getEnvInt("AGENTHUB_EXECUTOR_REQUEST_TIMEOUT", orDefaultInt(config.Executor.RequestTimeout, DefaultRequestTimeout)),
		BreakerThreshold: orDefaultInt(config.Executor.BreakerThreshold, DefaultBreakerThreshold),
		BreakerCooldown:  orDefaultInt(config.Executor.BreakerCooldown, DefaultBreakerCooldown),
	}

	config.Monitor = MonitorConfig{
		PollInterval: getEnvInt("AGENTHUB_MONITOR_POLL_INTERVAL", orDefaultInt(config.Monitor.PollInterval, DefaultPollInterval)),
	}

	config.Reaper = ReaperConfig{
		Schedule:       orDefault(config.Reaper.Schedule, DefaultReaperSchedule),
		StaleThreshold: orDefaultInt(config.Reaper.StaleThreshold, DefaultStaleThreshold),
	}

	if config.WebSocket.ReadLimit == 0 {
		config.WebSocket.ReadLimit = DefaultWSReadLimit
	}

	return &config, nil
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}
