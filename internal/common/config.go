package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Database    DatabaseConfig `toml:"database"`
	Broker      BrokerConfig   `toml:"broker"`
	Worker      WorkerConfig   `toml:"worker"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// DatabaseConfig points at the Badger database backing analysis records
type DatabaseConfig struct {
	URI  string `toml:"uri"`  // Database directory path
	Name string `toml:"name"` // Database name, appended to URI
}

// BrokerConfig controls scheduling and autoscaling
type BrokerConfig struct {
	Offline            bool   `toml:"offline"`              // No worker launches; any worker serves any job
	MaxWorkers         int    `toml:"max_workers"`          // Global worker cap across all categories
	TestTaskRedelivery bool   `toml:"test_task_redelivery"` // Force a tiny redelivery timeout for testing
	RedeliveryTimeout  string `toml:"redelivery_timeout"`   // e.g. "4m" - per-task redelivery deadline
	LivenessWindow     string `toml:"liveness_window"`      // e.g. "60s" - worker observation freshness
	WorkerBinary       string `toml:"worker_binary"`        // Path used by the local exec launcher
}

// WorkerConfig controls the worker binary's poll loop
type WorkerConfig struct {
	BrokerURL     string `toml:"broker_url"`
	GraphID       string `toml:"graph_id"`
	PollInterval  string `toml:"poll_interval"`  // e.g. "1s" - sleep between empty polls
	MaxConcurrent int    `toml:"max_concurrent"` // Tasks computed in parallel, 0 = NumCPU
}

type StorageConfig struct {
	ResultsDir string `toml:"results_dir"` // Durable storage directory for finished grids
	ScratchDir string `toml:"scratch_dir"` // Temp directory for in-progress assembly
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// DefaultConfig returns the baseline configuration before file and env layering
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 7070,
			Host: "localhost",
		},
		Database: DatabaseConfig{
			URI:  "./data",
			Name: "aditus",
		},
		Broker: BrokerConfig{
			Offline:           false,
			MaxWorkers:        1000,
			RedeliveryTimeout: "4m",
			LivenessWindow:    "60s",
			WorkerBinary:      "aditus-worker",
		},
		Worker: WorkerConfig{
			BrokerURL:    "http://localhost:7070",
			PollInterval: "1s",
		},
		Storage: StorageConfig{
			ResultsDir: "./results",
			ScratchDir: os.TempDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with layering: defaults -> files (later
// files override earlier ones) -> ADITUS_* environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies ADITUS_* environment variables over the loaded config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ADITUS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("ADITUS_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("ADITUS_DATABASE_URI"); v != "" {
		config.Database.URI = v
	}
	if v := os.Getenv("ADITUS_DATABASE_NAME"); v != "" {
		config.Database.Name = v
	}
	if v := os.Getenv("ADITUS_OFFLINE"); v != "" {
		config.Broker.Offline = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ADITUS_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Broker.MaxWorkers = n
		}
	}
	if v := os.Getenv("ADITUS_BROKER_URL"); v != "" {
		config.Worker.BrokerURL = v
	}
	if v := os.Getenv("ADITUS_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ADITUS_RESULTS_DIR"); v != "" {
		config.Storage.ResultsDir = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string, offline bool, maxWorkers int) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if offline {
		config.Broker.Offline = true
	}
	if maxWorkers != 0 {
		config.Broker.MaxWorkers = maxWorkers
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Broker.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.Broker.MaxWorkers)
	}
	if _, err := c.RedeliveryTimeout(); err != nil {
		return fmt.Errorf("invalid redelivery_timeout: %w", err)
	}
	if _, err := c.LivenessWindow(); err != nil {
		return fmt.Errorf("invalid liveness_window: %w", err)
	}
	return nil
}

// RedeliveryTimeout returns the per-task redelivery deadline. When
// test_task_redelivery is set the timeout collapses to one second so
// redelivery paths can be exercised quickly.
func (c *Config) RedeliveryTimeout() (time.Duration, error) {
	if c.Broker.TestTaskRedelivery {
		return time.Second, nil
	}
	return time.ParseDuration(c.Broker.RedeliveryTimeout)
}

// LivenessWindow returns the worker observation freshness window
func (c *Config) LivenessWindow() (time.Duration, error) {
	return time.ParseDuration(c.Broker.LivenessWindow)
}

// PollInterval returns the worker poll sleep between empty responses
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Worker.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// DatabasePath joins the database URI and name into the Badger directory path
func (c *Config) DatabasePath() string {
	return strings.TrimRight(c.Database.URI, "/") + "/" + c.Database.Name
}
