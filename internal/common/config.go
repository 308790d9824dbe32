package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Environment string         `toml:"environment" yaml:"environment"` // "development" or "production"
	Storage     StorageConfig  `toml:"storage" yaml:"storage"`
	Crawler     CrawlerConfig  `toml:"crawler" yaml:"crawler"`
	Gemini      GeminiConfig   `toml:"gemini" yaml:"gemini"`
	Engine      EngineConfig   `toml:"engine" yaml:"engine"`
	Logging     LoggingConfig  `toml:"logging" yaml:"logging"`
	Schedule    ScheduleConfig `toml:"schedule" yaml:"schedule"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path"`                         // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// CrawlerConfig tunes the in-process crawler.
type CrawlerConfig struct {
	UserAgent         string        `toml:"user_agent" yaml:"user_agent"`
	MaxConcurrency    int           `toml:"max_concurrency" yaml:"max_concurrency"`         // Concurrent fetches per batch
	RequestsPerSecond float64       `toml:"requests_per_second" yaml:"requests_per_second"` // Per-host rate limit
	RequestTimeout    time.Duration `toml:"request_timeout" yaml:"request_timeout"`
	MaxBodySize       int64         `toml:"max_body_size" yaml:"max_body_size"` // Response body cap in bytes
	MapLimit          int           `toml:"map_limit" yaml:"map_limit"`         // Max URLs a map call returns
	MapMaxDepth       int           `toml:"map_max_depth" yaml:"map_max_depth"` // BFS depth for link discovery
	OnlyMainContent   bool          `toml:"only_main_content" yaml:"only_main_content"`
}

// GeminiConfig configures the Gemini-backed search store.
type GeminiConfig struct {
	APIKey             string        `toml:"api_key" yaml:"api_key"`
	QueryModel         string        `toml:"query_model" yaml:"query_model"`
	QueryDocumentLimit int           `toml:"query_document_limit" yaml:"query_document_limit"` // Max store documents attached per query
	Timeout            time.Duration `toml:"timeout" yaml:"timeout"`
}

// EngineConfig holds the job engine tunables. Defaults match the pipeline
// contract: 3-strike deletion, 10-minute batch deadline, 5-way uploads.
type EngineConfig struct {
	DeletionThreshold     int           `toml:"deletion_threshold" yaml:"deletion_threshold"`
	BatchPollInterval     time.Duration `toml:"batch_poll_interval" yaml:"batch_poll_interval"`
	BatchMaxWait          time.Duration `toml:"batch_max_wait" yaml:"batch_max_wait"`
	ProgressWriteInterval time.Duration `toml:"progress_write_interval" yaml:"progress_write_interval"`
	UploadConcurrency     int           `toml:"upload_concurrency" yaml:"upload_concurrency"`
	UploadRetryBackoff    time.Duration `toml:"upload_retry_backoff" yaml:"upload_retry_backoff"`
	UploadMaxRetries      int           `toml:"upload_max_retries" yaml:"upload_max_retries"`
	VerifyDelay           time.Duration `toml:"verify_delay" yaml:"verify_delay"`
	OperationPollInterval time.Duration `toml:"operation_poll_interval" yaml:"operation_poll_interval"`
	OperationMaxWait      time.Duration `toml:"operation_max_wait" yaml:"operation_max_wait"`
	InterBatchPause       time.Duration `toml:"inter_batch_pause" yaml:"inter_batch_pause"`
	IndexPageCap          int           `toml:"index_page_cap" yaml:"index_page_cap"`
	RecoveryAge           time.Duration `toml:"recovery_age" yaml:"recovery_age"` // Running-job age before recovery triggers
}

type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level"`             // "debug", "info", "warn", "error"
	Format     string   `toml:"format" yaml:"format"`           // "json" or "text"
	Output     []string `toml:"output" yaml:"output"`           // "stdout", "file"
	TimeFormat string   `toml:"time_format" yaml:"time_format"` // Time format for logs
}

// ScheduleConfig drives the host-side `watch` command. Recrawl policy is the
// caller's concern; the engine only exposes sync as an idempotent operation.
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Cron    string `toml:"cron" yaml:"cron"` // Standard 5-field cron expression
}

// NewDefaultConfig returns the configuration defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/sitedex",
			},
		},
		Crawler: CrawlerConfig{
			UserAgent:         "sitedex/1.0 (+https://github.com/ternarybob/sitedex)",
			MaxConcurrency:    4,
			RequestsPerSecond: 2,
			RequestTimeout:    30 * time.Second,
			MaxBodySize:       10 * 1024 * 1024,
			MapLimit:          5000,
			MapMaxDepth:       5,
			OnlyMainContent:   true,
		},
		Gemini: GeminiConfig{
			QueryModel:         "gemini-2.0-flash",
			QueryDocumentLimit: 20,
			Timeout:            2 * time.Minute,
		},
		Engine: EngineConfig{
			DeletionThreshold:     3,
			BatchPollInterval:     5 * time.Second,
			BatchMaxWait:          10 * time.Minute,
			ProgressWriteInterval: 30 * time.Second,
			UploadConcurrency:     5,
			UploadRetryBackoff:    2 * time.Second,
			UploadMaxRetries:      3,
			VerifyDelay:           3 * time.Second,
			OperationPollInterval: 2 * time.Second,
			OperationMaxWait:      5 * time.Minute,
			InterBatchPause:       500 * time.Millisecond,
			IndexPageCap:          200,
			RecoveryAge:           60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 */6 * * *",
		},
	}
}

// LoadFromFile loads configuration from a single file.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 ->
// file2 -> ... -> env. Later files override earlier ones. TOML is the
// primary format; .yaml/.yml files are accepted.
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

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SITEDEX_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if badgerPath := os.Getenv("SITEDEX_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if apiKey := os.Getenv("SITEDEX_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("SITEDEX_GEMINI_QUERY_MODEL"); model != "" {
		config.Gemini.QueryModel = model
	}

	if threshold := os.Getenv("SITEDEX_DELETION_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil && t > 0 {
			config.Engine.DeletionThreshold = t
		}
	}

	if level := os.Getenv("SITEDEX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SITEDEX_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if schedule := os.Getenv("SITEDEX_SYNC_SCHEDULE"); schedule != "" {
		config.Schedule.Cron = schedule
		config.Schedule.Enabled = true
	}
}

// ValidateSyncSchedule checks the cron expression used by the watch command.
// Sub-5-minute schedules are rejected to keep recrawls polite.
func ValidateSyncSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
