package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Data       DataConfig       `mapstructure:"data"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Export     ExportConfig     `mapstructure:"export"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DataConfig holds the input and output dataset layout
type DataConfig struct {
	RawDir          string   `mapstructure:"raw_dir"`
	OutputDir       string   `mapstructure:"output_dir"`
	TopEvents       int      `mapstructure:"top_events"`
	AmountColumns   []string `mapstructure:"amount_columns"`
	TimestampColumn string   `mapstructure:"timestamp_column"`
}

// PipelineConfig holds worker pool configuration
type PipelineConfig struct {
	Workers int `mapstructure:"workers"` // 0 means one worker per CPU
}

// StorageConfig holds the SQLite run ledger configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// ExportConfig holds optional extra export formats
type ExportConfig struct {
	XLSXPath string `mapstructure:"xlsx_path"`
}

// MetricsConfig holds batch metrics output configuration
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// PolymarketConfig holds Polymarket CLOB API configuration
type PolymarketConfig struct {
	CLOBAPIURL     string        `mapstructure:"clob_api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Interval       string        `mapstructure:"interval"`
	Fidelity       int           `mapstructure:"fidelity"`

	// RequestsPerSecond caps price history requests; 0 disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("POLYSEGMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Data defaults
	v.SetDefault("data.raw_dir", "./raw")
	v.SetDefault("data.output_dir", "./output")
	v.SetDefault("data.top_events", 10)
	v.SetDefault("data.amount_columns", []string{"trade_amount", "amount", "size", "qty", "quantity"})
	v.SetDefault("data.timestamp_column", "timestamp")

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 0)

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", "./output/polysegment.db")

	// Polymarket defaults
	v.SetDefault("polymarket.clob_api_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.interval", "max")
	v.SetDefault("polymarket.fidelity", 60)
	v.SetDefault("polymarket.requests_per_second", 5)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Data config
	if c.Data.RawDir == "" {
		return fmt.Errorf("data.raw_dir is required")
	}
	if c.Data.OutputDir == "" {
		return fmt.Errorf("data.output_dir is required")
	}
	if c.Data.TopEvents < 1 {
		return fmt.Errorf("data.top_events must be at least 1")
	}
	if len(c.Data.AmountColumns) == 0 {
		return fmt.Errorf("data.amount_columns must contain at least one column")
	}
	if c.Data.TimestampColumn == "" {
		return fmt.Errorf("data.timestamp_column is required")
	}

	// Validate Pipeline config
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}

	// Validate Polymarket config
	if c.Polymarket.CLOBAPIURL == "" {
		return fmt.Errorf("polymarket.clob_api_url is required")
	}
	if c.Polymarket.Timeout < 1*time.Second {
		return fmt.Errorf("polymarket.timeout must be at least 1 second")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}
	if c.Polymarket.RequestsPerSecond < 0 {
		return fmt.Errorf("polymarket.requests_per_second must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// WorkerCount returns the effective worker pool size.
func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.NumCPU()
}
