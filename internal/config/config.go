package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Spool    SpoolConfig    `yaml:"spool"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Printers PrintersConfig `yaml:"printers"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AuthEnabled  bool          `yaml:"auth_enabled"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	HistoryDays int    `yaml:"history_days"`
}

type SpoolConfig struct {
	Directory string `yaml:"directory"`
}

type JobsConfig struct {
	RetentionWindow    time.Duration `yaml:"retention_window"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`
	// WorkerLimit caps jobs processed at once across all printers. 0 means
	// no limit beyond one per printer.
	WorkerLimit int `yaml:"worker_limit"`
}

type PrintersConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	Devices           []PrinterSeed `yaml:"devices"`
}

// PrinterSeed is a printer created at startup if it does not exist yet.
type PrinterSeed struct {
	Name      string `yaml:"name"`
	DeviceURI string `yaml:"device_uri"`
}

type WebhooksConfig struct {
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret"`
	Events     []string `yaml:"events"`
	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8631,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			AuthEnabled:  true,
		},
		Database: DatabaseConfig{
			Path:        "./data/printapp.db",
			HistoryDays: 30,
		},
		Spool: SpoolConfig{
			Directory: "./data/spool",
		},
		Jobs: JobsConfig{
			RetentionWindow:    60 * time.Second,
			CleanupInterval:    10 * time.Second,
			CancelPollInterval: 250 * time.Millisecond,
		},
		Printers: PrintersConfig{
			ConnectionTimeout: 10 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Workers:    2,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads a YAML config file over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRINTAPP_HOST"); v != "" {
		c.Server.Host = v
	}

	if v := os.Getenv("PRINTAPP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTAPP_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Server.AuthEnabled = enabled
		}
	}

	if v := os.Getenv("PRINTAPP_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTAPP_SPOOL_DIR"); v != "" {
		c.Spool.Directory = v
	}

	if v := os.Getenv("PRINTAPP_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Jobs.RetentionWindow = d
		}
	}

	if v := os.Getenv("PRINTAPP_WEBHOOK_URL"); v != "" {
		c.Webhooks.URL = v
	}

	if v := os.Getenv("PRINTAPP_WEBHOOK_SECRET"); v != "" {
		c.Webhooks.Secret = v
	}

	if v := os.Getenv("PRINTAPP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PRINTAPP_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.HistoryDays < 0 {
		return fmt.Errorf("history days must be non-negative")
	}

	if c.Spool.Directory == "" {
		return fmt.Errorf("spool directory is required")
	}

	if c.Jobs.RetentionWindow <= 0 {
		return fmt.Errorf("job retention window must be positive")
	}

	if c.Jobs.CleanupInterval <= 0 {
		return fmt.Errorf("job cleanup interval must be positive")
	}

	if c.Jobs.CancelPollInterval <= 0 {
		return fmt.Errorf("job cancel poll interval must be positive")
	}

	if c.Jobs.WorkerLimit < 0 {
		return fmt.Errorf("worker limit must be non-negative")
	}

	if c.Printers.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	seen := make(map[string]bool)
	for i, p := range c.Printers.Devices {
		if p.Name == "" {
			return fmt.Errorf("printer %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("printer %q is defined twice", p.Name)
		}
		seen[p.Name] = true
	}

	if c.Webhooks.URL != "" && c.Webhooks.Workers < 1 {
		return fmt.Errorf("webhook workers must be at least 1")
	}

	if c.Webhooks.MaxRetries < 0 {
		return fmt.Errorf("webhook max retries must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
