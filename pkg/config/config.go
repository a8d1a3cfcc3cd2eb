package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for mediafetch.
type Config struct {
	// Metadata API settings
	API APIConfig `yaml:"api" json:"api"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Proxy rotation configuration
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// Retry behavior for API calls
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Asset transfer settings
	Transfer TransferConfig `yaml:"transfer" json:"transfer"`

	// Download archive settings
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig holds settings for the metadata API boundary.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	PageSize  int           `yaml:"page_size" json:"page_size"`
}

// RateLimitConfig holds sliding-window rate limiter configuration.
// The defaults follow the conservative anonymous-access budget; the jitter
// range and window shape are provider-tuned, so keep them configurable.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
	JitterMin   time.Duration `yaml:"jitter_min" json:"jitter_min"`
	JitterMax   time.Duration `yaml:"jitter_max" json:"jitter_max"`
}

// ProxyConfig holds egress selection configuration. URL takes precedence
// over File; both empty means direct egress.
type ProxyConfig struct {
	URL         string `yaml:"url" json:"url"`
	File        string `yaml:"file" json:"file"`
	RotateEvery int    `yaml:"rotate_every" json:"rotate_every"`
}

// RetryConfig holds retry/backoff configuration for API calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after" json:"default_retry_after"`
}

// TransferConfig holds asset transfer configuration.
type TransferConfig struct {
	BatchSize   int           `yaml:"batch_size" json:"batch_size"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	UseAria2    bool          `yaml:"use_aria2" json:"use_aria2"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// ArchiveConfig holds download archive configuration. An empty path
// disables persistence (dedup still works within the run).
type ArchiveConfig struct {
	Path string `yaml:"path" json:"path"`
}

// OutputConfig holds output directory configuration.
type OutputConfig struct {
	BaseDirectory     string `yaml:"base_directory" json:"base_directory"`
	CreateUserFolders bool   `yaml:"create_user_folders" json:"create_user_folders"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:   30 * time.Second,
			PageSize:  12,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 75,
			Window:      660 * time.Second,
			JitterMin:   500 * time.Millisecond,
			JitterMax:   5 * time.Second,
		},
		Proxy: ProxyConfig{
			RotateEvery: 20,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       time.Second,
			BackoffCap:        60 * time.Second,
			DefaultRetryAfter: 300 * time.Second,
		},
		Transfer: TransferConfig{
			BatchSize:   50,
			Concurrency: 16,
			UseAria2:    true,
			Timeout:     60 * time.Second,
		},
		Archive: ArchiveConfig{},
		Output: OutputConfig{
			BaseDirectory:     "./downloads",
			CreateUserFolders: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Config) LoadFromEnv() error {
	if base := os.Getenv("MEDIAFETCH_API_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if ua := os.Getenv("MEDIAFETCH_USER_AGENT"); ua != "" {
		c.API.UserAgent = ua
	}
	if v := os.Getenv("MEDIAFETCH_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.MaxRequests = n
		}
	}
	if v := os.Getenv("MEDIAFETCH_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.RateLimit.Window = d
		}
	}
	if p := os.Getenv("MEDIAFETCH_PROXY"); p != "" {
		c.Proxy.URL = p
	}
	if p := os.Getenv("MEDIAFETCH_PROXY_FILE"); p != "" {
		c.Proxy.File = p
	}
	if v := os.Getenv("MEDIAFETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Transfer.Concurrency = n
		}
	}
	if v := os.Getenv("MEDIAFETCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Transfer.BatchSize = n
		}
	}
	if v := os.Getenv("MEDIAFETCH_USE_ARIA2"); v != "" {
		c.Transfer.UseAria2 = strings.EqualFold(v, "true") || v == "1"
	}
	if p := os.Getenv("MEDIAFETCH_ARCHIVE"); p != "" {
		c.Archive.Path = p
	}
	if dir := os.Getenv("MEDIAFETCH_OUTPUT_DIR"); dir != "" {
		c.Output.BaseDirectory = dir
	}
	if lvl := os.Getenv("MEDIAFETCH_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path tries
// the default locations and is not an error when nothing is found.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile looks for a config file in standard locations.
func (c *Config) findConfigFile() string {
	candidates := []string{
		"mediafetch.yaml",
		"mediafetch.yml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "mediafetch", "config.yaml"),
			filepath.Join(home, ".mediafetch.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %v", c.RateLimit.Window)
	}
	if c.RateLimit.JitterMin < 0 || c.RateLimit.JitterMax < c.RateLimit.JitterMin {
		return fmt.Errorf("rate_limit jitter range [%v, %v] is invalid", c.RateLimit.JitterMin, c.RateLimit.JitterMax)
	}
	if c.Proxy.RotateEvery <= 0 {
		return fmt.Errorf("proxy.rotate_every must be positive, got %d", c.Proxy.RotateEvery)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffCap < c.Retry.BackoffBase {
		return fmt.Errorf("retry.backoff_cap %v is below retry.backoff_base %v", c.Retry.BackoffCap, c.Retry.BackoffBase)
	}
	if c.Transfer.BatchSize <= 0 {
		return fmt.Errorf("transfer.batch_size must be positive, got %d", c.Transfer.BatchSize)
	}
	if c.Transfer.Concurrency <= 0 {
		return fmt.Errorf("transfer.concurrency must be positive, got %d", c.Transfer.Concurrency)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error, fatal", c.Logging.Level)
	}
	return nil
}

// Load builds the effective configuration: defaults, then .env, then the
// YAML file, then environment variable overrides.
func Load(configPath string) (*Config, error) {
	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
