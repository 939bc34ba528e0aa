package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides
const EnvPrefix = "VKCRAWLER_"

// Config holds all configuration options for the crawler
type Config struct {
	// Run configuration
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Session pool and transport
	Session SessionConfig `yaml:"session" json:"session"`

	// Per-session pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Task retry policy
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Resume support
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CrawlConfig is the run configuration surface
type CrawlConfig struct {
	Groups             []string `yaml:"groups" json:"groups"`
	MaxPosts           int      `yaml:"max_posts" json:"max_posts"`
	MaxCommentsPerPost int      `yaml:"max_comments_per_post" json:"max_comments_per_post"`
	DBPath             string   `yaml:"db_path" json:"db_path"`
	FastMode           bool     `yaml:"fast_mode" json:"fast_mode"`
	Workers            int      `yaml:"workers" json:"workers"`
	FastWorkers        int      `yaml:"fast_workers" json:"fast_workers"`
	CollectFromDB      bool     `yaml:"collect_from_db" json:"collect_from_db"`
	Resume             bool     `yaml:"resume" json:"resume"`
}

// SessionConfig holds session pool configuration
type SessionConfig struct {
	BaseURL                string        `yaml:"base_url" json:"base_url"`
	PoolSize               int           `yaml:"pool_size" json:"pool_size"`
	RequestTimeout         time.Duration `yaml:"request_timeout" json:"request_timeout"`
	FastRequestTimeout     time.Duration `yaml:"fast_request_timeout" json:"fast_request_timeout"`
	AcquireTimeout         time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	MaxSessionReplacements int           `yaml:"max_session_replacements" json:"max_session_replacements"`
	Accounts               []string      `yaml:"accounts" json:"accounts"`
}

// RateLimitConfig holds the adaptive pacing curve
type RateLimitConfig struct {
	BaseInterval        time.Duration `yaml:"base_interval" json:"base_interval"`
	FastBaseInterval    time.Duration `yaml:"fast_base_interval" json:"fast_base_interval"`
	MaxInterval         time.Duration `yaml:"max_interval" json:"max_interval"`
	Jitter              time.Duration `yaml:"jitter" json:"jitter"`
	FastJitter          time.Duration `yaml:"fast_jitter" json:"fast_jitter"`
	BackoffMultiplier   float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	TransientMultiplier float64       `yaml:"transient_multiplier" json:"transient_multiplier"`
	DecayFactor         float64       `yaml:"decay_factor" json:"decay_factor"`
	Cooldown            time.Duration `yaml:"cooldown" json:"cooldown"`
}

// RetryConfig holds task retry configuration
type RetryConfig struct {
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay" json:"base_delay"`
	RateLimitBaseDelay time.Duration `yaml:"rate_limit_base_delay" json:"rate_limit_base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier         float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor       float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// CheckpointConfig holds resume configuration
type CheckpointConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory" json:"directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			MaxPosts:           50,
			MaxCommentsPerPost: 25,
			DBPath:             defaultDBPath(),
			Workers:            4,
			FastWorkers:        12,
		},
		Session: SessionConfig{
			BaseURL:                "https://m.vk.com",
			PoolSize:               15,
			RequestTimeout:         15 * time.Second,
			FastRequestTimeout:     10 * time.Second,
			AcquireTimeout:         30 * time.Second,
			MaxConsecutiveFailures: 3,
			MaxSessionReplacements: 30,
		},
		RateLimit: RateLimitConfig{
			BaseInterval:        100 * time.Millisecond,
			FastBaseInterval:    20 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			Jitter:              50 * time.Millisecond,
			FastJitter:          0,
			BackoffMultiplier:   2.0,
			TransientMultiplier: 1.5,
			DecayFactor:         0.9,
			Cooldown:            10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:         4,
			BaseDelay:          1 * time.Second,
			RateLimitBaseDelay: 5 * time.Second,
			MaxDelay:           60 * time.Second,
			Multiplier:         2.0,
			JitterFactor:       0.2,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultDBPath() string {
	return filepath.Join(xdg.DataHome, "vkcrawler", "vk.sqlite")
}

// WorkerCount returns the worker concurrency for the configured mode
func (c *Config) WorkerCount() int {
	if c.Crawl.FastMode && c.Crawl.FastWorkers > 0 {
		return c.Crawl.FastWorkers
	}
	return c.Crawl.Workers
}

// PacingFloor returns the base interval and jitter for the configured mode
func (c *Config) PacingFloor() (time.Duration, time.Duration) {
	if c.Crawl.FastMode {
		return c.RateLimit.FastBaseInterval, c.RateLimit.FastJitter
	}
	return c.RateLimit.BaseInterval, c.RateLimit.Jitter
}

// RequestTimeout returns the per-request timeout for the configured mode
func (c *Config) RequestTimeout() time.Duration {
	if c.Crawl.FastMode && c.Session.FastRequestTimeout > 0 {
		return c.Session.FastRequestTimeout
	}
	return c.Session.RequestTimeout
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if groups := os.Getenv(EnvPrefix + "GROUPS"); groups != "" {
		c.Crawl.Groups = splitList(groups)
	}
	if dbPath := os.Getenv(EnvPrefix + "DB_PATH"); dbPath != "" {
		c.Crawl.DBPath = dbPath
	}
	if baseURL := os.Getenv(EnvPrefix + "BASE_URL"); baseURL != "" {
		c.Session.BaseURL = baseURL
	}
	if accounts := os.Getenv(EnvPrefix + "ACCOUNTS"); accounts != "" {
		c.Session.Accounts = splitList(accounts)
	}
	if logLevel := os.Getenv(EnvPrefix + "LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv(EnvPrefix + "LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	ints := map[string]*int{
		"MAX_POSTS":             &c.Crawl.MaxPosts,
		"MAX_COMMENTS_PER_POST": &c.Crawl.MaxCommentsPerPost,
		"WORKERS":               &c.Crawl.Workers,
		"POOL_SIZE":             &c.Session.PoolSize,
		"MAX_RETRIES":           &c.Retry.MaxRetries,
	}
	for name, dst := range ints {
		raw := os.Getenv(EnvPrefix + name)
		if raw == "" {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = val
	}

	bools := map[string]*bool{
		"FAST_MODE":       &c.Crawl.FastMode,
		"COLLECT_FROM_DB": &c.Crawl.CollectFromDB,
		"RESUME":          &c.Crawl.Resume,
	}
	for name, dst := range bools {
		raw := os.Getenv(EnvPrefix + name)
		if raw == "" {
			continue
		}
		val, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = val
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = FindConfigFile()
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

// FindConfigFile returns the first config file found in the standard
// locations, or an empty string
func FindConfigFile() string {
	locations := []string{
		"vkcrawler.yaml",
		"vkcrawler.yml",
		".vkcrawler.yaml",
		filepath.Join(xdg.ConfigHome, "vkcrawler", "config.yaml"),
		filepath.Join(xdg.ConfigHome, "vkcrawler", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Run configuration
	if c.Crawl.MaxPosts <= 0 {
		errs = append(errs, errors.New("max posts must be positive"))
	}
	if c.Crawl.MaxCommentsPerPost < 0 {
		errs = append(errs, errors.New("max comments per post cannot be negative"))
	}
	if c.Crawl.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Crawl.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Crawl.FastWorkers < 0 {
		errs = append(errs, errors.New("fast workers cannot be negative"))
	}

	// Session pool
	if u, err := url.Parse(c.Session.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("base url must be an absolute URL"))
	}
	if c.Session.PoolSize <= 0 {
		errs = append(errs, errors.New("pool size must be positive"))
	}
	if c.Session.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Session.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("acquire timeout must be positive"))
	}
	if c.Session.MaxConsecutiveFailures <= 0 {
		errs = append(errs, errors.New("max consecutive failures must be positive"))
	}
	if c.Session.MaxSessionReplacements < 0 {
		errs = append(errs, errors.New("max session replacements cannot be negative"))
	}

	// Pacing
	if c.RateLimit.BaseInterval < 0 || c.RateLimit.FastBaseInterval < 0 {
		errs = append(errs, errors.New("base interval cannot be negative"))
	}
	if c.RateLimit.MaxInterval < c.RateLimit.BaseInterval {
		errs = append(errs, errors.New("max interval must not be below base interval"))
	}
	if c.RateLimit.BackoffMultiplier < 1 || c.RateLimit.TransientMultiplier < 1 {
		errs = append(errs, errors.New("backoff multipliers must be at least 1"))
	}
	if c.RateLimit.DecayFactor <= 0 || c.RateLimit.DecayFactor > 1 {
		errs = append(errs, errors.New("decay factor must be in (0, 1]"))
	}
	if c.RateLimit.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown cannot be negative"))
	}

	// Retry
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be in [0, 1]"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{"": true, "console": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if groups, ok := flags["groups"].([]string); ok && len(groups) > 0 {
		c.Crawl.Groups = groups
	}
	// Budgets are taken as given so Validate reports a bad one
	if maxPosts, ok := flags["max-posts"].(int); ok {
		c.Crawl.MaxPosts = maxPosts
	}
	if maxComments, ok := flags["max-comments"].(int); ok {
		c.Crawl.MaxCommentsPerPost = maxComments
	}
	if dbPath, ok := flags["db"].(string); ok && dbPath != "" {
		c.Crawl.DBPath = dbPath
	}
	if fast, ok := flags["fast"].(bool); ok {
		c.Crawl.FastMode = fast
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		if c.Crawl.FastMode {
			c.Crawl.FastWorkers = workers
		} else {
			c.Crawl.Workers = workers
		}
	}
	if collect, ok := flags["collect-from-db"].(bool); ok {
		c.Crawl.CollectFromDB = collect
	}
	if resume, ok := flags["resume"].(bool); ok {
		c.Crawl.Resume = resume
	}
	if poolSize, ok := flags["pool-size"].(int); ok && poolSize > 0 {
		c.Session.PoolSize = poolSize
	}
	if accounts, ok := flags["accounts"].([]string); ok && len(accounts) > 0 {
		c.Session.Accounts = accounts
	}
	if maxRetries, ok := flags["max-retries"].(int); ok && maxRetries >= 0 {
		c.Retry.MaxRetries = maxRetries
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment (.env included) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(xdg.ConfigHome, "vkcrawler", ".env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
