package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/fetcher"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/retry"
	"github.com/platinummonkey/traffic-stats/pkg/storage"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the optional YAML config path
const ConfigFileEnv = "TRAFFIC_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// GitHub API configuration
	GitHub GitHubConfig `yaml:"github"`

	// Collection configuration
	Collection CollectionConfig `yaml:"collection"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// GitHubConfig holds traffic API client settings
type GitHubConfig struct {
	// Token is only read from the environment
	Token             string        `yaml:"-"`
	Owner             string        `yaml:"owner"`
	APIURL            string        `yaml:"api_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	MaxRateLimitWaits int           `yaml:"max_rate_limit_waits"`
	CacheEnabled      bool          `yaml:"cache_enabled"`
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// CollectionConfig holds what to collect and how
type CollectionConfig struct {
	Repository   string   `yaml:"repository"`
	Repositories []string `yaml:"repositories"`
	Metrics      []string `yaml:"metrics"`
	Workers      int      `yaml:"workers"`
}

// StorageConfig holds output locations and backends
type StorageConfig struct {
	OutputDir      string        `yaml:"output_dir"`
	SummaryBackend string        `yaml:"summary_backend"`
	SummaryDSN     string        `yaml:"summary_dsn"`
	RedisURL       string        `yaml:"redis_url"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// Metrics
	MetricsFile string `yaml:"metrics_file"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIURL:            "https://api.github.com/",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RetryBaseDelay:    1 * time.Second,
			RetryMaxDelay:     1 * time.Minute,
			MaxRateLimitWaits: 3,
			CacheEnabled:      true,
			CacheSize:         64,
			CacheTTL:          1 * time.Hour,
		},
		Collection: CollectionConfig{
			Workers: 2,
		},
		Storage: StorageConfig{
			OutputDir:      "traffic-stats",
			SummaryBackend: storage.BackendCSV,
			LockTTL:        30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFile:            "traffic-stats/traffic-stats.log",
			LogMaxSizeMB:       10,
			LogMaxBackups:      5,
			LogMaxAgeDays:      30,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "traffic-stats",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (or
// $TRAFFIC_CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overrides values with the environment variables that are set
func (c *Config) loadEnv() {
	gh := &c.GitHub
	gh.Token = getEnv("TRAFFIC_GITHUB_TOKEN", getEnv("GITHUB_TOKEN", getEnv("GH_TOKEN", gh.Token)))
	gh.Owner = getEnv("TRAFFIC_OWNER", gh.Owner)
	gh.APIURL = getEnv("TRAFFIC_API_URL", gh.APIURL)
	gh.Timeout = getEnvDuration("TRAFFIC_HTTP_TIMEOUT", gh.Timeout)
	gh.MaxRetries = getEnvInt("TRAFFIC_MAX_RETRIES", gh.MaxRetries)
	gh.RetryBaseDelay = getEnvDuration("TRAFFIC_RETRY_BASE_DELAY", gh.RetryBaseDelay)
	gh.RetryMaxDelay = getEnvDuration("TRAFFIC_RETRY_MAX_DELAY", gh.RetryMaxDelay)
	gh.MaxRateLimitWaits = getEnvInt("TRAFFIC_MAX_RATE_LIMIT_WAITS", gh.MaxRateLimitWaits)
	gh.CacheEnabled = getEnvBool("TRAFFIC_CACHE_ENABLED", gh.CacheEnabled)
	gh.CacheSize = getEnvInt("TRAFFIC_CACHE_SIZE", gh.CacheSize)
	gh.CacheTTL = getEnvDuration("TRAFFIC_CACHE_TTL", gh.CacheTTL)

	col := &c.Collection
	if repo := getEnv("TRAFFIC_REPOSITORY", ""); repo != "" {
		col.Repository = repo
	} else if col.Repository == "" {
		// GITHUB_REPOSITORY is set by Actions as owner/repo
		if owner, repo, ok := strings.Cut(os.Getenv("GITHUB_REPOSITORY"), "/"); ok {
			col.Repository = repo
			if gh.Owner == "" {
				gh.Owner = owner
			}
		}
	}
	if metrics := getEnv("TRAFFIC_METRICS", ""); metrics != "" {
		col.Metrics = splitList(metrics)
	}
	if repos := getEnv("TRAFFIC_REPOSITORIES", ""); repos != "" {
		col.Repositories = splitList(repos)
	}
	col.Workers = getEnvInt("TRAFFIC_WORKERS", col.Workers)

	st := &c.Storage
	st.OutputDir = getEnv("TRAFFIC_OUTPUT_DIR", st.OutputDir)
	st.SummaryBackend = strings.ToLower(getEnv("TRAFFIC_SUMMARY_BACKEND", st.SummaryBackend))
	st.SummaryDSN = getEnv("TRAFFIC_SUMMARY_DSN", st.SummaryDSN)
	st.RedisURL = getEnv("TRAFFIC_REDIS_URL", st.RedisURL)
	st.LockTTL = getEnvDuration("TRAFFIC_LOCK_TTL", st.LockTTL)

	obs := &c.Observability
	obs.LogLevel = getEnv("TRAFFIC_LOG_LEVEL", obs.LogLevel)
	obs.LogFile = getEnv("TRAFFIC_LOG_FILE", obs.LogFile)
	obs.LogMaxSizeMB = getEnvInt("TRAFFIC_LOG_MAX_SIZE_MB", obs.LogMaxSizeMB)
	obs.LogMaxBackups = getEnvInt("TRAFFIC_LOG_MAX_BACKUPS", obs.LogMaxBackups)
	obs.LogMaxAgeDays = getEnvInt("TRAFFIC_LOG_MAX_AGE_DAYS", obs.LogMaxAgeDays)
	obs.MetricsFile = getEnv("TRAFFIC_METRICS_FILE", obs.MetricsFile)
	obs.OTelEnabled = getEnvBool("TRAFFIC_OTEL_ENABLED", obs.OTelEnabled)
	obs.OTelEndpoint = getEnv("TRAFFIC_OTEL_ENDPOINT", obs.OTelEndpoint)
	obs.OTelServiceName = getEnv("TRAFFIC_OTEL_SERVICE_NAME", obs.OTelServiceName)
	obs.OTelServiceVersion = getEnv("TRAFFIC_OTEL_SERVICE_VERSION", obs.OTelServiceVersion)
	obs.OTelInsecure = getEnvBool("TRAFFIC_OTEL_INSECURE", obs.OTelInsecure)
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	if c.GitHub.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.GitHub.MaxRateLimitWaits < 0 {
		return fmt.Errorf("max rate limit waits must not be negative")
	}
	if c.GitHub.CacheEnabled && c.GitHub.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}
	if c.Collection.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if _, err := c.MetricList(); err != nil {
		return err
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	switch c.Storage.SummaryBackend {
	case storage.BackendCSV:
	case storage.BackendSQLite, storage.BackendPostgres:
		if c.Storage.SummaryDSN == "" {
			return fmt.Errorf("summary DSN is required for the %s backend", c.Storage.SummaryBackend)
		}
	default:
		return fmt.Errorf("invalid summary backend: %s (must be csv, sqlite3, or postgres)", c.Storage.SummaryBackend)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ValidateForCollect additionally checks what a collection run needs
func (c *Config) ValidateForCollect() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var errs []error
	if c.GitHub.Token == "" {
		errs = append(errs, fmt.Errorf("a GitHub token is required (TRAFFIC_GITHUB_TOKEN or GITHUB_TOKEN)"))
	}
	if c.GitHub.Owner == "" {
		errs = append(errs, fmt.Errorf("a repository owner is required (TRAFFIC_OWNER)"))
	}
	if c.Collection.Repository == "" {
		errs = append(errs, fmt.Errorf("a repository is required"))
	} else if strings.ContainsAny(c.Collection.Repository, `/\`) {
		errs = append(errs, fmt.Errorf("invalid repository name %q", c.Collection.Repository))
	}
	return errors.Join(errs...)
}

// MetricList returns the configured metrics, or all of them when none are configured
func (c *Config) MetricList() ([]traffic.Metric, error) {
	return traffic.ParseMetrics(strings.Join(c.Collection.Metrics, ","))
}

// RetryPolicy returns the fetch retry policy. Attempts are retries plus the first try.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.GitHub.MaxRetries + 1,
		InitialDelay: c.GitHub.RetryBaseDelay,
		MaxDelay:     c.GitHub.RetryMaxDelay,
		Multiplier:   2.0,
		MaxWaits:     c.GitHub.MaxRateLimitWaits,
	}
}

// FetcherConfig returns the traffic API client configuration
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		Owner:        c.GitHub.Owner,
		Token:        c.GitHub.Token,
		BaseURL:      c.GitHub.APIURL,
		Timeout:      c.GitHub.Timeout,
		Retry:        c.RetryPolicy(),
		CacheEnabled: c.GitHub.CacheEnabled,
		CacheSize:    c.GitHub.CacheSize,
		CacheTTL:     c.GitHub.CacheTTL,
	}
}

// SummaryConfig returns the summary store configuration
func (c *Config) SummaryConfig() storage.SummaryConfig {
	return storage.SummaryConfig{
		Backend:   c.Storage.SummaryBackend,
		OutputDir: c.Storage.OutputDir,
		DSN:       c.Storage.SummaryDSN,
	}
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// LogFileConfig returns the rotating log file configuration
func (c *Config) LogFileConfig() observability.LogFileConfig {
	return observability.LogFileConfig{
		Path:       c.Observability.LogFile,
		MaxSizeMB:  c.Observability.LogMaxSizeMB,
		MaxBackups: c.Observability.LogMaxBackups,
		MaxAgeDays: c.Observability.LogMaxAgeDays,
		Compress:   true,
	}
}

// OTelConfig returns the tracing configuration for the named binary
func (c *Config) OTelConfig(serviceName string) observability.OTelConfig {
	name := c.Observability.OTelServiceName
	if serviceName != "" {
		name = name + "-" + serviceName
	}
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    name,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// splitList splits a comma separated list, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
