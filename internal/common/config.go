package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment" yaml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig    `toml:"server" yaml:"server"`
	Storage     StorageConfig   `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig   `toml:"logging" yaml:"logging"`
	Crawler     CrawlerConfig   `toml:"crawler" yaml:"crawler"`
	Cache       CacheConfig     `toml:"cache" yaml:"cache"`
	Events      EventsConfig    `toml:"events" yaml:"events"`
	Scheduler   SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	WebSocket   WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Auth        AuthConfig      `toml:"auth" yaml:"auth"`
}

type ServerConfig struct {
	Port int    `toml:"port" yaml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host" yaml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path" validate:"required"`     // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level         string   `toml:"level" yaml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Format        string   `toml:"format" yaml:"format" validate:"oneof=text json"`           // "json" or "text"
	Output        []string `toml:"output" yaml:"output"`                                      // "stdout", "file"
	MinEventLevel string   `toml:"min_event_level" yaml:"min_event_level"`                    // Minimum log level persisted as job log entries
}

// CrawlerConfig carries the service-level crawl policy plus the defaults
// applied to per-job config options the client leaves unset.
type CrawlerConfig struct {
	UserAgent             string `toml:"user_agent" yaml:"user_agent" validate:"required"`
	MaxDepth              int    `toml:"max_depth" yaml:"max_depth" validate:"min=0,max=10"`
	MaxPages              int    `toml:"max_pages" yaml:"max_pages" validate:"min=1,max=1000"`
	JobTimeoutMs          int    `toml:"timeout_ms" yaml:"timeout_ms" validate:"min=1000"`        // Wall-clock deadline per job
	PageTimeoutMs         int    `toml:"page_timeout_ms" yaml:"page_timeout_ms" validate:"min=100"` // Per-fetch timeout
	RateLimitMs           int    `toml:"rate_limit_ms" yaml:"rate_limit_ms" validate:"min=0"`     // Minimum gap between fetches per host
	MaxConcurrentRequests int    `toml:"max_concurrent_requests" yaml:"max_concurrent_requests" validate:"min=1,max=10"`
	MaxRetries            int    `toml:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	QualityThreshold      int    `toml:"quality_threshold" yaml:"quality_threshold" validate:"min=0,max=100"`
	RespectRobots         bool   `toml:"respect_robots" yaml:"respect_robots"`
	UseSitemap            bool   `toml:"use_sitemap" yaml:"use_sitemap"`
	MaxBodySize           int    `toml:"max_body_size" yaml:"max_body_size" validate:"min=1024"`                        // Maximum response body size in bytes
	MaxActiveJobsPerUser  int    `toml:"max_active_jobs_per_user" yaml:"max_active_jobs_per_user" validate:"min=1"`     // 429 threshold at the registry
	SitemapTimeoutMs      int    `toml:"sitemap_timeout_ms" yaml:"sitemap_timeout_ms" validate:"min=0"`                 // Time box for sitemap discovery at job start
}

// CacheConfig controls the shared URL cache
type CacheConfig struct {
	TTL string `toml:"ttl" yaml:"ttl"` // Entry lifetime as duration string (default "24h")
}

// EventsConfig controls the progress event log and its fan-out
type EventsConfig struct {
	SubscriberBuffer int    `toml:"subscriber_buffer" yaml:"subscriber_buffer"` // Per-subscriber channel depth before disconnect
	Retention        string `toml:"retention" yaml:"retention"`                 // How long events and job rows survive past terminal (default "1h")
}

// SchedulerConfig controls the cron maintenance jobs
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	SweepSchedule string `toml:"sweep_schedule" yaml:"sweep_schedule"` // Expired job/cache sweep (cron or @every form)
	GCSchedule    string `toml:"gc_schedule" yaml:"gc_schedule"`       // Badger value-log GC
}

// WebSocketConfig contains configuration for the WebSocket progress feed
type WebSocketConfig struct {
	// Throttle interval for high-frequency progress frames. Empty disables throttling.
	ProgressThrottle string `toml:"progress_throttle" yaml:"progress_throttle"`
}

// AuthConfig controls anonymous identity tokens
type AuthConfig struct {
	CookieName string `toml:"cookie_name" yaml:"cookie_name" validate:"required"`
	TokenTTL   string `toml:"token_ttl" yaml:"token_ttl"` // Token lifetime as duration string (default "8760h", one year)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in doceo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		Crawler: CrawlerConfig{
			UserAgent:             "Documentation Crawler — Friendly Bot",
			MaxDepth:              3,
			MaxPages:              50,
			JobTimeoutMs:          300000, // 5 minutes
			PageTimeoutMs:         8000,
			RateLimitMs:           1000,
			MaxConcurrentRequests: 3,
			MaxRetries:            3,
			QualityThreshold:      20,
			RespectRobots:         true,
			UseSitemap:            true,
			MaxBodySize:           10 * 1024 * 1024, // 10MB
			MaxActiveJobsPerUser:  3,
			SitemapTimeoutMs:      15000,
		},
		Cache: CacheConfig{
			TTL: "24h",
		},
		Events: EventsConfig{
			SubscriberBuffer: 256,
			Retention:        "1h",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			SweepSchedule: "@every 5m",
			GCSchedule:    "@every 10m",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "1s",
		},
		Auth: AuthConfig{
			CookieName: "doceo_user",
			TokenTTL:   "8760h",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. TOML is the native format; .yaml/.yml files are accepted too.
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

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: DOCEO_ENV, fallback: GO_ENV)
	if env := os.Getenv("DOCEO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DOCEO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DOCEO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("DOCEO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("DOCEO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DOCEO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("DOCEO_LOG_OUTPUT"); output != "" {
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
	if minEventLevel := os.Getenv("DOCEO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Crawler configuration
	if userAgent := os.Getenv("DOCEO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if maxDepth := os.Getenv("DOCEO_CRAWLER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Crawler.MaxDepth = md
		}
	}
	if maxPages := os.Getenv("DOCEO_CRAWLER_MAX_PAGES"); maxPages != "" {
		if mp, err := strconv.Atoi(maxPages); err == nil {
			config.Crawler.MaxPages = mp
		}
	}
	if timeoutMs := os.Getenv("DOCEO_CRAWLER_TIMEOUT_MS"); timeoutMs != "" {
		if t, err := strconv.Atoi(timeoutMs); err == nil {
			config.Crawler.JobTimeoutMs = t
		}
	}
	if pageTimeoutMs := os.Getenv("DOCEO_CRAWLER_PAGE_TIMEOUT_MS"); pageTimeoutMs != "" {
		if t, err := strconv.Atoi(pageTimeoutMs); err == nil {
			config.Crawler.PageTimeoutMs = t
		}
	}
	if rateLimitMs := os.Getenv("DOCEO_CRAWLER_RATE_LIMIT_MS"); rateLimitMs != "" {
		if r, err := strconv.Atoi(rateLimitMs); err == nil {
			config.Crawler.RateLimitMs = r
		}
	}
	if maxConcurrent := os.Getenv("DOCEO_CRAWLER_MAX_CONCURRENT_REQUESTS"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Crawler.MaxConcurrentRequests = mc
		}
	}
	if maxRetries := os.Getenv("DOCEO_CRAWLER_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Crawler.MaxRetries = mr
		}
	}
	if qualityThreshold := os.Getenv("DOCEO_CRAWLER_QUALITY_THRESHOLD"); qualityThreshold != "" {
		if qt, err := strconv.Atoi(qualityThreshold); err == nil {
			config.Crawler.QualityThreshold = qt
		}
	}
	if respectRobots := os.Getenv("DOCEO_CRAWLER_RESPECT_ROBOTS"); respectRobots != "" {
		if rr, err := strconv.ParseBool(respectRobots); err == nil {
			config.Crawler.RespectRobots = rr
		}
	}
	if useSitemap := os.Getenv("DOCEO_CRAWLER_USE_SITEMAP"); useSitemap != "" {
		if us, err := strconv.ParseBool(useSitemap); err == nil {
			config.Crawler.UseSitemap = us
		}
	}
	if maxBodySize := os.Getenv("DOCEO_CRAWLER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Crawler.MaxBodySize = mbs
		}
	}
	if maxActive := os.Getenv("DOCEO_CRAWLER_MAX_ACTIVE_JOBS_PER_USER"); maxActive != "" {
		if ma, err := strconv.Atoi(maxActive); err == nil {
			config.Crawler.MaxActiveJobsPerUser = ma
		}
	}

	// Cache configuration
	if ttl := os.Getenv("DOCEO_CACHE_TTL"); ttl != "" {
		if _, err := time.ParseDuration(ttl); err == nil {
			config.Cache.TTL = ttl
		}
	}

	// Events configuration
	if buffer := os.Getenv("DOCEO_EVENTS_SUBSCRIBER_BUFFER"); buffer != "" {
		if b, err := strconv.Atoi(buffer); err == nil && b > 0 {
			config.Events.SubscriberBuffer = b
		}
	}
	if retention := os.Getenv("DOCEO_EVENTS_RETENTION"); retention != "" {
		if _, err := time.ParseDuration(retention); err == nil {
			config.Events.Retention = retention
		}
	}

	// Scheduler configuration
	if enabled := os.Getenv("DOCEO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if sweep := os.Getenv("DOCEO_SCHEDULER_SWEEP_SCHEDULE"); sweep != "" {
		config.Scheduler.SweepSchedule = sweep
	}
	if gc := os.Getenv("DOCEO_SCHEDULER_GC_SCHEDULE"); gc != "" {
		config.Scheduler.GCSchedule = gc
	}

	// WebSocket configuration
	if throttle := os.Getenv("DOCEO_WEBSOCKET_PROGRESS_THROTTLE"); throttle != "" {
		if _, err := time.ParseDuration(throttle); err == nil {
			config.WebSocket.ProgressThrottle = throttle
		}
	}

	// Auth configuration
	if cookieName := os.Getenv("DOCEO_AUTH_COOKIE_NAME"); cookieName != "" {
		config.Auth.CookieName = cookieName
	}
	if tokenTTL := os.Getenv("DOCEO_AUTH_TOKEN_TTL"); tokenTTL != "" {
		if _, err := time.ParseDuration(tokenTTL); err == nil {
			config.Auth.TokenTTL = tokenTTL
		}
	}
}

// validateConfig rejects configurations the services cannot run with.
// Struct tags cover the numeric ranges; duration strings are parsed by hand
// since validator has no duration rule.
func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := time.ParseDuration(config.Cache.TTL); err != nil {
		return fmt.Errorf("invalid cache.ttl %q: %w", config.Cache.TTL, err)
	}
	if _, err := time.ParseDuration(config.Events.Retention); err != nil {
		return fmt.Errorf("invalid events.retention %q: %w", config.Events.Retention, err)
	}
	if _, err := time.ParseDuration(config.Auth.TokenTTL); err != nil {
		return fmt.Errorf("invalid auth.token_ttl %q: %w", config.Auth.TokenTTL, err)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// CacheTTL returns the parsed cache TTL, falling back to 24h.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// EventRetention returns the parsed post-terminal retention window, falling back to 1h.
func (c *Config) EventRetention() time.Duration {
	d, err := time.ParseDuration(c.Events.Retention)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ProgressThrottle returns the parsed WebSocket progress throttle, falling
// back to 1s. A zero value disables throttling.
func (c *Config) ProgressThrottle() time.Duration {
	d, err := time.ParseDuration(c.WebSocket.ProgressThrottle)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// TokenTTL returns the parsed user token lifetime, falling back to one year.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed.
// Test URLs are only allowed in development mode.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct so per-job
// snapshots never share mutable state with the live configuration.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	return &clone
}
