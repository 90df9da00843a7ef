package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPageSize matches the page size the reprocessing scripts always used.
const DefaultPageSize = 200

// Config holds every recognised option. It is loaded once at startup and
// passed by value afterwards.
type Config struct {
	Campaign  CampaignConfig  `yaml:"campaign" toml:"campaign" json:"campaign"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry" json:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`
	Source    SourceConfig    `yaml:"source" toml:"source" json:"source"`
	Links     LinksConfig     `yaml:"links" toml:"links" json:"links"`
	Store     StoreConfig     `yaml:"store" toml:"store" json:"store"`
	Cache     StoreConfig     `yaml:"cache" toml:"cache" json:"cache"`
	Fetch     FetchConfig     `yaml:"fetch" toml:"fetch" json:"fetch"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" json:"logging"`
}

// CampaignConfig controls the executor and the page loop.
type CampaignConfig struct {
	Workers         int    `yaml:"workers" toml:"workers" json:"workers"`
	PageSize        int    `yaml:"page_size" toml:"page_size" json:"page_size"`
	StartIndex      int    `yaml:"start_index" toml:"start_index" json:"start_index"`
	EndIndex        int    `yaml:"end_index" toml:"end_index" json:"end_index"` // -1 means last unit
	ParallelPerUnit int    `yaml:"parallel_per_unit" toml:"parallel_per_unit" json:"parallel_per_unit"`
	LockDir         string `yaml:"lock_dir" toml:"lock_dir" json:"lock_dir"`
}

// RetryConfig holds the bound and backoff for transient remote failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" toml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" toml:"multiplier" json:"multiplier"`
	Jitter      float64       `yaml:"jitter" toml:"jitter" json:"jitter"`
}

// RateLimitConfig throttles calls to the remote source. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"`
}

// SourceConfig describes where records are read from.
type SourceConfig struct {
	Kind               string        `yaml:"kind" toml:"kind" json:"kind"` // http or mongo
	BaseURL            string        `yaml:"base_url" toml:"base_url" json:"base_url"`
	Timeout            time.Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	Token              string        `yaml:"token" toml:"token" json:"-"`
	KeyringService     string        `yaml:"keyring_service" toml:"keyring_service" json:"keyring_service"`
	KeyringUser        string        `yaml:"keyring_user" toml:"keyring_user" json:"keyring_user"`
	MongoURI           string        `yaml:"mongo_uri" toml:"mongo_uri" json:"-"`
	MongoDB            string        `yaml:"mongo_db" toml:"mongo_db" json:"mongo_db"`
	RecordsCollection  string        `yaml:"records_collection" toml:"records_collection" json:"records_collection"`
	DatasetsCollection string        `yaml:"datasets_collection" toml:"datasets_collection" json:"datasets_collection"`
}

// LinksConfig locates the files of resource links processed by the links command.
type LinksConfig struct {
	Directory string `yaml:"directory" toml:"directory" json:"directory"`
}

// StoreConfig selects a backend for progress records or cached artifacts.
type StoreConfig struct {
	Backend  string `yaml:"backend" toml:"backend" json:"backend"` // memory, file, sqlite, postgres, mongo
	Path     string `yaml:"path" toml:"path" json:"path"`
	DSN      string `yaml:"dsn" toml:"dsn" json:"-"`
	MongoURI string `yaml:"mongo_uri" toml:"mongo_uri" json:"-"`
	MongoDB  string `yaml:"mongo_db" toml:"mongo_db" json:"mongo_db"`
}

// FetchConfig is used by processors that download resources.
type FetchConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
	SocketTimeout  time.Duration `yaml:"socket_timeout" toml:"socket_timeout" json:"socket_timeout"`
	UserAgent      string        `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
}

// MetricsConfig exposes prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen" json:"listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	File   string `yaml:"file" toml:"file" json:"file"`
	Format string `yaml:"format" toml:"format" json:"format"` // auto, console, json
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() Config {
	return Config{
		Campaign: CampaignConfig{
			Workers:         4,
			PageSize:        DefaultPageSize,
			StartIndex:      0,
			EndIndex:        -1,
			ParallelPerUnit: 4,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   1 * time.Second,
			MaxDelay:    60 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		Source: SourceConfig{
			Kind:               "http",
			Timeout:            30 * time.Second,
			RecordsCollection:  "record",
			DatasetsCollection: "datasets",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "reprocessor.db",
		},
		Cache: StoreConfig{
			Backend: "sqlite",
			Path:    "reprocessor.db",
		},
		Fetch: FetchConfig{
			ConnectTimeout: 10 * time.Second,
			SocketTimeout:  30 * time.Second,
			UserAgent:      "reprocessor/1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadFromFile decodes a YAML or TOML file (chosen by extension) on top of c.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	locations := []string{
		"reprocessor.yaml",
		"reprocessor.yml",
		"reprocessor.toml",
		filepath.Join(os.Getenv("HOME"), ".config", "reprocessor", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "reprocessor", "config.toml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv applies REPROCESSOR_* environment overrides.
func (c *Config) LoadFromEnv() error {
	var errs []error

	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("REPROCESSOR_WORKERS", &c.Campaign.Workers)
	setInt("REPROCESSOR_PAGE_SIZE", &c.Campaign.PageSize)
	setInt("REPROCESSOR_START_INDEX", &c.Campaign.StartIndex)
	setInt("REPROCESSOR_END_INDEX", &c.Campaign.EndIndex)
	setInt("REPROCESSOR_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setInt("REPROCESSOR_REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setStr("REPROCESSOR_SOURCE_URL", &c.Source.BaseURL)
	setStr("REPROCESSOR_SOURCE_TOKEN", &c.Source.Token)
	setStr("REPROCESSOR_SOURCE_MONGO_URI", &c.Source.MongoURI)
	setStr("REPROCESSOR_STORE_DSN", &c.Store.DSN)
	setStr("REPROCESSOR_STORE_MONGO_URI", &c.Store.MongoURI)
	setStr("REPROCESSOR_CACHE_DSN", &c.Cache.DSN)
	setStr("REPROCESSOR_LINKS_DIR", &c.Links.Directory)
	setStr("REPROCESSOR_METRICS_LISTEN", &c.Metrics.Listen)
	setStr("REPROCESSOR_LOG_LEVEL", &c.Logging.Level)

	return errors.Join(errs...)
}

// Overrides carries command line flags. Nil pointers leave the value untouched.
type Overrides struct {
	Workers    *int
	PageSize   *int
	StartIndex *int
	EndIndex   *int
	LogLevel   *string
	LinksDir   *string
}

// Apply merges command line flags into the configuration
func (c *Config) Apply(o Overrides) {
	if o.Workers != nil {
		c.Campaign.Workers = *o.Workers
	}
	if o.PageSize != nil {
		c.Campaign.PageSize = *o.PageSize
	}
	if o.StartIndex != nil {
		c.Campaign.StartIndex = *o.StartIndex
	}
	if o.EndIndex != nil {
		c.Campaign.EndIndex = *o.EndIndex
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		c.Logging.Level = *o.LogLevel
	}
	if o.LinksDir != nil && *o.LinksDir != "" {
		c.Links.Directory = *o.LinksDir
	}
}

var (
	validBackends    = map[string]bool{"memory": true, "file": true, "sqlite": true, "postgres": true, "mongo": true}
	validSourceKinds = map[string]bool{"http": true, "mongo": true}
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"auto": true, "console": true, "json": true}
)

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	var errs []error

	if c.Campaign.Workers <= 0 {
		errs = append(errs, errors.New("campaign.workers must be positive"))
	}
	if c.Campaign.PageSize <= 0 {
		errs = append(errs, errors.New("campaign.page_size must be positive"))
	}
	if c.Campaign.StartIndex < 0 {
		errs = append(errs, errors.New("campaign.start_index cannot be negative"))
	}
	if c.Campaign.EndIndex >= 0 && c.Campaign.EndIndex < c.Campaign.StartIndex {
		errs = append(errs, errors.New("campaign.end_index must be -1 or >= start_index"))
	}
	if c.Campaign.ParallelPerUnit <= 0 {
		errs = append(errs, errors.New("campaign.parallel_per_unit must be positive"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry.max_attempts must be positive"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, errors.New("retry.jitter must be within [0, 1]"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute cannot be negative"))
	}

	if !validSourceKinds[c.Source.Kind] {
		errs = append(errs, fmt.Errorf("unknown source.kind %q", c.Source.Kind))
	}
	if !validBackends[c.Store.Backend] || c.Store.Backend == "memory" {
		errs = append(errs, fmt.Errorf("unsupported store.backend %q", c.Store.Backend))
	}
	if !validBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Errorf("unsupported cache.backend %q", c.Cache.Backend))
	}
	errs = append(errs, validateBackend("store", c.Store)...)
	errs = append(errs, validateBackend("cache", c.Cache)...)

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateBackend(name string, sc StoreConfig) []error {
	var errs []error
	switch sc.Backend {
	case "file", "sqlite":
		if sc.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required for backend %s", name, sc.Backend))
		}
	case "postgres":
		if sc.DSN == "" {
			errs = append(errs, fmt.Errorf("%s.dsn is required for backend postgres", name))
		}
	case "mongo":
		if sc.MongoURI == "" || sc.MongoDB == "" {
			errs = append(errs, fmt.Errorf("%s.mongo_uri and %s.mongo_db are required for backend mongo", name, name))
		}
	}
	return errs
}

// ValidateSource checks the source settings needed by the run command.
func (c Config) ValidateSource() error {
	switch c.Source.Kind {
	case "http":
		if c.Source.BaseURL == "" {
			return errors.New("source.base_url is required for http sources")
		}
	case "mongo":
		if c.Source.MongoURI == "" || c.Source.MongoDB == "" {
			return errors.New("source.mongo_uri and source.mongo_db are required for mongo sources")
		}
	}
	return nil
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, o Overrides) (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".reprocessor.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return Config{}, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.Apply(o)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
