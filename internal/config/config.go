// Package config loads and validates client configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/marketmaster/internal/logging"
)

// Config captures all client configuration knobs loaded via Viper.
type Config struct {
	Logging logging.Config `mapstructure:"logging"`
	API     APIConfig      `mapstructure:"api"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Search  SearchConfig   `mapstructure:"search"`
	Storage StorageConfig  `mapstructure:"storage"`
	Status  StatusConfig   `mapstructure:"status"`
	Tracing TracingConfig  `mapstructure:"tracing"`
	App     AppConfig      `mapstructure:"app"`
}

// APIConfig points the client at the storefront backend.
type APIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// NotifyConfig configures the crawl-completion push channel.
type NotifyConfig struct {
	URL                   string `mapstructure:"url"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
	// MaxAttempts bounds consecutive failed reconnects; 0 retries forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SearchConfig tunes the search coordinator.
type SearchConfig struct {
	DebounceMillis  int    `mapstructure:"debounce_ms"`
	WorkingLanguage string `mapstructure:"working_language"`
	DisplayLanguage string `mapstructure:"display_language"`
	AutoResume      bool   `mapstructure:"auto_resume"`
}

// StorageConfig selects where durable client state lives.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Profile  string         `mapstructure:"profile"`
	BaseDir  string         `mapstructure:"base_dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// PostgresConfig controls the shared-profile Postgres backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig controls the roaming-profile bucket backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// StatusConfig toggles the local status server used in watch mode.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig enables OpenTelemetry spans around backend calls.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// AppConfig holds the browser-facing page the client mirrors keywords into.
type AppConfig struct {
	SearchURL string `mapstructure:"search_url"`
}

// Storage providers accepted by storage.provider.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.rate_limit_rps", 0)
	v.SetDefault("api.rate_limit_burst", 1)
	v.SetDefault("notify.url", "ws://localhost:8000/api/ws")
	v.SetDefault("notify.reconnect_delay_seconds", 5)
	v.SetDefault("notify.max_attempts", 0)
	v.SetDefault("search.debounce_ms", 300)
	v.SetDefault("search.working_language", "en")
	v.SetDefault("search.display_language", "en")
	v.SetDefault("search.auto_resume", false)
	v.SetDefault("storage.provider", StorageFile)
	v.SetDefault("storage.profile", "default")
	v.SetDefault("storage.base_dir", defaultStateDir())
	v.SetDefault("storage.postgres.table", "client_state")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.gcs.prefix", "profiles")
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8089)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "marketmaster")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("app.search_url", "http://localhost:3000/search")
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".marketmaster"
	}
	return filepath.Join(dir, "marketmaster")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := requireURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps must be >= 0")
	}
	if err := requireURL("notify.url", c.Notify.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Notify.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("notify.reconnect_delay_seconds must be > 0")
	}
	if c.Notify.MaxAttempts < 0 {
		return fmt.Errorf("notify.max_attempts must be >= 0")
	}
	if c.Search.DebounceMillis < 0 {
		return fmt.Errorf("search.debounce_ms must be >= 0")
	}
	if strings.TrimSpace(c.Search.WorkingLanguage) == "" {
		return fmt.Errorf("search.working_language is required")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Status.Enabled && c.Status.Port <= 0 {
		return fmt.Errorf("status.port must be > 0 when status is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return requireURL("app.search_url", c.App.SearchURL, "http", "https")
}

func (s StorageConfig) validate() error {
	if strings.TrimSpace(s.Profile) == "" {
		return fmt.Errorf("storage.profile is required")
	}
	switch s.Provider {
	case StorageMemory:
	case StorageFile:
		if strings.TrimSpace(s.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the file provider")
		}
	case StoragePostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres provider")
		}
	case StorageGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not supported", s.Provider)
	}
	return nil
}

func requireURL(key, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v", key, schemes)
}

// APITimeout converts the request timeout into a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ReconnectDelay converts the notification reconnect delay into a duration.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Notify.ReconnectDelaySeconds) * time.Second
}

// Debounce converts the search debounce window into a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Search.DebounceMillis) * time.Millisecond
}
