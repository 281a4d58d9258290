// Package config loads feedctl configuration from a YAML file and FEED_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
)

// EnvPrefix prefixes every environment override, e.g. FEED_API_ENTRY_POINT.
const EnvPrefix = "FEED"

// Config is the full feedctl configuration.
type Config struct {
	Credentials  CredentialsConfig  `mapstructure:"credentials" yaml:"credentials"`
	API          APIConfig          `mapstructure:"api" yaml:"api"`
	EventService EventServiceConfig `mapstructure:"event_service" yaml:"event_service"`
	Correlation  CorrelationConfig  `mapstructure:"correlation" yaml:"correlation"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher" yaml:"dispatcher"`

	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`

	path string
}

// CredentialsConfig holds the OAuth2 client and tokens.
type CredentialsConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	AccessToken  string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token,omitempty"`
	Code         string `mapstructure:"code" yaml:"code,omitempty"`
	RedirectURI  string `mapstructure:"redirect_uri" yaml:"redirect_uri,omitempty"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url,omitempty"`
	RevokeURL    string `mapstructure:"revoke_url" yaml:"revoke_url,omitempty"`
}

// APIConfig holds transport settings.
type APIConfig struct {
	EntryPoint   string        `mapstructure:"entry_point" yaml:"entry_point"`
	AutoRefresh  bool          `mapstructure:"auto_refresh" yaml:"auto_refresh"`
	RetrierCount int           `mapstructure:"retrier_count" yaml:"retrier_count"`
	RetrierDelay time.Duration `mapstructure:"retrier_delay" yaml:"retrier_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// RateLimit caps requests per second. Zero disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// EventServiceConfig holds the channel and poll loop settings.
type EventServiceConfig struct {
	ChannelID   string        `mapstructure:"channel_id" yaml:"channel_id"`
	PollSleep   time.Duration `mapstructure:"poll_sleep" yaml:"poll_sleep"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Ack         bool          `mapstructure:"ack" yaml:"ack"`
}

// CorrelationConfig holds the session correlator settings.
type CorrelationConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	TimeWindow   time.Duration `mapstructure:"time_window" yaml:"time_window"`
	AbsoluteTime bool          `mapstructure:"absolute_time" yaml:"absolute_time"`
	GCMultiplier int           `mapstructure:"gc_multiplier" yaml:"gc_multiplier"`
	ExpectedSize int           `mapstructure:"expected_size" yaml:"expected_size"`
}

// DispatcherConfig holds subscriber registration settings.
type DispatcherConfig struct {
	AllowDuplicates bool `mapstructure:"allow_duplicates" yaml:"allow_duplicates"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// RedisConfig holds the stats reporter store.
type RedisConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	InstanceID    string        `mapstructure:"instance_id" yaml:"instance_id"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// OpenSearchConfig holds OpenSearch connection settings
type OpenSearchConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	Insecure      bool          `mapstructure:"insecure" yaml:"insecure"`
	IndexPrefix   string        `mapstructure:"index_prefix" yaml:"index_prefix"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultPath returns $FEED_CONFIG_DIR/config.yaml, or
// $HOME/.eventfeed/config.yaml when the variable is unset.
func DefaultPath() (string, error) {
	dir := os.Getenv(EnvPrefix + "_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".eventfeed")
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path, or DefaultPath when path is empty, and applies
// environment overrides. A missing default file is not an error; a
// missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = path
	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Credentials. Every key needs a default for env overrides to apply.
	v.SetDefault("credentials.client_id", "")
	v.SetDefault("credentials.client_secret", "")
	v.SetDefault("credentials.access_token", "")
	v.SetDefault("credentials.refresh_token", "")
	v.SetDefault("credentials.code", "")
	v.SetDefault("credentials.redirect_uri", "")
	v.SetDefault("credentials.token_url", "")
	v.SetDefault("credentials.revoke_url", "")

	// Transport
	v.SetDefault("api.entry_point", "https://api.us.cdl.paloaltonetworks.com")
	v.SetDefault("api.auto_refresh", true)
	v.SetDefault("api.retrier_count", 3)
	v.SetDefault("api.retrier_delay", "100ms")
	v.SetDefault("api.fetch_timeout", "45s")
	v.SetDefault("api.rate_limit", 0)

	// Event service
	v.SetDefault("event_service.channel_id", "EventFilter")
	v.SetDefault("event_service.poll_sleep", "200ms")
	v.SetDefault("event_service.poll_timeout", "1s")
	v.SetDefault("event_service.ack", false)

	// Correlation
	v.SetDefault("correlation.enabled", false)
	v.SetDefault("correlation.time_window", "120s")
	v.SetDefault("correlation.absolute_time", false)
	v.SetDefault("correlation.gc_multiplier", 10)
	v.SetDefault("correlation.expected_size", 1000)

	v.SetDefault("dispatcher.allow_duplicates", false)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.instance_id", "")
	v.SetDefault("redis.flush_interval", "10s")
	v.SetDefault("redis.ttl", "5m")

	// OpenSearch defaults
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index_prefix", "eventfeed")
	v.SetDefault("opensearch.flush_interval", "5s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if u, err := url.Parse(c.API.EntryPoint); err != nil || u.Scheme == "" || u.Host == "" {
		bad("api.entry_point %q is not an absolute URL", c.API.EntryPoint)
	}
	if c.API.RetrierCount < 1 {
		bad("api.retrier_count must be at least 1, got %d", c.API.RetrierCount)
	}
	if c.API.RetrierDelay < 0 {
		bad("api.retrier_delay must not be negative")
	}
	if c.API.FetchTimeout <= 0 {
		bad("api.fetch_timeout must be positive")
	}
	if c.API.RateLimit < 0 {
		bad("api.rate_limit must not be negative")
	}
	if c.EventService.ChannelID == "" {
		bad("event_service.channel_id is required")
	}
	if c.EventService.PollSleep <= 0 || c.EventService.PollTimeout <= 0 {
		bad("event_service.poll_sleep and event_service.poll_timeout must be positive")
	}
	if c.Correlation.Enabled {
		if c.Correlation.TimeWindow <= 0 {
			bad("correlation.time_window must be positive")
		}
		if c.Correlation.GCMultiplier < 1 {
			bad("correlation.gc_multiplier must be at least 1")
		}
		if c.Correlation.ExpectedSize < 0 {
			bad("correlation.expected_size must not be negative")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		bad("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		bad("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return sdkerr.Config("config.Validate", "invalid configuration", errors.Join(problems...))
}

// Save writes the configuration back to the file it was loaded from, or
// to DefaultPath.
func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// SaveTokens stores a rotated token pair and persists the file.
func (c *Config) SaveTokens(accessToken, refreshToken string) error {
	c.Credentials.AccessToken = accessToken
	c.Credentials.RefreshToken = refreshToken
	c.Credentials.Code = ""
	return c.Save()
}
