package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/cornerwatch/internal/momentum"
	"github.com/rewired-gh/cornerwatch/internal/psychology"
)

// Config represents the complete application configuration
type Config struct {
	Feed       FeedConfig        `mapstructure:"feed"`
	Monitor    MonitorConfig     `mapstructure:"monitor"`
	Momentum   momentum.Config   `mapstructure:"momentum"`
	Psychology psychology.Config `mapstructure:"psychology"`
	Grader     GraderConfig      `mapstructure:"grader"`
	Telegram   TelegramConfig    `mapstructure:"telegram"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Markers    MarkersConfig     `mapstructure:"markers"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Supervisor SupervisorConfig  `mapstructure:"supervisor"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// FeedConfig holds the statistics and odds provider configuration
type FeedConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	StatsConcurrency  int           `mapstructure:"stats_concurrency"`
	StatsTimeout      time.Duration `mapstructure:"stats_timeout"`
	BookmakerID       int           `mapstructure:"bookmaker_id"`
	CornersMarket     string        `mapstructure:"corners_market"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

// MonitorConfig holds the live coordinator configuration
type MonitorConfig struct {
	PollInterval    time.Duration   `mapstructure:"poll_interval"`
	FetchTimeout    time.Duration   `mapstructure:"fetch_timeout"`
	WatchFromMinute int             `mapstructure:"watch_from_minute"`
	AbsentGrace     time.Duration   `mapstructure:"absent_grace"`
	Workers         int             `mapstructure:"workers"`
	SaveRetries     int             `mapstructure:"save_retries"`
	SaveRetryDelay  time.Duration   `mapstructure:"save_retry_delay"`
	Liquidity       LiquidityConfig `mapstructure:"liquidity"`
}

// LiquidityConfig holds the corner-market confirmation rules
type LiquidityConfig struct {
	Required    bool    `mapstructure:"required"`
	MinLineOdds float64 `mapstructure:"min_line_odds"`
	MaxLineOdds float64 `mapstructure:"max_line_odds"`
	MinLines    int     `mapstructure:"min_lines"`
}

// GraderConfig holds settlement configuration
type GraderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	MinAge        time.Duration `mapstructure:"min_age"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	NotifyResults bool          `mapstructure:"notify_results"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	OddsRetention time.Duration `mapstructure:"odds_retention"`
}

// MarkersConfig selects the alerted-marker backend
type MarkersConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// MetricsConfig holds the ops HTTP server configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SupervisorConfig bounds the restart backoff of the long-running loops
type SupervisorConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxRestarts    int           `mapstructure:"max_restarts"`
	ResetAfter     time.Duration `mapstructure:"reset_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Momentum and psychology tuning start from the package defaults and are
// overlaid by whatever the file sets.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// CORNERWATCH_FEED_API_KEY overrides feed.api_key
	v.SetEnvPrefix("CORNERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		Momentum:   momentum.DefaultConfig(),
		Psychology: psychology.DefaultConfig(),
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all infrastructure options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.base_url", "https://v3.football.api-sports.io")
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.requests_per_minute", 300)
	v.SetDefault("feed.stats_concurrency", 4)
	v.SetDefault("feed.stats_timeout", "10s")
	v.SetDefault("feed.bookmaker_id", 8)
	v.SetDefault("feed.corners_market", "Total Corners")
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_timeout", "60s")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.fetch_timeout", "10s")
	v.SetDefault("monitor.watch_from_minute", 20)
	v.SetDefault("monitor.absent_grace", "5m")
	v.SetDefault("monitor.workers", 8)
	v.SetDefault("monitor.save_retries", 3)
	v.SetDefault("monitor.save_retry_delay", "500ms")
	v.SetDefault("monitor.liquidity.required", true)
	v.SetDefault("monitor.liquidity.min_line_odds", 1.5)
	v.SetDefault("monitor.liquidity.max_line_odds", 3.5)
	v.SetDefault("monitor.liquidity.min_lines", 1)

	// Grader defaults
	v.SetDefault("grader.enabled", true)
	v.SetDefault("grader.interval", "10m")
	v.SetDefault("grader.min_age", "100m")
	v.SetDefault("grader.fetch_timeout", "10s")
	v.SetDefault("grader.notify_results", true)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/cornerwatch.db")
	v.SetDefault("storage.odds_retention", "48h")

	// Marker defaults
	v.SetDefault("markers.backend", "memory")
	v.SetDefault("markers.redis_addr", "localhost:6379")
	v.SetDefault("markers.redis_password", "")
	v.SetDefault("markers.redis_db", 0)
	v.SetDefault("markers.ttl", "6h")
	v.SetDefault("markers.key_prefix", "cornerwatch:alerted")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	// Supervisor defaults
	v.SetDefault("supervisor.initial_backoff", "1s")
	v.SetDefault("supervisor.max_backoff", "1m")
	v.SetDefault("supervisor.multiplier", 2.0)
	v.SetDefault("supervisor.max_restarts", 0) // 0 = restart forever
	v.SetDefault("supervisor.reset_after", "5m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}
	if c.Feed.RequestsPerMinute < 0 {
		return fmt.Errorf("feed.requests_per_minute must not be negative")
	}
	if c.Feed.StatsConcurrency < 1 {
		return fmt.Errorf("feed.stats_concurrency must be at least 1")
	}
	if c.Feed.StatsTimeout <= 0 {
		return fmt.Errorf("feed.stats_timeout must be positive")
	}
	if c.Feed.CornersMarket == "" {
		return fmt.Errorf("feed.corners_market is required")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 5*time.Second {
		return fmt.Errorf("monitor.poll_interval must be at least 5 seconds")
	}
	if c.Monitor.FetchTimeout <= 0 || c.Monitor.FetchTimeout >= c.Monitor.PollInterval {
		return fmt.Errorf("monitor.fetch_timeout must be positive and shorter than monitor.poll_interval")
	}
	if c.Monitor.WatchFromMinute < 0 || c.Monitor.WatchFromMinute > 90 {
		return fmt.Errorf("monitor.watch_from_minute must be between 0 and 90")
	}
	if c.Monitor.AbsentGrace < c.Monitor.PollInterval {
		return fmt.Errorf("monitor.absent_grace must be at least monitor.poll_interval")
	}
	if c.Monitor.Workers < 1 {
		return fmt.Errorf("monitor.workers must be at least 1")
	}
	if c.Monitor.SaveRetries < 1 {
		return fmt.Errorf("monitor.save_retries must be at least 1")
	}
	l := c.Monitor.Liquidity
	if l.MinLineOdds < 1.0 || l.MaxLineOdds < l.MinLineOdds {
		return fmt.Errorf("monitor.liquidity: odds must satisfy 1.0 <= min_line_odds <= max_line_odds")
	}
	if l.MinLines < 1 {
		return fmt.Errorf("monitor.liquidity.min_lines must be at least 1")
	}

	// Validate domain tuning
	if err := c.Momentum.Validate(); err != nil {
		return err
	}
	if err := c.Psychology.Validate(); err != nil {
		return err
	}
	if c.Psychology.FirstHalf.Enabled && c.Monitor.WatchFromMinute > c.Psychology.FirstHalf.WindowStart {
		return fmt.Errorf("monitor.watch_from_minute must not be later than psychology.first_half.window_start")
	}

	// Validate Grader config
	if c.Grader.Enabled {
		if c.Grader.Interval < time.Minute {
			return fmt.Errorf("grader.interval must be at least 1 minute")
		}
		if c.Grader.MinAge < 0 {
			return fmt.Errorf("grader.min_age must not be negative")
		}
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

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.OddsRetention < time.Hour {
		return fmt.Errorf("storage.odds_retention must be at least 1 hour")
	}

	// Validate Markers config
	switch c.Markers.Backend {
	case "memory":
	case "redis":
		if c.Markers.RedisAddr == "" {
			return fmt.Errorf("markers.redis_addr is required for the redis backend")
		}
		if c.Markers.TTL < time.Hour {
			return fmt.Errorf("markers.ttl must be at least 1 hour")
		}
	default:
		return fmt.Errorf("markers.backend must be one of: memory, redis")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	// Validate Supervisor config
	if c.Supervisor.InitialBackoff <= 0 || c.Supervisor.MaxBackoff < c.Supervisor.InitialBackoff {
		return fmt.Errorf("supervisor: backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.Supervisor.Multiplier < 1 {
		return fmt.Errorf("supervisor.multiplier must be at least 1")
	}
	if c.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("supervisor.max_restarts must not be negative")
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
