package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/cornerwatch/internal/momentum"
	"github.com/rewired-gh/cornerwatch/internal/psychology"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
feed:
  api_key: "test_key"
  requests_per_minute: 120

monitor:
  poll_interval: 20s
  workers: 4
  liquidity:
    max_line_odds: 3.0

psychology:
  late:
    favorite:
      max_odds: 1.55

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.APIKey != "test_key" {
		t.Errorf("Unexpected api key: %q", cfg.Feed.APIKey)
	}
	if cfg.Feed.RequestsPerMinute != 120 {
		t.Errorf("Unexpected requests per minute: %d", cfg.Feed.RequestsPerMinute)
	}
	if cfg.Monitor.PollInterval != 20*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.Workers != 4 {
		t.Errorf("Unexpected workers: %d", cfg.Monitor.Workers)
	}
	if cfg.Monitor.Liquidity.MaxLineOdds != 3.0 {
		t.Errorf("Unexpected max line odds: %f", cfg.Monitor.Liquidity.MaxLineOdds)
	}
	if !cfg.Monitor.Liquidity.Required {
		t.Error("Expected liquidity.required to default to true")
	}
	if cfg.Storage.DBPath != "./data/test.db" {
		t.Errorf("Unexpected db path: %q", cfg.Storage.DBPath)
	}

	// Defaults survive around an overridden threshold
	if cfg.Psychology.Late.Favorite.MaxOdds != 1.55 {
		t.Errorf("Unexpected late favorite max odds: %f", cfg.Psychology.Late.Favorite.MaxOdds)
	}
	def := psychology.DefaultConfig()
	if cfg.Psychology.Late.Favorite.StrongOdds != def.Late.Favorite.StrongOdds {
		t.Errorf("Late favorite strong odds lost its default: %f", cfg.Psychology.Late.Favorite.StrongOdds)
	}
	if cfg.Psychology.FirstHalf.WindowStart != def.FirstHalf.WindowStart {
		t.Errorf("First-half window lost its default: %d", cfg.Psychology.FirstHalf.WindowStart)
	}
	if cfg.Momentum.OnTargetWeight != momentum.DefaultConfig().OnTargetWeight {
		t.Errorf("Momentum weights lost their defaults: %f", cfg.Momentum.OnTargetWeight)
	}
	if len(cfg.Psychology.Bands.Pressure) != len(def.Bands.Pressure) {
		t.Errorf("Pressure bands lost their defaults: %v", cfg.Psychology.Bands.Pressure)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "feed:\n  api_key: \"k\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}

	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Errorf("Unexpected default poll interval: %v", cfg.Monitor.PollInterval)
	}
	if cfg.Grader.MinAge != 100*time.Minute {
		t.Errorf("Unexpected default grader min age: %v", cfg.Grader.MinAge)
	}
	if cfg.Markers.Backend != "memory" {
		t.Errorf("Unexpected default marker backend: %q", cfg.Markers.Backend)
	}
	if cfg.Feed.StatsTimeout != 10*time.Second {
		t.Errorf("Unexpected default stats timeout: %v", cfg.Feed.StatsTimeout)
	}
	if cfg.Feed.BreakerFailures != 5 {
		t.Errorf("Unexpected default breaker failures: %d", cfg.Feed.BreakerFailures)
	}
	if cfg.Telegram.Enabled {
		t.Error("Telegram should be disabled by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "feed:\n  api_key: \"from_file\"\n")
	t.Setenv("CORNERWATCH_FEED_API_KEY", "from_env")
	t.Setenv("CORNERWATCH_MONITOR_WORKERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.APIKey != "from_env" {
		t.Errorf("Expected env to override api key, got %q", cfg.Feed.APIKey)
	}
	if cfg.Monitor.Workers != 2 {
		t.Errorf("Expected env to override workers, got %d", cfg.Monitor.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/cornerwatch.yaml"); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			BaseURL:          "https://example.com",
			APIKey:           "key",
			Timeout:          15 * time.Second,
			MaxRetries:       3,
			StatsConcurrency: 4,
			StatsTimeout:     10 * time.Second,
			CornersMarket:    "Total Corners",
		},
		Monitor: MonitorConfig{
			PollInterval:    30 * time.Second,
			FetchTimeout:    10 * time.Second,
			WatchFromMinute: 20,
			AbsentGrace:     5 * time.Minute,
			Workers:         8,
			SaveRetries:     3,
			Liquidity: LiquidityConfig{
				Required:    true,
				MinLineOdds: 1.5,
				MaxLineOdds: 3.5,
				MinLines:    1,
			},
		},
		Momentum:   momentum.DefaultConfig(),
		Psychology: psychology.DefaultConfig(),
		Grader: GraderConfig{
			Enabled:  true,
			Interval: 10 * time.Minute,
			MinAge:   100 * time.Minute,
		},
		Storage: StorageConfig{
			DBPath:        "./data/test.db",
			OddsRetention: 48 * time.Hour,
		},
		Markers: MarkersConfig{Backend: "memory"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Supervisor: SupervisorConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Multiplier:     2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Feed.APIKey = "" },
			wantErr: "feed.api_key",
		},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
			wantErr: "telegram.bot_token",
		},
		{
			name:    "missing stats timeout",
			mutate:  func(c *Config) { c.Feed.StatsTimeout = 0 },
			wantErr: "feed.stats_timeout",
		},
		{
			name:    "fetch timeout longer than poll interval",
			mutate:  func(c *Config) { c.Monitor.FetchTimeout = time.Minute },
			wantErr: "monitor.fetch_timeout",
		},
		{
			name:    "inverted liquidity range",
			mutate:  func(c *Config) { c.Monitor.Liquidity.MaxLineOdds = 1.2 },
			wantErr: "monitor.liquidity",
		},
		{
			name:    "watch starts after first-half window",
			mutate:  func(c *Config) { c.Monitor.WatchFromMinute = 40 },
			wantErr: "monitor.watch_from_minute",
		},
		{
			name:    "watch after first-half window with first half disabled",
			mutate:  func(c *Config) { c.Monitor.WatchFromMinute = 40; c.Psychology.FirstHalf.Enabled = false },
			wantErr: "",
		},
		{
			name:    "invalid momentum window",
			mutate:  func(c *Config) { c.Momentum.WindowMinutes = 0 },
			wantErr: "momentum.window_minutes",
		},
		{
			name:    "misordered favorite odds",
			mutate:  func(c *Config) { c.Psychology.Late.Favorite.ExtremeOdds = 1.5 },
			wantErr: "psychology.late.favorite",
		},
		{
			name:    "unknown marker backend",
			mutate:  func(c *Config) { c.Markers.Backend = "memcached" },
			wantErr: "markers.backend",
		},
		{
			name:    "redis backend with short ttl",
			mutate:  func(c *Config) { c.Markers = MarkersConfig{Backend: "redis", RedisAddr: "localhost:6379", TTL: time.Minute} },
			wantErr: "markers.ttl",
		},
		{
			name:    "grader interval too short",
			mutate:  func(c *Config) { c.Grader.Interval = time.Second },
			wantErr: "grader.interval",
		},
		{
			name:    "disabled grader skips its checks",
			mutate:  func(c *Config) { c.Grader = GraderConfig{} },
			wantErr: "",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
