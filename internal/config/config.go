// Package config defines the engine's configuration, loaded from TOML with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // schedule timezones resolve without system zoneinfo
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BREAKOUTBOT_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Trading  TradingConfig  `toml:"trading"`
	Schedule ScheduleConfig `toml:"schedule"`
	Quote    QuoteConfig    `toml:"quote"`
	Signals  SignalsConfig  `toml:"signals"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds Dhan API access.
type BrokerConfig struct {
	BaseURL     string   `toml:"base_url"`
	ClientID    string   `toml:"client_id"`
	AccessToken string   `toml:"access_token"`
	Timeout     duration `toml:"timeout"`
	QuoteRPS    float64  `toml:"quote_rps"`
	OrderRPS    float64  `toml:"order_rps"`
}

// TradingConfig is the risk and lifecycle policy.
type TradingConfig struct {
	MaxLoss          float64  `toml:"max_loss"`
	TrailingFraction float64  `toml:"trailing_fraction"`
	RewardMultiple   float64  `toml:"reward_multiple"`
	TickSize         float64  `toml:"tick_size"`
	BuyTolerance     float64  `toml:"buy_tolerance"`
	SellTolerance    float64  `toml:"sell_tolerance"`
	ExitBuffer       float64  `toml:"exit_buffer"`
	ExitAttempts     int      `toml:"exit_attempts"`
	ExitRetryDelay   duration `toml:"exit_retry_delay"`
	ExitOnShutdown   bool     `toml:"exit_on_shutdown"`
	ShutdownTimeout  duration `toml:"shutdown_timeout"`
	// LTPAttempts bounds the live-price reads made before placement.
	LTPAttempts int      `toml:"ltp_attempts"`
	LTPDelay    duration `toml:"ltp_delay"`
}

// ScheduleConfig places the engine in the exchange session. Clock values are
// "HH:MM" in Timezone.
type ScheduleConfig struct {
	EntryTime    string   `toml:"entry_time"`
	SquareOff    string   `toml:"square_off"`
	Timezone     string   `toml:"timezone"`
	PollInterval duration `toml:"poll_interval"`
}

// QuoteConfig tunes batch quote fetching.
type QuoteConfig struct {
	BatchSize     int      `toml:"batch_size"`
	BatchAttempts int      `toml:"batch_attempts"`
	BatchDelay    duration `toml:"batch_delay"`
	BatchPause    duration `toml:"batch_pause"`
	IndexID       string   `toml:"index_id"`
}

// SignalsConfig names the CSV objects read from the S3 bucket.
type SignalsConfig struct {
	SignalsKey  string `toml:"signals_key"`
	LeverageKey string `toml:"leverage_key"`

	// RequireFresh refuses a signals object last written before today.
	RequireFresh bool `toml:"require_fresh"`
}

// RedisConfig holds Redis connection parameters. When disabled the daily
// guard and cycle lock are process-local and no prices are cached.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// PostgresConfig holds the trade journal database. When disabled the journal
// is kept only in logs and the S3 archive.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveJournal uploads each closed trade as JSON under journal/.
	ArchiveJournal bool `toml:"archive_journal"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramBaseURL   string   `toml:"telegram_base_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the operational HTTP server (health, status, metrics).
type ServerConfig struct {
	Enabled     bool   `toml:"enabled"`
	Addr        string `toml:"addr"`
	APIKey      string `toml:"api_key"`
	MetricsPath string `toml:"metrics_path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with production defaults.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL:  "https://api.dhan.co/v2",
			Timeout:  duration{10 * time.Second},
			QuoteRPS: 1,
			OrderRPS: 10,
		},
		Trading: TradingConfig{
			MaxLoss:          1000,
			TrailingFraction: 0.5,
			RewardMultiple:   1.5,
			TickSize:         0.05,
			BuyTolerance:     50,
			SellTolerance:    30,
			ExitBuffer:       1,
			ExitAttempts:     3,
			ExitRetryDelay:   duration{2 * time.Second},
			ExitOnShutdown:   true,
			ShutdownTimeout:  duration{20 * time.Second},
			LTPAttempts:      3,
			LTPDelay:         duration{time.Second},
		},
		Schedule: ScheduleConfig{
			EntryTime:    "09:31",
			SquareOff:    "15:10",
			Timezone:     "Asia/Kolkata",
			PollInterval: duration{30 * time.Second},
		},
		Quote: QuoteConfig{
			BatchSize:     1000,
			BatchAttempts: 10,
			BatchDelay:    duration{time.Second},
			BatchPause:    duration{time.Second},
			IndexID:       "13",
		},
		Signals: SignalsConfig{
			SignalsKey:   "uploads/nifty_15m_breakout_signals.csv",
			LeverageKey:  "uploads/nifty_mapping.csv",
			RequireFresh: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "breakoutbot:",
			PriceTTL:   duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "breakoutbot",
			User:          "breakoutbot",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  0,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "ap-south-1",
			Bucket:         "dhan-trading-data",
			UseSSL:         true,
			ArchiveJournal: true,
		},
		Notify: NotifyConfig{
			Events: []string{"cycle", "trade", "lifecycle"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Addr:        ":9090",
			MetricsPath: "/metrics",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Location loads the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true, // one cycle per trading day at schedule.entry_time
	"once":  true, // one cycle now, then wait for its position to close
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, once)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Broker
	if c.Broker.ClientID == "" {
		add("broker: client_id must be set")
	}
	if c.Broker.AccessToken == "" {
		add("broker: access_token must be set")
	}
	if c.Broker.QuoteRPS <= 0 || c.Broker.OrderRPS <= 0 {
		add("broker: quote_rps and order_rps must be > 0")
	}

	// Trading
	if c.Trading.MaxLoss <= 0 {
		add("trading: max_loss must be > 0")
	}
	if c.Trading.TrailingFraction <= 0 || c.Trading.TrailingFraction > 1 {
		add("trading: trailing_fraction must be in (0, 1], got %g", c.Trading.TrailingFraction)
	}
	if c.Trading.RewardMultiple <= 0 {
		add("trading: reward_multiple must be > 0")
	}
	if c.Trading.TickSize <= 0 {
		add("trading: tick_size must be > 0")
	}
	if c.Trading.BuyTolerance < 0 || c.Trading.SellTolerance < 0 {
		add("trading: buy_tolerance and sell_tolerance must be >= 0")
	}
	if c.Trading.ExitBuffer <= 0 {
		add("trading: exit_buffer must be > 0")
	}
	if c.Trading.ExitAttempts < 1 {
		add("trading: exit_attempts must be >= 1")
	}
	if c.Trading.LTPAttempts < 1 {
		add("trading: ltp_attempts must be >= 1")
	}

	// Schedule
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		add("schedule: unknown timezone %q", c.Schedule.Timezone)
	}
	entry, entryErr := time.Parse("15:04", c.Schedule.EntryTime)
	if entryErr != nil {
		add("schedule: entry_time %q is not HH:MM", c.Schedule.EntryTime)
	}
	squareOff, sqErr := time.Parse("15:04", c.Schedule.SquareOff)
	if sqErr != nil {
		add("schedule: square_off %q is not HH:MM", c.Schedule.SquareOff)
	}
	if entryErr == nil && sqErr == nil && !squareOff.After(entry) {
		add("schedule: square_off %s must be after entry_time %s", c.Schedule.SquareOff, c.Schedule.EntryTime)
	}
	if c.Schedule.PollInterval.Duration <= 0 {
		add("schedule: poll_interval must be > 0")
	}

	// Quote
	if c.Quote.BatchSize < 1 || c.Quote.BatchSize > 1000 {
		add("quote: batch_size must be 1-1000, got %d", c.Quote.BatchSize)
	}
	if c.Quote.IndexID == "" {
		add("quote: index_id must not be empty")
	}

	// Signals / S3
	if c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.S3.Region == "" {
		add("s3: region must not be empty")
	}
	if c.Signals.SignalsKey == "" {
		add("signals: signals_key must not be empty")
	}
	if c.Signals.LeverageKey == "" {
		add("signals: leverage_key must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be within 0..pool_max_conns")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
