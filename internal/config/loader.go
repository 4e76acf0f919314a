package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BREAKOUTBOT_"

// Load reads the TOML file at path over Defaults, then applies .env and
// BREAKOUTBOT_* environment overrides. A missing file is tolerated so a
// deployment can be configured entirely from the environment. The result is
// not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose environment variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, EnvPrefix+"BROKER_BASE_URL")
	setStr(&cfg.Broker.ClientID, "DHAN_CLIENT_ID") // compatibility alias
	setStr(&cfg.Broker.ClientID, EnvPrefix+"BROKER_CLIENT_ID")
	setStr(&cfg.Broker.AccessToken, "DHAN_ACCESS_TOKEN") // compatibility alias
	setStr(&cfg.Broker.AccessToken, EnvPrefix+"BROKER_ACCESS_TOKEN")
	setDuration(&cfg.Broker.Timeout, EnvPrefix+"BROKER_TIMEOUT")
	setFloat64(&cfg.Broker.QuoteRPS, EnvPrefix+"BROKER_QUOTE_RPS")
	setFloat64(&cfg.Broker.OrderRPS, EnvPrefix+"BROKER_ORDER_RPS")

	// ── Trading ──
	setFloat64(&cfg.Trading.MaxLoss, EnvPrefix+"TRADING_MAX_LOSS")
	setFloat64(&cfg.Trading.TrailingFraction, EnvPrefix+"TRADING_TRAILING_FRACTION")
	setFloat64(&cfg.Trading.RewardMultiple, EnvPrefix+"TRADING_REWARD_MULTIPLE")
	setFloat64(&cfg.Trading.TickSize, EnvPrefix+"TRADING_TICK_SIZE")
	setFloat64(&cfg.Trading.BuyTolerance, EnvPrefix+"TRADING_BUY_TOLERANCE")
	setFloat64(&cfg.Trading.SellTolerance, EnvPrefix+"TRADING_SELL_TOLERANCE")
	setFloat64(&cfg.Trading.ExitBuffer, EnvPrefix+"TRADING_EXIT_BUFFER")
	setInt(&cfg.Trading.ExitAttempts, EnvPrefix+"TRADING_EXIT_ATTEMPTS")
	setDuration(&cfg.Trading.ExitRetryDelay, EnvPrefix+"TRADING_EXIT_RETRY_DELAY")
	setBool(&cfg.Trading.ExitOnShutdown, EnvPrefix+"TRADING_EXIT_ON_SHUTDOWN")
	setDuration(&cfg.Trading.ShutdownTimeout, EnvPrefix+"TRADING_SHUTDOWN_TIMEOUT")

	// ── Schedule ──
	setStr(&cfg.Schedule.EntryTime, EnvPrefix+"SCHEDULE_ENTRY_TIME")
	setStr(&cfg.Schedule.SquareOff, EnvPrefix+"SCHEDULE_SQUARE_OFF")
	setStr(&cfg.Schedule.Timezone, EnvPrefix+"SCHEDULE_TIMEZONE")
	setDuration(&cfg.Schedule.PollInterval, EnvPrefix+"SCHEDULE_POLL_INTERVAL")

	// ── Signals ──
	setStr(&cfg.Signals.SignalsKey, EnvPrefix+"SIGNALS_SIGNALS_KEY")
	setStr(&cfg.Signals.LeverageKey, EnvPrefix+"SIGNALS_LEVERAGE_KEY")
	setBool(&cfg.Signals.RequireFresh, EnvPrefix+"SIGNALS_REQUIRE_FRESH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, EnvPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, EnvPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, EnvPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, EnvPrefix+"REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, EnvPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, EnvPrefix+"REDIS_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, EnvPrefix+"POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, EnvPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, EnvPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, EnvPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, EnvPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, EnvPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, EnvPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, EnvPrefix+"POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, EnvPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, EnvPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, EnvPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, EnvPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, EnvPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, EnvPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, EnvPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, EnvPrefix+"S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveJournal, EnvPrefix+"S3_ARCHIVE_JOURNAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, EnvPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, EnvPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, EnvPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, EnvPrefix+"NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, EnvPrefix+"SERVER_ENABLED")
	setStr(&cfg.Server.Addr, EnvPrefix+"SERVER_ADDR")
	setStr(&cfg.Server.APIKey, EnvPrefix+"SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, EnvPrefix+"MODE")
	setStr(&cfg.LogLevel, EnvPrefix+"LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
