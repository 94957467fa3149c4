package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "FUNDARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "FUNDARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FUNDARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FUNDARB_DATABASE_NAME")
	setStr(&cfg.Database.User, "FUNDARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "FUNDARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FUNDARB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "FUNDARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "FUNDARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "FUNDARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDARB_REDIS_TLS_ENABLED")

	// ── Bus ──
	setStr(&cfg.Bus.SnapshotStream, "FUNDARB_BUS_SNAPSHOT_STREAM")
	setStr(&cfg.Bus.OpportunityStream, "FUNDARB_BUS_OPPORTUNITY_STREAM")
	setInt64(&cfg.Bus.StreamMaxLen, "FUNDARB_BUS_STREAM_MAXLEN")
	setStr(&cfg.Bus.ExecutionGatewayGroup, "FUNDARB_BUS_EXECUTION_GATEWAY_GROUP")
	setStr(&cfg.Bus.ConfigUpdatesChannel, "FUNDARB_BUS_CONFIG_UPDATES_CHANNEL")
	setStr(&cfg.Bus.ConfigAuditChannel, "FUNDARB_BUS_CONFIG_AUDIT_CHANNEL")

	// ── Venues ──
	setStr(&cfg.VenueA.BaseURL, "FUNDARB_VENUE_A_BASE_URL")
	setInt(&cfg.VenueA.Concurrency, "FUNDARB_VENUE_A_CONCURRENCY")
	setStr(&cfg.VenueB.BaseURL, "FUNDARB_VENUE_B_BASE_URL")
	setInt(&cfg.VenueB.Concurrency, "FUNDARB_VENUE_B_CONCURRENCY")

	// ── Thresholds ──
	setFloat64(&cfg.Thresholds.AA, "FUNDARB_THRESHOLDS_AA")
	setFloat64(&cfg.Thresholds.BB, "FUNDARB_THRESHOLDS_BB")
	setFloat64(&cfg.Thresholds.CC, "FUNDARB_THRESHOLDS_CC")
	setFloat64(&cfg.Thresholds.DD, "FUNDARB_THRESHOLDS_DD")
	setFloat64(&cfg.Thresholds.EE, "FUNDARB_THRESHOLDS_EE")
	setFloat64(&cfg.Thresholds.FF, "FUNDARB_THRESHOLDS_FF")
	setFloat64(&cfg.Thresholds.GG, "FUNDARB_THRESHOLDS_GG")
	setFloat64(&cfg.Thresholds.HH, "FUNDARB_THRESHOLDS_HH")

	// ── Risk limits ──
	setInt(&cfg.RiskLimits.GroupMax, "FUNDARB_RISK_LIMITS_GROUP_MAX")
	setInt(&cfg.RiskLimits.DuplicateMax, "FUNDARB_RISK_LIMITS_DUPLICATE_MAX")
	setFloat64(&cfg.RiskLimits.LeverageMax, "FUNDARB_RISK_LIMITS_LEVERAGE_MAX")
	setFloat64(&cfg.RiskLimits.MarginPerLeg, "FUNDARB_RISK_LIMITS_MARGIN_PER_LEG")
	setFloat64(&cfg.RiskLimits.TakerFee, "FUNDARB_RISK_LIMITS_TAKER_FEE")
	setFloat64(&cfg.RiskLimits.MakerFee, "FUNDARB_RISK_LIMITS_MAKER_FEE")
	setFloat64(&cfg.RiskLimits.TradeFee, "FUNDARB_RISK_LIMITS_TRADE_FEE")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.ScanIntervalSeconds, "FUNDARB_SCHEDULER_SCAN_INTERVAL_SECONDS")
	setInt(&cfg.Scheduler.CloseIntervalSeconds, "FUNDARB_SCHEDULER_CLOSE_INTERVAL_SECONDS")
	setInt(&cfg.Scheduler.OpenIntervalSeconds, "FUNDARB_SCHEDULER_OPEN_INTERVAL_SECONDS")
	setDuration(&cfg.Scheduler.HTTPTimeout, "FUNDARB_SCHEDULER_HTTP_TIMEOUT")
	setStr(&cfg.Scheduler.ArchiveCron, "FUNDARB_SCHEDULER_ARCHIVE_CRON")

	// ── Config-Service client ──
	setStr(&cfg.ConfigSvc.BaseURL, "FUNDARB_CONFIG_SERVICE_BASE_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDARB_SERVER_ENABLED")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDARB_SERVER_API_KEY")
	setInt(&cfg.Server.MarketFeedPort, "FUNDARB_SERVER_MARKET_FEED_PORT")
	setInt(&cfg.Server.ConfigServicePort, "FUNDARB_SERVER_CONFIG_SERVICE_PORT")
	setInt(&cfg.Server.StatsServicePort, "FUNDARB_SERVER_STATS_SERVICE_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
