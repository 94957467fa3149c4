// Package config defines the top-level configuration for the fundarb
// pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDARB_* environment
// variables.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Bus        BusConfig        `toml:"bus"`
	VenueA     VenueConfig      `toml:"venue_a"`
	VenueB     VenueConfig      `toml:"venue_b"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
	RiskLimits RiskLimitsConfig `toml:"risk_limits"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	ConfigSvc  ConfigSvcConfig  `toml:"config_service"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters for the bus and caches.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// BusConfig names the streams, consumer group, and pub/sub channels every
// stage shares.
type BusConfig struct {
	SnapshotStream        string `toml:"snapshot_stream"`
	OpportunityStream     string `toml:"opportunity_stream"`
	StreamMaxLen          int64  `toml:"stream_maxlen"`
	ExecutionGatewayGroup string `toml:"execution_gateway_group"`
	ConfigUpdatesChannel  string `toml:"config_updates_channel"`
	ConfigAuditChannel    string `toml:"config_audit_channel"`
}

// VenueConfig holds one perpetual-futures venue's base URL and fan-out
// bound.
type VenueConfig struct {
	BaseURL     string `toml:"base_url"`
	Concurrency int    `toml:"concurrency"`
}

// ThresholdsConfig mirrors domain.Thresholds for TOML/env configurability.
type ThresholdsConfig struct {
	AA float64 `toml:"aa"`
	BB float64 `toml:"bb"`
	CC float64 `toml:"cc"`
	DD float64 `toml:"dd"`
	EE float64 `toml:"ee"`
	FF float64 `toml:"ff"`
	GG float64 `toml:"gg"`
	HH float64 `toml:"hh"`
}

// RiskLimitsConfig mirrors domain.RiskLimits for TOML/env configurability.
type RiskLimitsConfig struct {
	GroupMax     int     `toml:"group_max"`
	DuplicateMax int     `toml:"duplicate_max"`
	LeverageMax  float64 `toml:"leverage_max"`
	MarginPerLeg float64 `toml:"margin_per_leg"`
	TakerFee     float64 `toml:"taker_fee"`
	MakerFee     float64 `toml:"maker_fee"`
	TradeFee     float64 `toml:"trade_fee"`
}

// SchedulerConfig holds the stage tick intervals and shared HTTP timeout.
type SchedulerConfig struct {
	ScanIntervalSeconds  int      `toml:"scan_interval_seconds"`
	CloseIntervalSeconds int      `toml:"close_interval_seconds"`
	OpenIntervalSeconds  int      `toml:"open_interval_seconds"`
	HTTPTimeout          duration `toml:"http_timeout"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// ConfigSvcConfig tells every non-Config-Service stage where to bootstrap
// its runtime configuration snapshot from.
type ConfigSvcConfig struct {
	BaseURL string `toml:"base_url"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the per-stage HTTP server parameters. Only Market-Feed,
// Config-Service, and Stats-Service bind a listener; each gets its own port.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	MarketFeedPort    int      `toml:"market_feed_port"`
	ConfigServicePort int      `toml:"config_service_port"`
	StatsServicePort  int      `toml:"stats_service_port"`
}

// NotifyConfig holds optional out-of-band operator notification settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values. Load
// decodes the TOML file on top of these.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundarb",
			User:          "fundarb",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Bus: BusConfig{
			SnapshotStream:        "funding_snapshots",
			OpportunityStream:     "funding_opportunities",
			StreamMaxLen:          1000,
			ExecutionGatewayGroup: "execution_gateway",
			ConfigUpdatesChannel:  "config:updates",
			ConfigAuditChannel:    "config:audit",
		},
		VenueA: VenueConfig{
			BaseURL:     "https://fapi.venuea.example.com",
			Concurrency: 1,
		},
		VenueB: VenueConfig{
			BaseURL:     "https://api.venueb.example.com",
			Concurrency: 5,
		},
		Thresholds: ThresholdsConfig{
			AA: 0.0005,
			BB: 0.0005,
			CC: 0.01,
			DD: 15,
			EE: 0.005,
			FF: 0.05,
			GG: 0.05,
			HH: 0.03,
		},
		RiskLimits: RiskLimitsConfig{
			GroupMax:     20,
			DuplicateMax: 3,
			LeverageMax:  3,
			MarginPerLeg: 100,
			TakerFee:     0.0004,
			MakerFee:     0.0002,
			TradeFee:     0.0006,
		},
		Scheduler: SchedulerConfig{
			ScanIntervalSeconds:  30,
			CloseIntervalSeconds: 10,
			OpenIntervalSeconds:  5,
			HTTPTimeout:          duration{10 * time.Second},
			ArchiveCron:          "0 0 * * *",
		},
		ConfigSvc: ConfigSvcConfig{
			BaseURL: "http://localhost:8101/config/current",
		},
		Server: ServerConfig{
			Enabled:           true,
			CORSOrigins:       []string{"http://localhost:3000"},
			MarketFeedPort:    8100,
			ConfigServicePort: 8101,
			StatsServicePort:  8102,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_detected", "group_opened", "group_closed", "error"},
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"feed":           true,
	"strategy":       true,
	"exec_gateway":   true,
	"risk_daemon":    true,
	"config_service": true,
	"stats_service":  true,
	"all":            true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: feed, strategy, exec_gateway, risk_daemon, config_service, stats_service, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Bus.SnapshotStream == "" || c.Bus.OpportunityStream == "" {
		errs = append(errs, "bus: snapshot_stream and opportunity_stream must not be empty")
	}
	if c.Bus.StreamMaxLen <= 0 {
		errs = append(errs, "bus: stream_maxlen must be > 0")
	}
	if c.Bus.ExecutionGatewayGroup == "" {
		errs = append(errs, "bus: execution_gateway_group must not be empty")
	}

	needsVenues := c.Mode == "feed" || c.Mode == "all"
	if needsVenues {
		if c.VenueA.BaseURL == "" {
			errs = append(errs, "venue_a: base_url must not be empty for mode "+c.Mode)
		}
		if c.VenueB.BaseURL == "" {
			errs = append(errs, "venue_b: base_url must not be empty for mode "+c.Mode)
		}
	}
	if c.VenueB.Concurrency < 1 {
		errs = append(errs, "venue_b: concurrency must be >= 1")
	}

	if c.RiskLimits.GroupMax < 1 {
		errs = append(errs, "risk_limits: group_max must be >= 1")
	}
	if c.RiskLimits.DuplicateMax < 1 {
		errs = append(errs, "risk_limits: duplicate_max must be >= 1")
	}
	if c.RiskLimits.MarginPerLeg <= 0 {
		errs = append(errs, "risk_limits: margin_per_leg must be > 0")
	}

	if c.Scheduler.ScanIntervalSeconds < 1 {
		errs = append(errs, "scheduler: scan_interval_seconds must be >= 1")
	}
	if c.Scheduler.CloseIntervalSeconds < 1 {
		errs = append(errs, "scheduler: close_interval_seconds must be >= 1")
	}
	if c.Scheduler.OpenIntervalSeconds < 1 {
		errs = append(errs, "scheduler: open_interval_seconds must be >= 1")
	}
	if c.Scheduler.HTTPTimeout.Duration <= 0 {
		errs = append(errs, "scheduler: http_timeout must be > 0")
	}

	if c.Mode != "config_service" && c.ConfigSvc.BaseURL == "" {
		errs = append(errs, "config_service: base_url must not be empty for mode "+c.Mode)
	}

	if c.Server.Enabled {
		for name, port := range map[string]int{
			"market_feed_port":    c.Server.MarketFeedPort,
			"config_service_port": c.Server.ConfigServicePort,
			"stats_service_port":  c.Server.StatsServicePort,
		} {
			if port <= 0 || port > 65535 {
				errs = append(errs, fmt.Sprintf("server: %s must be 1-65535, got %d", name, port))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
