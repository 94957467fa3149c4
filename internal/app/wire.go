package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fundarb/fundarb/internal/bus"
	"github.com/fundarb/fundarb/internal/config"
	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	ConfigStore  domain.ConfigStore
	GroupStore   domain.PositionGroupStore
	EventStore   domain.PositionEventStore
	StatsStore   domain.StatsStore

	// Bus/cache
	Bus        domain.SignalBus
	StatsCache domain.StatsCache

	// Shared HTTP client for the runtime-config bootstrap against
	// Config-Service. Venue clients build their own.
	HTTPClient *http.Client
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "config_service", "exec_gateway", "risk_daemon", "stats_service", "all":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HTTPClient: &http.Client{Timeout: cfg.Scheduler.HTTPTimeout.Duration},
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ConfigStore = postgres.NewConfigStore(pool)
		deps.GroupStore = postgres.NewPositionStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.StatsStore = postgres.NewStatsStore(pool)
	}

	// --- Redis (message bus + stats cache) ---
	redisClient, err := bus.New(ctx, bus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = bus.NewSignalBusWithMaxLen(redisClient, cfg.Bus.StreamMaxLen)
	deps.StatsCache = bus.NewStatsCache(redisClient)

	return deps, cleanup, nil
}

// defaultConfigProfile builds the version-1 ConfigProfile Config-Service
// seeds itself with on first bootstrap, from the Thresholds/RiskLimits
// section of the static config file.
func defaultConfigProfile(cfg *config.Config) domain.ConfigProfile {
	return domain.ConfigProfile{
		Thresholds: domain.Thresholds{
			AA: cfg.Thresholds.AA,
			BB: cfg.Thresholds.BB,
			CC: cfg.Thresholds.CC,
			DD: cfg.Thresholds.DD,
			EE: cfg.Thresholds.EE,
			FF: cfg.Thresholds.FF,
			GG: cfg.Thresholds.GG,
			HH: cfg.Thresholds.HH,
		},
		RiskLimits: domain.RiskLimits{
			GroupMax:     cfg.RiskLimits.GroupMax,
			DuplicateMax: cfg.RiskLimits.DuplicateMax,
			LeverageMax:  cfg.RiskLimits.LeverageMax,
			MarginPerLeg: cfg.RiskLimits.MarginPerLeg,
			TakerFee:     cfg.RiskLimits.TakerFee,
			MakerFee:     cfg.RiskLimits.MakerFee,
			TradeFee:     cfg.RiskLimits.TradeFee,
		},
		GlobalEnable:         true,
		ScanIntervalSeconds:  cfg.Scheduler.ScanIntervalSeconds,
		CloseIntervalSeconds: cfg.Scheduler.CloseIntervalSeconds,
		OpenIntervalSeconds:  cfg.Scheduler.OpenIntervalSeconds,
	}
}
