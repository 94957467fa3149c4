package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fundarb/fundarb/internal/configservice"
	"github.com/fundarb/fundarb/internal/execgateway"
	"github.com/fundarb/fundarb/internal/marketfeed"
	"github.com/fundarb/fundarb/internal/riskdaemon"
	"github.com/fundarb/fundarb/internal/runtimeconfig"
	"github.com/fundarb/fundarb/internal/server"
	"github.com/fundarb/fundarb/internal/server/handler"
	"github.com/fundarb/fundarb/internal/statsservice"
	"github.com/fundarb/fundarb/internal/strategyengine"
)

// newRuntimeConfigStore builds a runtimeconfig.Store for a stage that reads
// (rather than writes) the shared configuration profile: seeded with static
// defaults, bootstrapped once over HTTP against Config-Service, then kept
// current by a config:updates subscriber.
func (a *App) newRuntimeConfigStore(deps *Dependencies) *runtimeconfig.Store {
	defaults := defaultConfigProfile(a.cfg)
	snap := runtimeconfig.Defaults(defaults.Thresholds, defaults.RiskLimits)
	return runtimeconfig.New(a.cfg.ConfigSvc.BaseURL, deps.HTTPClient, deps.Bus, snap, a.logger)
}

// consumerName builds a Redis consumer-group identity unique per process.
// hostname+pid alone can collide across replicas that share a pod name
// (StatefulSet) or a recycled pid inside a container, so a random uuid
// segment is appended as the tie-breaker.
func consumerName(stage string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d-%s", stage, host, os.Getpid(), uuid.New().String()[:8])
}

// FeedMode runs Market-Feed: polls both venues on a fixed interval and
// publishes snapshots, serving a small HTTP surface alongside.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	venueA := marketfeed.NewVenueAClient(a.cfg.VenueA.BaseURL, a.cfg.Scheduler.HTTPTimeout.Duration, a.logger)
	venueB := marketfeed.NewVenueBClient(a.cfg.VenueB.BaseURL, a.cfg.Scheduler.HTTPTimeout.Duration, a.cfg.VenueB.Concurrency, a.logger)
	feed := marketfeed.New(venueA, venueB, deps.Bus, a.cfg.Bus.SnapshotStream, a.logger)

	g.Go(func() error {
		return feed.RunLoop(ctx, time.Duration(a.cfg.Scheduler.ScanIntervalSeconds)*time.Second)
	})

	if a.cfg.Server.Enabled {
		srv := a.buildServer(a.cfg.Server.MarketFeedPort, func(mux *http.ServeMux) {
			h := marketfeed.NewHandler(feed)
			mux.HandleFunc("GET /healthz", h.HealthCheck)
			mux.HandleFunc("GET /funding/{venue}", h.Funding)
		})
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// StrategyMode runs Strategy-Engine: consumes snapshots and emits
// opportunities when a cross-venue funding differential crosses threshold.
func (a *App) StrategyMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	cfgStore := a.newRuntimeConfigStore(deps)
	cfgStore.Bootstrap(ctx)
	g.Go(func() error { return cfgStore.Watch(ctx, a.cfg.Bus.ConfigUpdatesChannel) })

	engine := strategyengine.New(deps.Bus, cfgStore, a.cfg.Bus.SnapshotStream, a.cfg.Bus.OpportunityStream, a.logger)
	g.Go(func() error { return engine.Run(ctx) })

	return g.Wait()
}

// ExecGatewayMode runs Execution-Gateway: durably and idempotently admits
// opportunities into persisted position groups.
func (a *App) ExecGatewayMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	cfgStore := a.newRuntimeConfigStore(deps)
	cfgStore.Bootstrap(ctx)
	g.Go(func() error { return cfgStore.Watch(ctx, a.cfg.Bus.ConfigUpdatesChannel) })

	gateway := execgateway.New(
		deps.Bus, deps.GroupStore, deps.EventStore, cfgStore,
		a.cfg.Bus.OpportunityStream, a.cfg.Bus.SnapshotStream, consumerName("exec_gateway"),
		a.logger,
	)
	g.Go(func() error { return gateway.Run(ctx) })

	return g.Wait()
}

// RiskDaemonMode runs Risk-Daemon: evaluates every OPEN group against the
// five-rule decision engine on a fixed tick.
func (a *App) RiskDaemonMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	cfgStore := a.newRuntimeConfigStore(deps)
	cfgStore.Bootstrap(ctx)
	g.Go(func() error { return cfgStore.Watch(ctx, a.cfg.Bus.ConfigUpdatesChannel) })

	daemon := riskdaemon.New(deps.GroupStore, deps.EventStore, deps.Bus, cfgStore, a.cfg.Bus.SnapshotStream, a.logger)
	g.Go(func() error {
		return daemon.RunLoop(ctx, time.Duration(a.cfg.Scheduler.CloseIntervalSeconds)*time.Second)
	})

	return g.Wait()
}

// ConfigServiceMode runs Config-Service: the versioned source of truth for
// thresholds, risk limits, scheduling intervals, and the global-enable flag.
func (a *App) ConfigServiceMode(ctx context.Context, deps *Dependencies) error {
	g, _ := errgroup.WithContext(ctx)

	svc := configservice.New(
		deps.ConfigStore, deps.Bus, a.cfg.Bus.ConfigUpdatesChannel, a.cfg.Bus.ConfigAuditChannel,
		defaultConfigProfile(a.cfg), a.logger,
	)
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("app: config_service bootstrap: %w", err)
	}

	if a.cfg.Server.Enabled {
		srv := a.buildServer(a.cfg.Server.ConfigServicePort, func(mux *http.ServeMux) {
			h := configservice.NewHandler(svc)
			hh := handler.NewHealthHandler(a.logger)
			mux.HandleFunc("GET /healthz", hh.HealthCheck)
			mux.HandleFunc("GET /config/current", h.GetCurrent)
			mux.HandleFunc("PUT /config/current", h.PutCurrent)
		})
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// StatsServiceMode runs Stats-Service: a read-only view over persisted
// events plus a midnight archiver.
func (a *App) StatsServiceMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	svc := statsservice.New(deps.GroupStore, deps.EventStore, deps.StatsStore, deps.StatsCache, deps.Bus, a.cfg.Bus.SnapshotStream, a.logger)

	g.Go(func() error { return a.runDailyArchiver(ctx, svc) })

	if a.cfg.Server.Enabled {
		srv := a.buildServer(a.cfg.Server.StatsServicePort, func(mux *http.ServeMux) {
			h := statsservice.NewHandler(svc)
			hh := handler.NewHealthHandler(a.logger)
			mux.HandleFunc("GET /healthz", hh.HealthCheck)
			mux.HandleFunc("GET /stats/dynamic", h.GetDynamic)
			mux.HandleFunc("GET /stats/static", h.GetStatic)
			mux.HandleFunc("GET /stats/static/list", h.ListStatic)
			mux.HandleFunc("POST /stats/snapshot", h.PostSnapshot)
			mux.HandleFunc("GET /events/recent", h.GetRecentEvents)
			mux.HandleFunc("GET /positions/open", h.GetOpenPositions)
		})
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// runDailyArchiver archives the previous UTC day's StatsSnapshot once at
// every UTC midnight. The configured archive_cron field documents operator
// intent; the loop itself uses a plain midnight-aligned ticker rather than
// a cron expression parser, matching the fixed-tick scheduling idiom every
// other stage uses.
func (a *App) runDailyArchiver(ctx context.Context, svc *statsservice.Service) error {
	for {
		now := time.Now().UTC()
		nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(nextMidnight.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			yesterday := nextMidnight.Add(-24 * time.Hour)
			if err := svc.ArchiveSnapshot(ctx, yesterday); err != nil {
				a.logger.ErrorContext(ctx, "daily archive failed", "error", err.Error())
			}
		}
	}
}

// AllMode runs every stage in a single process, useful for local
// development and small deployments.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.FeedMode(ctx, deps) })
	g.Go(func() error { return a.StrategyMode(ctx, deps) })
	g.Go(func() error { return a.ExecGatewayMode(ctx, deps) })
	g.Go(func() error { return a.RiskDaemonMode(ctx, deps) })
	g.Go(func() error { return a.ConfigServiceMode(ctx, deps) })
	g.Go(func() error { return a.StatsServiceMode(ctx, deps) })

	return g.Wait()
}

// buildServer constructs a per-stage HTTP server with the shared
// auth/logging/CORS middleware chain on a dedicated mux.
func (a *App) buildServer(port int, register func(mux *http.ServeMux)) *server.Server {
	mux := http.NewServeMux()
	register(mux)
	return server.New(server.Config{
		Port:        port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, mux, a.logger)
}
