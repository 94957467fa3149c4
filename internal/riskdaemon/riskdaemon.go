// Package riskdaemon drives OPEN position groups through the closure
// state machine on a fixed tick. It is grounded on the teacher's
// pipeline.RunLoop ticker shape and service.RiskService's ordered-check
// evaluation pattern, with PnL computed the way
// service.ArbService.ComputeRealizedPnL does.
package riskdaemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/marketfeed"
	"github.com/fundarb/fundarb/internal/runtimeconfig"
)

const snapshotScanSize = 500

// Daemon evaluates every OPEN group against the five-rule closure decision
// engine on each tick.
type Daemon struct {
	groups         domain.PositionGroupStore
	events         domain.PositionEventStore
	bus            domain.SignalBus
	cfg            *runtimeconfig.Store
	snapshotStream string
	logger         *slog.Logger
}

// New creates a Daemon.
func New(groups domain.PositionGroupStore, events domain.PositionEventStore, bus domain.SignalBus, cfg *runtimeconfig.Store, snapshotStream string, logger *slog.Logger) *Daemon {
	return &Daemon{
		groups:         groups,
		events:         events,
		bus:            bus,
		cfg:            cfg,
		snapshotStream: snapshotStream,
		logger:         logger.With(slog.String("component", "risk_daemon")),
	}
}

// RunLoop ticks every interval until ctx is cancelled, calling Run on each
// tick and logging (not failing) tick-level errors.
func (d *Daemon) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				d.logger.ErrorContext(ctx, "risk daemon tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Run performs a single tick: load OPEN groups, batch-lookup snapshots,
// evaluate closure rules, and persist any closures.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.cfg.Get()
	if !cfg.GlobalEnable {
		return nil
	}

	groups, err := d.groups.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	snapshots, err := d.loadSnapshots(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		d.evaluateGroup(ctx, group, snapshots, cfg.Thresholds)
	}
	return nil
}

// loadSnapshots scans the most recent snapshotScanSize snapshot entries once
// and returns the newest-wins lookup keyed by (venue, symbol), replacing
// per-leg scanning. Entries arrive newest first, so the first entry seen
// for a given key is kept and later (older) entries for the same key are
// ignored.
func (d *Daemon) loadSnapshots(ctx context.Context) (map[string]domain.FundingSnapshot, error) {
	msgs, err := d.bus.StreamReadRecent(ctx, d.snapshotStream, snapshotScanSize)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]domain.FundingSnapshot, len(msgs))
	for _, msg := range msgs {
		snap, decodeErr := marketfeed.DecodeSnapshot(msg.Payload)
		if decodeErr != nil {
			continue
		}
		key := snapshotKey(snap.Venue, snap.Symbol)
		if _, exists := lookup[key]; exists {
			continue
		}
		lookup[key] = snap
	}
	return lookup, nil
}

func snapshotKey(venue, symbol string) string {
	return venue + "|" + symbol
}

func (d *Daemon) evaluateGroup(ctx context.Context, group domain.PositionGroup, snapshots map[string]domain.FundingSnapshot, th domain.Thresholds) {
	longLeg := group.LongLeg()
	shortLeg := group.ShortLeg()
	if longLeg == nil || shortLeg == nil {
		d.logger.WarnContext(ctx, "group missing a leg, skipping", slog.String("group_id", group.GroupID))
		return
	}

	longSnap, haveLong := snapshots[snapshotKey(group.LongVenue, group.Symbol)]
	shortSnap, haveShort := snapshots[snapshotKey(group.ShortVenue, group.Symbol)]
	if !haveLong || !haveShort {
		return
	}

	longMark := longSnap.EntryPrice()
	shortMark := shortSnap.EntryPrice()
	if longMark == 0 || shortMark == 0 || longLeg.EntryPrice == 0 || shortLeg.EntryPrice == 0 {
		return
	}

	ev := evaluate(group, longLeg.EntryPrice, shortLeg.EntryPrice, longMark, shortMark, longSnap, shortSnap, th)
	if ev.reason == nil {
		return
	}

	closed := applyClosure(group, *longLeg, *shortLeg, ev)
	if err := d.groups.Close(ctx, closed); err != nil {
		d.logger.WarnContext(ctx, "close persist failed", slog.String("group_id", group.GroupID), slog.String("error", err.Error()))
		return
	}

	if err := d.events.Append(ctx, closeEvent(closed, ev)); err != nil {
		d.logger.WarnContext(ctx, "close event append failed", slog.String("group_id", group.GroupID), slog.String("error", err.Error()))
	}

	d.logger.InfoContext(ctx, "group closed",
		slog.String("group_id", group.GroupID),
		slog.String("reason", string(*closed.CloseReason)),
		slog.Float64("realized_pnl", closed.RealizedPnL),
	)
}
