// Package statsservice is the read-only view over position events plus a
// midnight archiver. It is grounded on the teacher's read-side service
// composition (internal/service/price_service.go) and its Redis-backed
// short-TTL cache pattern (internal/cache/redis/price_cache.go), generalized
// from a price hash to a single serialized JSON blob.
package statsservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/marketfeed"
)

const dynamicStatsTTL = 5 * time.Second

// Service implements Stats-Service's read operations.
type Service struct {
	groups domain.PositionGroupStore
	events domain.PositionEventStore
	stats  domain.StatsStore
	cache  domain.StatsCache
	bus    domain.SignalBus
	snapshotStream string
	logger *slog.Logger
}

// New creates a Service.
func New(groups domain.PositionGroupStore, events domain.PositionEventStore, stats domain.StatsStore, cache domain.StatsCache, bus domain.SignalBus, snapshotStream string, logger *slog.Logger) *Service {
	return &Service{
		groups:         groups,
		events:         events,
		stats:          stats,
		cache:          cache,
		bus:            bus,
		snapshotStream: snapshotStream,
		logger:         logger.With(slog.String("component", "stats_service")),
	}
}

// GetDynamicStats reads the short-TTL cache; on a miss it recomputes from
// all OPEN groups and all events, then refills the cache.
func (s *Service) GetDynamicStats(ctx context.Context) (domain.DynamicStats, error) {
	if cached, ok, err := s.cache.GetDynamicStats(ctx); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "dynamic stats cache read failed", slog.String("error", err.Error()))
	}

	openGroups, err := s.groups.ListOpen(ctx)
	if err != nil {
		return domain.DynamicStats{}, fmt.Errorf("stats_service: list open: %w", err)
	}

	events, err := s.events.ListRecent(ctx, 0)
	if err != nil {
		return domain.DynamicStats{}, fmt.Errorf("stats_service: list events: %w", err)
	}

	stats := computeDynamicStats(openGroups, events)

	if err := s.cache.SetDynamicStats(ctx, stats, dynamicStatsTTL); err != nil {
		s.logger.WarnContext(ctx, "dynamic stats cache write failed", slog.String("error", err.Error()))
	}

	return stats, nil
}

func computeDynamicStats(openGroups []domain.PositionGroup, events []domain.PositionEvent) domain.DynamicStats {
	stats := domain.DynamicStats{
		EventCounts:  map[string]int64{},
		LogicAmounts: map[domain.CloseReason]float64{},
		LogicCounts:  map[domain.CloseReason]int64{},
		UpdatedAt:    time.Now().UTC(),
	}

	stats.ActiveGroupCount = int64(len(openGroups))
	for _, g := range openGroups {
		stats.ActiveNotional += g.MarginPerLeg * 2
	}

	for _, e := range events {
		stats.EventCounts[strings.ToLower(string(e.EventType))]++
		switch e.EventType {
		case domain.EventTypeOpen:
			stats.TotalOpen++
		case domain.EventTypeClose:
			stats.TotalClose++
			if e.RealizedPnL != nil {
				stats.NetProfit += *e.RealizedPnL
			}
			if e.LogicReason != nil {
				notional, _ := e.Data["notional_per_leg"].(float64)
				stats.LogicAmounts[*e.LogicReason] += notional * 2
				stats.LogicCounts[*e.LogicReason]++
			}
		}
	}

	return stats
}

// GetOpenPositions returns a live view of every OPEN group with current
// returns and funding-diff, built from a single scan of the snapshot stream.
func (s *Service) GetOpenPositions(ctx context.Context) ([]domain.OpenPositionView, error) {
	openGroups, err := s.groups.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats_service: list open: %w", err)
	}
	if len(openGroups) == 0 {
		return nil, nil
	}

	msgs, err := s.bus.StreamReadRecent(ctx, s.snapshotStream, 500)
	if err != nil {
		return nil, fmt.Errorf("stats_service: snapshot scan: %w", err)
	}
	// msgs arrive newest first; keep only the first (newest) entry per key.
	lookup := make(map[string]domain.FundingSnapshot, len(msgs))
	for _, msg := range msgs {
		snap, decodeErr := marketfeed.DecodeSnapshot(msg.Payload)
		if decodeErr != nil {
			continue
		}
		key := snap.Venue + "|" + snap.Symbol
		if _, exists := lookup[key]; exists {
			continue
		}
		lookup[key] = snap
	}

	var views []domain.OpenPositionView
	for _, g := range openGroups {
		longLeg, shortLeg := g.LongLeg(), g.ShortLeg()
		if longLeg == nil || shortLeg == nil {
			continue
		}
		longSnap, haveLong := lookup[g.LongVenue+"|"+g.Symbol]
		shortSnap, haveShort := lookup[g.ShortVenue+"|"+g.Symbol]
		if !haveLong || !haveShort {
			continue
		}

		longMark := longSnap.EntryPrice()
		shortMark := shortSnap.EntryPrice()
		if longLeg.EntryPrice == 0 || shortLeg.EntryPrice == 0 {
			continue
		}

		longReturn := (longMark - longLeg.EntryPrice) / longLeg.EntryPrice
		shortReturn := (shortLeg.EntryPrice - shortMark) / shortLeg.EntryPrice

		nowMs := time.Now().UTC().UnixMilli()
		longCountdown := longSnap.SettleCountdownSecs(nowMs)
		shortCountdown := shortSnap.SettleCountdownSecs(nowMs)
		countdown := longCountdown
		if shortCountdown < countdown {
			countdown = shortCountdown
		}

		views = append(views, domain.OpenPositionView{
			GroupID:            g.GroupID,
			Symbol:             g.Symbol,
			LongVenue:          g.LongVenue,
			ShortVenue:         g.ShortVenue,
			LongReturn:         longReturn,
			ShortReturn:        shortReturn,
			TotalReturn:        longReturn + shortReturn,
			CountdownMinutes:   float64(countdown) / 60,
			CurrentFundingDiff: longSnap.Rate8h() - shortSnap.Rate8h(),
		})
	}
	return views, nil
}

// GetSnapshot returns the persisted StatsSnapshot for date (truncated to the
// UTC day).
func (s *Service) GetSnapshot(ctx context.Context, date time.Time) (domain.StatsSnapshot, error) {
	snap, err := s.stats.GetByDate(ctx, date.UTC().Truncate(24*time.Hour))
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return snap, nil
}

// ArchiveSnapshot aggregates all PositionEvents within [date, date+1day) in
// UTC and upserts the StatsSnapshot row keyed by that date.
func (s *Service) ArchiveSnapshot(ctx context.Context, date time.Time) error {
	start := date.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	events, err := s.events.ListSince(ctx, start, end)
	if err != nil {
		return fmt.Errorf("stats_service: archive list events: %w", err)
	}

	snap := aggregateSnapshot(start, events)

	if err := s.stats.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("stats_service: archive upsert: %w", err)
	}

	s.logger.InfoContext(ctx, "stats snapshot archived",
		slog.Time("snapshot_date", start), slog.Int64("total_open", snap.TotalOpen), slog.Int64("total_close", snap.TotalClose))
	return nil
}

func aggregateSnapshot(date time.Time, events []domain.PositionEvent) domain.StatsSnapshot {
	snap := domain.StatsSnapshot{
		SnapshotDate: date,
		LogicAmounts: map[domain.CloseReason]float64{},
		RawStats:     map[string]int64{},
		CreatedAt:    time.Now().UTC(),
	}

	for _, e := range events {
		snap.RawStats[strings.ToLower(string(e.EventType))]++
		switch e.EventType {
		case domain.EventTypeOpen:
			snap.TotalOpen++
		case domain.EventTypeClose:
			snap.TotalClose++
			if e.RealizedPnL != nil {
				snap.NetProfit += *e.RealizedPnL
			}
			if e.LogicReason != nil {
				notional, _ := e.Data["notional_per_leg"].(float64)
				snap.LogicAmounts[*e.LogicReason] += notional * 2
			}
		}
	}

	return snap
}

// ErrNotFound is re-exported for handler convenience.
var ErrNotFound = domain.ErrNotFound
