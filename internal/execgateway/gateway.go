// Package execgateway durably and idempotently admits opportunities into
// persisted position groups. It is grounded on the teacher's
// executor.Executor (buffer/dedup/admission/persist shape), generalized from
// an in-memory channel consumer to a Redis consumer-group reader since the
// spec requires durable at-least-once delivery.
package execgateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/marketfeed"
	"github.com/fundarb/fundarb/internal/runtimeconfig"
	"github.com/fundarb/fundarb/internal/strategyengine"
)

const (
	groupName        = "execution_gateway"
	pollCount        = 20
	pollBlock        = 5 * time.Second
	snapshotScanSize = 200
)

// Gateway consumes the opportunities stream as a consumer group and admits
// opportunities into persisted position groups.
type Gateway struct {
	bus               domain.SignalBus
	groups            domain.PositionGroupStore
	events            domain.PositionEventStore
	cfg               *runtimeconfig.Store
	opportunityStream string
	snapshotStream    string
	consumerName      string
	logger            *slog.Logger
}

// New creates a Gateway. consumerName must be unique per process.
func New(
	bus domain.SignalBus,
	groups domain.PositionGroupStore,
	events domain.PositionEventStore,
	cfg *runtimeconfig.Store,
	opportunityStream, snapshotStream, consumerName string,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		bus:               bus,
		groups:            groups,
		events:            events,
		cfg:               cfg,
		opportunityStream: opportunityStream,
		snapshotStream:    snapshotStream,
		consumerName:      consumerName,
		logger:            logger.With(slog.String("component", "execution_gateway")),
	}
}

// Run creates the consumer group if absent, then reads and admits
// opportunities until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.bus.EnsureGroup(ctx, g.opportunityStream, groupName); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := g.bus.StreamReadGroup(ctx, g.opportunityStream, groupName, g.consumerName, pollCount, pollBlock)
		if err != nil {
			g.logger.WarnContext(ctx, "opportunity stream read failed", slog.String("error", err.Error()))
			continue
		}

		for _, msg := range msgs {
			g.handle(ctx, msg)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg domain.StreamMessage) {
	opp, err := strategyengine.DecodeOpportunity(msg.Payload)
	if err != nil {
		g.logger.WarnContext(ctx, "opportunity decode failed", slog.String("id", msg.ID), slog.String("error", err.Error()))
		g.ack(ctx, msg.ID)
		return
	}

	cfg := g.cfg.Get()
	if !cfg.GlobalEnable {
		g.ack(ctx, msg.ID)
		return
	}

	longSnap, shortSnap, err := g.latestSnapshots(ctx, opp)
	if err != nil {
		g.logger.WarnContext(ctx, "snapshot lookup failed",
			slog.String("group_id", opp.GroupID), slog.String("error", err.Error()))
		return
	}

	group := buildGroup(opp, cfg.RiskLimits, longSnap, shortSnap)

	if err := g.groups.CreateAdmitted(ctx, group, cfg.RiskLimits); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			g.logger.InfoContext(ctx, "duplicate group id, acknowledging",
				slog.String("group_id", opp.GroupID))
			g.ack(ctx, msg.ID)
			return
		case errors.Is(err, domain.ErrGroupCapReached), errors.Is(err, domain.ErrDuplicateSymbolCapReached):
			g.logger.InfoContext(ctx, "admission deferred",
				slog.String("group_id", opp.GroupID), slog.String("reason", err.Error()))
			return
		default:
			g.logger.WarnContext(ctx, "admission failed, will redeliver",
				slog.String("group_id", opp.GroupID), slog.String("error", err.Error()))
			return
		}
	}

	if err := g.events.Append(ctx, openEvent(group)); err != nil {
		g.logger.WarnContext(ctx, "open event append failed",
			slog.String("group_id", opp.GroupID), slog.String("error", err.Error()))
	}

	g.logger.InfoContext(ctx, "position group admitted",
		slog.String("group_id", group.GroupID), slog.String("symbol", group.Symbol))
	g.ack(ctx, msg.ID)
}

func (g *Gateway) ack(ctx context.Context, id string) {
	if err := g.bus.StreamAck(ctx, g.opportunityStream, groupName, id); err != nil {
		g.logger.WarnContext(ctx, "ack failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// latestSnapshots scans the most recent snapshotScanSize snapshot entries
// for the long and short venue's quote on the opportunity's symbol.
func (g *Gateway) latestSnapshots(ctx context.Context, opp domain.Opportunity) (long, short domain.FundingSnapshot, err error) {
	msgs, err := g.bus.StreamReadRecent(ctx, g.snapshotStream, snapshotScanSize)
	if err != nil {
		return domain.FundingSnapshot{}, domain.FundingSnapshot{}, err
	}

	var haveLong, haveShort bool
	for _, msg := range msgs {
		if haveLong && haveShort {
			break
		}
		snap, decodeErr := marketfeed.DecodeSnapshot(msg.Payload)
		if decodeErr != nil {
			continue
		}
		if snap.Symbol != opp.Symbol {
			continue
		}
		if !haveLong && snap.Venue == opp.LongVenue {
			long = snap
			haveLong = true
		}
		if !haveShort && snap.Venue == opp.ShortVenue {
			short = snap
			haveShort = true
		}
	}

	if !haveLong || !haveShort {
		return domain.FundingSnapshot{}, domain.FundingSnapshot{}, domain.ErrNoSnapshot
	}
	return long, short, nil
}

func buildGroup(opp domain.Opportunity, limits domain.RiskLimits, longSnap, shortSnap domain.FundingSnapshot) domain.PositionGroup {
	notional := limits.MarginPerLeg * limits.LeverageMax
	now := time.Now().UTC()

	return domain.PositionGroup{
		GroupID:        opp.GroupID,
		Symbol:         opp.Symbol,
		Status:         domain.GroupStatusOpen,
		LongVenue:      opp.LongVenue,
		ShortVenue:     opp.ShortVenue,
		Leverage:       limits.LeverageMax,
		MarginPerLeg:   limits.MarginPerLeg,
		NotionalPerLeg: notional,
		FundingDiff:    opp.FundingDiff,
		ExpectedRate8h: opp.ExpectedRate8h,
		Simulated:      true,
		OpenedAt:       now,
		Legs: []domain.PositionLeg{
			{
				GroupID:    opp.GroupID,
				Venue:      opp.LongVenue,
				Side:       domain.PositionSideLong,
				Quantity:   notional / longSnap.EntryPrice(),
				EntryPrice: longSnap.EntryPrice(),
				Margin:     limits.MarginPerLeg,
				Notional:   notional,
				FeeRate:    limits.TakerFee,
				Status:     domain.GroupStatusOpen,
				OpenedAt:   now,
			},
			{
				GroupID:    opp.GroupID,
				Venue:      opp.ShortVenue,
				Side:       domain.PositionSideShort,
				Quantity:   notional / shortSnap.EntryPrice(),
				EntryPrice: shortSnap.EntryPrice(),
				Margin:     limits.MarginPerLeg,
				Notional:   notional,
				FeeRate:    limits.TakerFee,
				Status:     domain.GroupStatusOpen,
				OpenedAt:   now,
			},
		},
	}
}

func openEvent(group domain.PositionGroup) domain.PositionEvent {
	return domain.PositionEvent{
		GroupID:   group.GroupID,
		Symbol:    group.Symbol,
		EventType: domain.EventTypeOpen,
		Data: map[string]any{
			"long_venue":       group.LongVenue,
			"short_venue":      group.ShortVenue,
			"notional_per_leg": group.NotionalPerLeg,
			"funding_diff":     group.FundingDiff,
		},
		CreatedAt: group.OpenedAt,
	}
}
