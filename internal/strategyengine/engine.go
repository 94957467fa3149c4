// Package strategyengine reduces the stream of funding snapshots into
// cross-venue arbitrage opportunities. It is grounded on the teacher's
// arbitrage.Detector: a single goroutine subscribes/reads, decodes each
// message, and dispatches to a pure decision function.
package strategyengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/marketfeed"
	"github.com/fundarb/fundarb/internal/runtimeconfig"
)

const (
	snapshotBatchSize  = 100
	blockPollInterval  = 5 * time.Second
)

// Engine reduces snapshots into opportunities. latest is owned by a single
// goroutine (Run), so it needs no locking.
type Engine struct {
	bus            domain.SignalBus
	cfg            *runtimeconfig.Store
	snapshotStream string
	opportunityStream string
	logger         *slog.Logger

	latest map[string]map[string]domain.FundingSnapshot // venue -> symbol -> snapshot
}

// New creates an Engine.
func New(bus domain.SignalBus, cfg *runtimeconfig.Store, snapshotStream, opportunityStream string, logger *slog.Logger) *Engine {
	return &Engine{
		bus:               bus,
		cfg:               cfg,
		snapshotStream:    snapshotStream,
		opportunityStream: opportunityStream,
		logger:            logger.With(slog.String("component", "strategy_engine")),
		latest:            make(map[string]map[string]domain.FundingSnapshot),
	}
}

// Run reads the snapshots stream from the beginning (cursor resumes at
// "0-0" on every restart; reprocessing is harmless because Execution-Gateway
// collapses duplicate group ids) and reduces it into opportunities until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	lastID := "0-0"

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := e.bus.StreamRead(ctx, e.snapshotStream, lastID, snapshotBatchSize)
		if err != nil {
			e.logger.WarnContext(ctx, "snapshot stream read failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, blockPollInterval) {
				return nil
			}
			continue
		}

		if len(msgs) == 0 {
			if !sleepCtx(ctx, blockPollInterval) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			lastID = msg.ID
			if err := e.handleMessage(ctx, msg.Payload); err != nil {
				e.logger.WarnContext(ctx, "snapshot handling failed", slog.String("error", err.Error()))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) handleMessage(ctx context.Context, payload []byte) error {
	snap, err := marketfeed.DecodeSnapshot(payload)
	if err != nil {
		return fmt.Errorf("strategy_engine: decode: %w", err)
	}

	cfg := e.cfg.Get()
	if !cfg.GlobalEnable {
		return nil
	}

	if e.latest[snap.Venue] == nil {
		e.latest[snap.Venue] = make(map[string]domain.FundingSnapshot)
	}
	e.latest[snap.Venue][snap.Symbol] = snap

	other := otherVenue(snap.Venue)
	counterpart, ok := e.latest[other][snap.Symbol]
	if !ok {
		return nil
	}

	fundingDiff := snap.Rate8h() - counterpart.Rate8h()
	if abs(fundingDiff) < cfg.Thresholds.AA {
		return nil
	}

	opp := buildOpportunity(snap, counterpart, fundingDiff)

	payloadOut, err := json.Marshal(wireOpportunity(opp))
	if err != nil {
		return fmt.Errorf("strategy_engine: marshal opportunity: %w", err)
	}
	if err := e.bus.StreamAppend(ctx, e.opportunityStream, payloadOut); err != nil {
		return fmt.Errorf("strategy_engine: publish opportunity: %w", err)
	}

	e.logger.InfoContext(ctx, "opportunity emitted",
		slog.String("group_id", opp.GroupID),
		slog.String("symbol", opp.Symbol),
		slog.Float64("funding_diff", opp.FundingDiff),
	)
	return nil
}

// buildOpportunity constructs the Opportunity from the two venues' latest
// snapshots for the same symbol. this is the snapshot that just arrived;
// counterpart is the other venue's latest snapshot for the same symbol.
// fundingDiff = this.rate8h - counterpart.rate8h. The venue with the lower
// rate8h goes long; the higher goes short.
func buildOpportunity(this, counterpart domain.FundingSnapshot, fundingDiff float64) domain.Opportunity {
	now := time.Now().UTC()

	longVenue, shortVenue := counterpart.Venue, this.Venue
	if fundingDiff < 0 {
		// this has the lower rate, so this is long.
		longVenue, shortVenue = this.Venue, counterpart.Venue
	}

	return domain.Opportunity{
		GroupID:        domain.NewGroupID(this.Symbol, now),
		Symbol:         this.Symbol,
		LongVenue:      longVenue,
		ShortVenue:     shortVenue,
		FundingDiff:    fundingDiff,
		ExpectedRate8h: this.Rate8h(),
		CreatedAt:      now,
	}
}

func otherVenue(venue string) string {
	if venue == "venue_a" {
		return "venue_b"
	}
	return "venue_a"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

type wireOpportunityPayload struct {
	GroupID        string  `json:"group_id"`
	Symbol         string  `json:"symbol"`
	LongVenue      string  `json:"long_venue"`
	ShortVenue     string  `json:"short_venue"`
	FundingDiff    float64 `json:"funding_diff"`
	ExpectedRate8h float64 `json:"expected_rate8h"`
	CreatedAt      int64   `json:"created_at_ms"`
}

func wireOpportunity(o domain.Opportunity) wireOpportunityPayload {
	return wireOpportunityPayload{
		GroupID:        o.GroupID,
		Symbol:         o.Symbol,
		LongVenue:      o.LongVenue,
		ShortVenue:     o.ShortVenue,
		FundingDiff:    o.FundingDiff,
		ExpectedRate8h: o.ExpectedRate8h,
		CreatedAt:      o.CreatedAt.UnixMilli(),
	}
}

// DecodeOpportunity parses a wire-format opportunity payload.
func DecodeOpportunity(payload []byte) (domain.Opportunity, error) {
	var w wireOpportunityPayload
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.Opportunity{}, fmt.Errorf("strategy_engine: decode opportunity: %w", err)
	}
	return domain.Opportunity{
		GroupID:        w.GroupID,
		Symbol:         w.Symbol,
		LongVenue:      w.LongVenue,
		ShortVenue:     w.ShortVenue,
		FundingDiff:    w.FundingDiff,
		ExpectedRate8h: w.ExpectedRate8h,
		CreatedAt:      time.UnixMilli(w.CreatedAt).UTC(),
	}, nil
}
