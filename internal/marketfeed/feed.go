package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
)

// VenueClient polls one venue for a funding-rate batch.
type VenueClient interface {
	Poll(ctx context.Context) ([]domain.FundingSnapshot, error)
}

// Feed polls Venue A and Venue B on a fixed interval, normalises each
// successful batch, and publishes every non-empty batch to the snapshots
// stream. It is grounded on the teacher's market_scraper Run/RunLoop shape:
// run once immediately, then tick; a venue-level failure leaves the
// previous cached batch in place rather than clearing it.
type Feed struct {
	venueA VenueClient
	venueB VenueClient
	bus    domain.SignalBus
	stream string
	logger *slog.Logger

	mu      sync.RWMutex
	latest  map[string][]domain.FundingSnapshot
	started bool
}

// New creates a Feed with both venue clients wired in.
func New(venueA, venueB VenueClient, bus domain.SignalBus, stream string, logger *slog.Logger) *Feed {
	return &Feed{
		venueA: venueA,
		venueB: venueB,
		bus:    bus,
		stream: stream,
		logger: logger.With(slog.String("component", "marketfeed")),
		latest: make(map[string][]domain.FundingSnapshot),
	}
}

// Latest returns the last successful batch for a venue tag (may be empty).
func (f *Feed) Latest(venue string) []domain.FundingSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest[venue]
}

// Ready reports whether at least one polling cycle has completed. The
// health endpoint returns 503 until this is true.
func (f *Feed) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.started
}

// Run performs one polling cycle across both venues.
func (f *Feed) Run(ctx context.Context) error {
	f.pollVenue(ctx, "venue_a", f.venueA)
	f.pollVenue(ctx, "venue_b", f.venueB)
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *Feed) pollVenue(ctx context.Context, venue string, client VenueClient) {
	batch, err := client.Poll(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "venue poll failed, keeping previous batch",
			slog.String("venue", venue), slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	f.latest[venue] = batch
	f.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	published := 0
	for _, snap := range batch {
		payload, err := json.Marshal(wireSnapshot(snap))
		if err != nil {
			f.logger.WarnContext(ctx, "snapshot marshal failed",
				slog.String("venue", venue), slog.String("symbol", snap.Symbol), slog.String("error", err.Error()))
			continue
		}
		if err := f.bus.StreamAppend(ctx, f.stream, payload); err != nil {
			f.logger.WarnContext(ctx, "snapshot publish failed",
				slog.String("venue", venue), slog.String("symbol", snap.Symbol), slog.String("error", err.Error()))
			continue
		}
		published++
	}

	f.logger.InfoContext(ctx, "venue poll cycle complete",
		slog.String("venue", venue), slog.Int("count", len(batch)), slog.Int("published", published))
}

// RunLoop runs the polling cycle immediately, then on every tick until ctx
// is cancelled. Polling errors are logged and the loop continues.
func (f *Feed) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := f.Run(ctx); err != nil {
		f.logger.ErrorContext(ctx, "market feed cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Run(ctx); err != nil {
				f.logger.ErrorContext(ctx, "market feed cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// wireFundingSnapshot is the on-the-wire JSON shape: base fields plus the
// derived rate8h/settle_countdown_secs fields the spec's snapshot publisher
// contract requires consumers to be able to reconstruct from.
type wireFundingSnapshot struct {
	Venue               string   `json:"venue"`
	Symbol              string   `json:"symbol"`
	FundingRateRaw       float64  `json:"funding_rate_raw"`
	SettleIntervalHours int      `json:"settle_interval_hours"`
	NextFundingTimeMs    int64    `json:"next_funding_time_ms"`
	MarkPrice            *float64 `json:"mark_price,omitempty"`
	IndexPrice           *float64 `json:"index_price,omitempty"`
	Instrument           string   `json:"instrument"`
	CapturedAtMs         int64    `json:"captured_at_ms"`
	Rate8h               float64  `json:"rate8h"`
	SettleCountdownSecs  int64    `json:"settle_countdown_secs"`
}

func wireSnapshot(s domain.FundingSnapshot) wireFundingSnapshot {
	return wireFundingSnapshot{
		Venue:               s.Venue,
		Symbol:              s.Symbol,
		FundingRateRaw:      s.FundingRateRaw,
		SettleIntervalHours: s.SettleIntervalHours,
		NextFundingTimeMs:   s.NextFundingTimeMs,
		MarkPrice:           s.MarkPrice,
		IndexPrice:          s.IndexPrice,
		Instrument:          s.Instrument,
		CapturedAtMs:        s.CapturedAtMs,
		Rate8h:              s.Rate8h(),
		SettleCountdownSecs: s.SettleCountdownSecs(s.CapturedAtMs),
	}
}

// DecodeSnapshot parses a wire-format snapshot payload back into a
// FundingSnapshot. It tolerates both present and absent derived fields,
// matching the spec's "reconstruct from whichever set is present" contract.
func DecodeSnapshot(payload []byte) (domain.FundingSnapshot, error) {
	var w wireFundingSnapshot
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.FundingSnapshot{}, fmt.Errorf("marketfeed: decode snapshot: %w", err)
	}
	return domain.FundingSnapshot{
		Venue:               w.Venue,
		Symbol:              w.Symbol,
		FundingRateRaw:      w.FundingRateRaw,
		SettleIntervalHours: w.SettleIntervalHours,
		NextFundingTimeMs:   w.NextFundingTimeMs,
		MarkPrice:           w.MarkPrice,
		IndexPrice:          w.IndexPrice,
		Instrument:          w.Instrument,
		CapturedAtMs:        w.CapturedAtMs,
	}, nil
}
