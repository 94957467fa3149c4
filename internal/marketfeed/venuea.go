package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
)

// VenueAClient polls Venue A's bulk funding-rate endpoint. Venue A returns
// every symbol's funding rate in one request, so no fan-out bound is
// needed here.
type VenueAClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVenueAClient creates a Venue A client sharing one *http.Client bound to
// the configured request timeout.
func NewVenueAClient(baseURL string, timeout time.Duration, logger *slog.Logger) *VenueAClient {
	return &VenueAClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "venue_a")),
	}
}

type venueAEntry struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
}

// Poll fetches the current funding-rate batch. Per-element mapping failures
// are logged and skipped; the batch itself is not failed unless the
// request/decode fails outright.
func (c *VenueAClient) Poll(ctx context.Context) ([]domain.FundingSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, fmt.Errorf("marketfeed: venue a request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketfeed: venue a fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketfeed: venue a status %d", resp.StatusCode)
	}

	var entries []venueAEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("marketfeed: venue a decode: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	snapshots := make([]domain.FundingSnapshot, 0, len(entries))
	for _, e := range entries {
		snap, err := mapVenueAEntry(e, now)
		if err != nil {
			c.logger.WarnContext(ctx, "venue a element mapping failed",
				slog.String("symbol", e.Symbol), slog.String("error", err.Error()))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func mapVenueAEntry(e venueAEntry, capturedAtMs int64) (domain.FundingSnapshot, error) {
	if e.Symbol == "" {
		return domain.FundingSnapshot{}, fmt.Errorf("missing symbol")
	}
	rate, err := strconv.ParseFloat(e.LastFundingRate, 64)
	if err != nil {
		return domain.FundingSnapshot{}, fmt.Errorf("parse lastFundingRate: %w", err)
	}

	snap := domain.FundingSnapshot{
		Venue:               "venue_a",
		Symbol:              e.Symbol,
		FundingRateRaw:      rate,
		SettleIntervalHours: 8,
		NextFundingTimeMs:   e.NextFundingTime,
		Instrument:          e.Symbol,
		CapturedAtMs:        capturedAtMs,
	}
	if e.MarkPrice != "" {
		if v, err := strconv.ParseFloat(e.MarkPrice, 64); err == nil {
			snap.MarkPrice = &v
		}
	}
	if e.IndexPrice != "" {
		if v, err := strconv.ParseFloat(e.IndexPrice, 64); err == nil {
			snap.IndexPrice = &v
		}
	}
	return snap, nil
}
