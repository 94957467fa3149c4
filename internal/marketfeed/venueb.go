package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"golang.org/x/sync/semaphore"
)

// VenueBClient polls Venue B, a two-stage exchange: a contract listing call
// discovers the margin coin per symbol, then one funding-rate call per
// contract, bounded by a concurrency semaphore (bitget_concurrency).
type VenueBClient struct {
	baseURL     string
	httpClient  *http.Client
	concurrency int64
	logger      *slog.Logger
}

// NewVenueBClient creates a Venue B client. concurrency bounds the number of
// simultaneous per-contract funding-rate requests.
func NewVenueBClient(baseURL string, timeout time.Duration, concurrency int, logger *slog.Logger) *VenueBClient {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &VenueBClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		concurrency: int64(concurrency),
		logger:      logger.With(slog.String("component", "venue_b")),
	}
}

type venueBContract struct {
	Symbol     string `json:"symbol"`
	MarginCoin string `json:"marginCoin"`
}

type venueBFundingRate struct {
	Symbol              string `json:"symbol"`
	FundingRate         string `json:"fundingRate"`
	FundingRateInterval string `json:"fundingRateInterval"`
	NextUpdate          int64  `json:"nextUpdate"`
	MarkPrice           string `json:"markPrice"`
	IndexPrice          string `json:"indexPrice"`
}

// contractListingVariants are tried in order; the first to succeed defines
// margin_coin per symbol.
var contractListingVariants = []string{
	"/api/mix/v1/market/contracts?productType=umcbl",
	"/api/v2/mix/market/contracts?productType=USDT-FUTURES",
}

// fundingRateVariants are tried per contract in order; the second requires
// margin_coin.
var fundingRateVariants = []string{
	"/api/mix/v1/market/current-fundRate?symbol=%s",
	"/api/mix/v1/market/funding-time?symbol=%s&marginCoin=%s",
}

// Poll fetches the current contract listing, then fans out one funding-rate
// request per contract bounded by the configured concurrency.
func (c *VenueBClient) Poll(ctx context.Context) ([]domain.FundingSnapshot, error) {
	contracts, err := c.listContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketfeed: venue b list contracts: %w", err)
	}

	sem := semaphore.NewWeighted(c.concurrency)
	var (
		mu        sync.Mutex
		snapshots []domain.FundingSnapshot
		wg        sync.WaitGroup
	)
	now := time.Now().UTC().UnixMilli()

	for _, contract := range contracts {
		contract := contract
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			snap, err := c.fetchFundingRate(ctx, contract, now)
			if err != nil {
				c.logger.WarnContext(ctx, "venue b funding rate fetch failed",
					slog.String("symbol", contract.Symbol), slog.String("error", err.Error()))
				return
			}
			mu.Lock()
			snapshots = append(snapshots, snap)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return snapshots, nil
}

func (c *VenueBClient) listContracts(ctx context.Context) ([]venueBContract, error) {
	var lastErr error
	for _, path := range contractListingVariants {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		var contracts []venueBContract
		decodeErr := json.NewDecoder(resp.Body).Decode(&contracts)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			if decodeErr != nil {
				lastErr = decodeErr
			} else {
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			}
			continue
		}
		return contracts, nil
	}
	return nil, lastErr
}

func (c *VenueBClient) fetchFundingRate(ctx context.Context, contract venueBContract, capturedAtMs int64) (domain.FundingSnapshot, error) {
	var (
		rate venueBFundingRate
		got  bool
	)
	for i, variant := range fundingRateVariants {
		url := c.baseURL + fmt.Sprintf(variant, contract.Symbol, contract.MarginCoin)
		if i == 0 {
			url = c.baseURL + fmt.Sprintf(variant, contract.Symbol)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&rate)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && decodeErr == nil {
			got = true
			break
		}
	}
	if !got {
		return domain.FundingSnapshot{}, fmt.Errorf("no funding-rate endpoint succeeded for %s", contract.Symbol)
	}

	fundingRate, err := strconv.ParseFloat(rate.FundingRate, 64)
	if err != nil {
		return domain.FundingSnapshot{}, fmt.Errorf("parse fundingRate: %w", err)
	}

	interval := 8
	if rate.FundingRateInterval != "" {
		if v, err := strconv.Atoi(rate.FundingRateInterval); err == nil && v > 0 {
			interval = v
		}
	}

	snap := domain.FundingSnapshot{
		Venue:               "venue_b",
		Symbol:              normalizeVenueBSymbol(contract.Symbol),
		FundingRateRaw:      fundingRate,
		SettleIntervalHours: interval,
		NextFundingTimeMs:   rate.NextUpdate,
		Instrument:          contract.Symbol,
		CapturedAtMs:        capturedAtMs,
	}
	if rate.MarkPrice != "" {
		if v, err := strconv.ParseFloat(rate.MarkPrice, 64); err == nil {
			snap.MarkPrice = &v
		}
	}
	if rate.IndexPrice != "" {
		if v, err := strconv.ParseFloat(rate.IndexPrice, 64); err == nil {
			snap.IndexPrice = &v
		}
	}
	return snap, nil
}

// normalizeVenueBSymbol strips Venue B's trailing contract-type suffix so
// symbols compare equal across venues (e.g. "BTCUSDT_UMCBL" -> "BTCUSDT").
func normalizeVenueBSymbol(symbol string) string {
	symbol = strings.TrimSuffix(symbol, "_UMCBL")
	symbol = strings.TrimSuffix(symbol, "_DMCBL")
	return symbol
}
