package strategyengine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/fundarb/fundarb/internal/runtimeconfig"
)

// fakeBus is a minimal in-memory domain.SignalBus sufficient for exercising
// a single stage's publish path; it does not implement consumer groups.
type fakeBus struct {
	appended map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{appended: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}
func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}
func (b *fakeBus) StreamReadRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}
func (b *fakeBus) EnsureGroup(ctx context.Context, stream, group string) error { return nil }
func (b *fakeBus) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	return nil, nil
}
func (b *fakeBus) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCfgStore(thresholds domain.Thresholds, enabled bool) *runtimeconfig.Store {
	defaults := runtimeconfig.Defaults(thresholds, domain.RiskLimits{})
	defaults.GlobalEnable = enabled
	return runtimeconfig.New("http://unused", http.DefaultClient, newFakeBus(), defaults, testLogger())
}

func mkSnapshot(venue, symbol string, rate float64, capturedAt int64) domain.FundingSnapshot {
	return domain.FundingSnapshot{
		Venue:               venue,
		Symbol:              symbol,
		FundingRateRaw:      rate,
		SettleIntervalHours: 8,
		NextFundingTimeMs:   capturedAt + 3_600_000,
		CapturedAtMs:        capturedAt,
	}
}

func wirePayload(t *testing.T, snap domain.FundingSnapshot) []byte {
	t.Helper()
	payload, err := json.Marshal(wireSnapshotForTest(snap))
	require.NoError(t, err)
	return payload
}

// wireSnapshotForTest builds marketfeed's wire shape by hand; field names
// match the json tags DecodeSnapshot expects.
func wireSnapshotForTest(s domain.FundingSnapshot) map[string]any {
	return map[string]any{
		"venue":                 s.Venue,
		"symbol":                s.Symbol,
		"funding_rate_raw":      s.FundingRateRaw,
		"settle_interval_hours": s.SettleIntervalHours,
		"next_funding_time_ms":  s.NextFundingTimeMs,
		"captured_at_ms":        s.CapturedAtMs,
	}
}

func TestHandleMessageEmitsOpportunityWhenDiffExceedsThreshold(t *testing.T) {
	bus := newFakeBus()
	cfg := testCfgStore(domain.Thresholds{AA: 0.0005}, true)
	e := New(bus, cfg, "snapshots", "opportunities", testLogger())

	// Venue A: 0.0010 rate8h. Venue B: 0.0002 rate8h. diff = 0.0008 >= 0.0005.
	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_b", "BTCUSDT", 0.0002, 1000))))
	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_a", "BTCUSDT", 0.0010, 2000))))

	require.Len(t, bus.appended["opportunities"], 1)

	opp, err := DecodeOpportunity(bus.appended["opportunities"][0])
	require.NoError(t, err)
	assert.Equal(t, "venue_b", opp.LongVenue)
	assert.Equal(t, "venue_a", opp.ShortVenue)
	assert.InDelta(t, 0.0008, opp.FundingDiff, 1e-9)
	assert.NotEqual(t, opp.LongVenue, opp.ShortVenue)
}

func TestHandleMessageEmitsOpportunityExactlyAtThreshold(t *testing.T) {
	bus := newFakeBus()
	cfg := testCfgStore(domain.Thresholds{AA: 0.0008}, true)
	e := New(bus, cfg, "snapshots", "opportunities", testLogger())

	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_b", "BTCUSDT", 0.0002, 1000))))
	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_a", "BTCUSDT", 0.0010, 2000))))

	assert.Len(t, bus.appended["opportunities"], 1, "stop condition is strict '<', so |diff| == aa still emits")
}

func TestHandleMessageSuppressesOpportunityBelowThreshold(t *testing.T) {
	bus := newFakeBus()
	cfg := testCfgStore(domain.Thresholds{AA: 0.0009}, true)
	e := New(bus, cfg, "snapshots", "opportunities", testLogger())

	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_b", "BTCUSDT", 0.0002, 1000))))
	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_a", "BTCUSDT", 0.0010, 2000))))

	assert.Empty(t, bus.appended["opportunities"])
}

func TestHandleMessageIgnoredWhenGlobalDisabled(t *testing.T) {
	bus := newFakeBus()
	cfg := testCfgStore(domain.Thresholds{AA: 0.0001}, false)
	e := New(bus, cfg, "snapshots", "opportunities", testLogger())

	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_b", "BTCUSDT", 0.0002, 1000))))
	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_a", "BTCUSDT", 0.0010, 2000))))

	assert.Empty(t, bus.appended["opportunities"])
}

func TestHandleMessageNoCounterpartYet(t *testing.T) {
	bus := newFakeBus()
	cfg := testCfgStore(domain.Thresholds{AA: 0.0001}, true)
	e := New(bus, cfg, "snapshots", "opportunities", testLogger())

	require.NoError(t, e.handleMessage(context.Background(), wirePayload(t, mkSnapshot("venue_a", "BTCUSDT", 0.0010, 2000))))

	assert.Empty(t, bus.appended["opportunities"])
}

func TestTwoInstancesCollideOnSameGroupID(t *testing.T) {
	now := time.Date(2025, 1, 15, 3, 4, 5, 0, time.UTC)
	a := domain.Opportunity{GroupID: domain.NewGroupID("BTCUSDT", now)}
	b := domain.Opportunity{GroupID: domain.NewGroupID("BTCUSDT", now.Add(300*time.Millisecond))}
	assert.Equal(t, a.GroupID, b.GroupID)
}
