package marketfeed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundarb/fundarb/internal/domain"
)

type stubVenueClient struct {
	mu      sync.Mutex
	batch   []domain.FundingSnapshot
	err     error
	calls   int
}

func (c *stubVenueClient) Poll(ctx context.Context) ([]domain.FundingSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.batch, nil
}

type fakeBus struct {
	mu       sync.Mutex
	appended [][]byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, payload)
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

func TestFeedNotReadyBeforeFirstCycle(t *testing.T) {
	feed := New(&stubVenueClient{}, &stubVenueClient{}, &fakeBus{}, "snapshots", testLogger())
	assert.False(t, feed.Ready())

	h := NewHandler(feed)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.HealthCheck(rec, req)
	assert.Equal(t, 503, rec.Code)
}

func TestFeedReadyAfterFirstCycle(t *testing.T) {
	feed := New(&stubVenueClient{}, &stubVenueClient{}, &fakeBus{}, "snapshots", testLogger())
	require.NoError(t, feed.Run(context.Background()))
	assert.True(t, feed.Ready())

	h := NewHandler(feed)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.HealthCheck(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestFeedPublishesEveryNonEmptyBatch(t *testing.T) {
	a := &stubVenueClient{batch: []domain.FundingSnapshot{{Venue: "venue_a", Symbol: "BTCUSDT"}, {Venue: "venue_a", Symbol: "ETHUSDT"}}}
	b := &stubVenueClient{batch: nil}
	bus := &fakeBus{}
	feed := New(a, b, bus, "snapshots", testLogger())

	require.NoError(t, feed.Run(context.Background()))

	assert.Len(t, bus.appended, 2)
	assert.Len(t, feed.Latest("venue_a"), 2)
	assert.Empty(t, feed.Latest("venue_b"))
}

func TestFeedKeepsPreviousBatchOnVenueFailure(t *testing.T) {
	a := &stubVenueClient{batch: []domain.FundingSnapshot{{Venue: "venue_a", Symbol: "BTCUSDT"}}}
	bus := &fakeBus{}
	feed := New(a, &stubVenueClient{}, bus, "snapshots", testLogger())

	require.NoError(t, feed.Run(context.Background()))
	require.Len(t, feed.Latest("venue_a"), 1)

	a.err = assertErr{}
	require.NoError(t, feed.Run(context.Background()))
	assert.Len(t, feed.Latest("venue_a"), 1, "a failed poll must not clear the previous cached batch")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestHandlerFundingUnknownVenue(t *testing.T) {
	feed := New(&stubVenueClient{}, &stubVenueClient{}, &fakeBus{}, "snapshots", testLogger())
	h := NewHandler(feed)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/funding/venue_c", nil)
	req.SetPathValue("venue", "venue_c")
	h.Funding(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestDecodeSnapshotRoundTrip(t *testing.T) {
	mark := 100.5
	original := domain.FundingSnapshot{
		Venue:               "venue_a",
		Symbol:              "BTCUSDT",
		FundingRateRaw:      0.0007,
		SettleIntervalHours: 8,
		NextFundingTimeMs:   123456789,
		MarkPrice:           &mark,
		Instrument:          "BTCUSDT",
		CapturedAtMs:        100,
	}

	payload, err := json.Marshal(wireSnapshot(original))
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(payload)
	require.NoError(t, err)

	assert.Equal(t, original.Venue, decoded.Venue)
	assert.Equal(t, original.Symbol, decoded.Symbol)
	assert.InDelta(t, original.FundingRateRaw, decoded.FundingRateRaw, 1e-12)
	assert.Equal(t, original.SettleIntervalHours, decoded.SettleIntervalHours)
	assert.Equal(t, original.NextFundingTimeMs, decoded.NextFundingTimeMs)
	require.NotNil(t, decoded.MarkPrice)
	assert.InDelta(t, *original.MarkPrice, *decoded.MarkPrice, 1e-9)
}
