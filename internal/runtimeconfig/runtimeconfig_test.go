package runtimeconfig

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundarb/fundarb/internal/domain"
)

type fakeBus struct {
	ch chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan []byte, 4)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }
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

func TestGetReturnsDefaultsBeforeAnyFetch(t *testing.T) {
	defaults := Defaults(domain.Thresholds{AA: 0.0005}, domain.RiskLimits{GroupMax: 20})
	s := New("http://unused", http.DefaultClient, newFakeBus(), defaults, testLogger())

	got := s.Get()
	assert.Equal(t, defaults, got)
}

func TestBootstrapAppliesFetchedProfile(t *testing.T) {
	profile := domain.ConfigProfile{Version: 7, Thresholds: domain.Thresholds{AA: 0.002}, GlobalEnable: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(profile)
	}))
	defer srv.Close()

	defaults := Defaults(domain.Thresholds{}, domain.RiskLimits{})
	s := New(srv.URL, srv.Client(), newFakeBus(), defaults, testLogger())

	s.Bootstrap(context.Background())

	got := s.Get()
	assert.Equal(t, int64(7), got.Version)
	assert.InDelta(t, 0.002, got.Thresholds.AA, 1e-12)
}

func TestBootstrapDegradesToDefaultsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	defaults := Defaults(domain.Thresholds{AA: 0.0009}, domain.RiskLimits{})
	s := New(srv.URL, srv.Client(), newFakeBus(), defaults, testLogger())

	s.Bootstrap(context.Background())

	got := s.Get()
	assert.Equal(t, defaults, got, "a failed bootstrap fetch must leave the seeded defaults in place")
}

func TestWatchReplacesSnapshotWholeStructureOnMessage(t *testing.T) {
	bus := newFakeBus()
	defaults := Defaults(domain.Thresholds{}, domain.RiskLimits{})
	s := New("http://unused", http.DefaultClient, bus, defaults, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Watch(ctx, "config:updates")
		close(done)
	}()

	profile := domain.ConfigProfile{Version: 3, Thresholds: domain.Thresholds{AA: 0.0042}}
	payload, err := json.Marshal(profile)
	require.NoError(t, err)
	bus.ch <- payload

	require.Eventually(t, func() bool {
		return s.Get().Version == 3
	}, time.Second, 5*time.Millisecond)

	assert.InDelta(t, 0.0042, s.Get().Thresholds.AA, 1e-12)

	cancel()
	<-done
}

func TestWatchSkipsMalformedMessageWithoutPanicking(t *testing.T) {
	bus := newFakeBus()
	defaults := Defaults(domain.Thresholds{AA: 0.01}, domain.RiskLimits{})
	s := New("http://unused", http.DefaultClient, bus, defaults, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Watch(ctx, "config:updates")
		close(done)
	}()

	bus.ch <- []byte("not json")
	time.Sleep(20 * time.Millisecond)

	assert.InDelta(t, 0.01, s.Get().Thresholds.AA, 1e-12, "malformed message must not replace the snapshot")

	cancel()
	<-done
}
