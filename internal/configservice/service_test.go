package configservice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundarb/fundarb/internal/domain"
)

type fakeConfigStore struct {
	mu       sync.Mutex
	profiles []domain.ConfigProfile
	audits   []domain.ConfigAuditLog
}

func (s *fakeConfigStore) Current(ctx context.Context) (domain.ConfigProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.profiles) == 0 {
		return domain.ConfigProfile{}, domain.ErrNotFound
	}
	return s.profiles[len(s.profiles)-1], nil
}

func (s *fakeConfigStore) Create(ctx context.Context, profile domain.ConfigProfile, audit domain.ConfigAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, profile)
	s.audits = append(s.audits, audit)
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}
func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
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

func defaultProfile() domain.ConfigProfile {
	return domain.ConfigProfile{
		Thresholds:           domain.Thresholds{AA: 0.0005},
		RiskLimits:           domain.RiskLimits{GroupMax: 20, DuplicateMax: 3, LeverageMax: 3, MarginPerLeg: 100},
		GlobalEnable:         true,
		ScanIntervalSeconds:  30,
		CloseIntervalSeconds: 10,
		OpenIntervalSeconds:  5,
	}
}

func TestBootstrapCreatesVersionOneWhenEmpty(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())

	require.NoError(t, svc.Bootstrap(context.Background()))

	current, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
	assert.Equal(t, "system", current.CreatedBy)
	// The audit entry goes out on config:audit, then the profile on config:updates.
	require.Len(t, bus.published, 2)
}

func TestBootstrapIsNoOpWhenProfileExists(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())
	require.NoError(t, svc.Bootstrap(context.Background()))
	require.NoError(t, svc.Bootstrap(context.Background()))

	require.Len(t, store.profiles, 1, "a second bootstrap must not create version 2")
}

func TestPutIncrementsVersionAndFillsAbsentFields(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())
	require.NoError(t, svc.Bootstrap(context.Background()))

	disabled := false
	updated, err := svc.Put(context.Background(), PutOptions{GlobalEnable: &disabled, Operator: "ops"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.False(t, updated.GlobalEnable)
	assert.Equal(t, "ops", updated.CreatedBy)
	// Absent fields (thresholds, risk limits, intervals) carry over from v1.
	assert.Equal(t, defaultProfile().Thresholds, updated.Thresholds)
	assert.Equal(t, defaultProfile().RiskLimits, updated.RiskLimits)
	assert.Equal(t, 30, updated.ScanIntervalSeconds)

	// Each write publishes its audit entry and then its profile, so the v2
	// profile is the fourth payload.
	require.Len(t, bus.published, 4)
	var onWire domain.ConfigProfile
	require.NoError(t, json.Unmarshal(bus.published[3], &onWire))
	assert.Equal(t, int64(2), onWire.Version)
}

func TestPutMergesPartialRiskLimitsOverPrevious(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())
	require.NoError(t, svc.Bootstrap(context.Background()))

	partial := &domain.RiskLimits{GroupMax: 50}
	updated, err := svc.Put(context.Background(), PutOptions{RiskLimits: partial})
	require.NoError(t, err)

	assert.Equal(t, 50, updated.RiskLimits.GroupMax)
	// Untouched fields gained from the previous profile, not zeroed.
	assert.Equal(t, 3, updated.RiskLimits.DuplicateMax)
	assert.Equal(t, 3.0, updated.RiskLimits.LeverageMax)
}

func TestPutThenGetRoundTripsRequestedFields(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())
	require.NoError(t, svc.Bootstrap(context.Background()))

	th := domain.Thresholds{AA: 0.001, BB: 0.0002}
	_, err := svc.Put(context.Background(), PutOptions{Thresholds: &th})
	require.NoError(t, err)

	got, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, th, got.Thresholds)
}

func TestVersionIsStrictlyMonotoneAndUnique(t *testing.T) {
	store := &fakeConfigStore{}
	bus := &fakeBus{}
	svc := New(store, bus, "config:updates", "config:audit", defaultProfile(), testLogger())
	require.NoError(t, svc.Bootstrap(context.Background()))

	seen := map[int64]bool{}
	var last int64
	for i := 0; i < 5; i++ {
		enabled := i%2 == 0
		updated, err := svc.Put(context.Background(), PutOptions{GlobalEnable: &enabled})
		require.NoError(t, err)
		assert.False(t, seen[updated.Version], "version must be unique")
		seen[updated.Version] = true
		assert.Greater(t, updated.Version, last)
		last = updated.Version
	}
}
