// Package runtimeconfig distributes Config-Service's versioned profile to
// every other stage as a process-wide, lock-free-readable snapshot. It
// implements the spec's runtime-config contract: an initial HTTP fetch fills
// the state, and a config:updates subscriber goroutine keeps it current
// with a whole-structure atomic replacement (never a partial mutation).
package runtimeconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/fundarb/fundarb/internal/domain"
)

// Snapshot is the subset of ConfigProfile every stage actually reads on its
// hot path.
type Snapshot struct {
	Version              int64
	Thresholds           domain.Thresholds
	RiskLimits           domain.RiskLimits
	GlobalEnable         bool
	ScanIntervalSeconds  int
	CloseIntervalSeconds int
	OpenIntervalSeconds  int
}

func snapshotFromProfile(p domain.ConfigProfile) Snapshot {
	return Snapshot{
		Version:              p.Version,
		Thresholds:           p.Thresholds,
		RiskLimits:           p.RiskLimits,
		GlobalEnable:         p.GlobalEnable,
		ScanIntervalSeconds:  p.ScanIntervalSeconds,
		CloseIntervalSeconds: p.CloseIntervalSeconds,
		OpenIntervalSeconds:  p.OpenIntervalSeconds,
	}
}

// Store holds the current Snapshot behind an atomic.Pointer: reads never
// block, writes are serialised by the pointer's own CAS/Store semantics so
// no separate lock is needed for the whole-structure replacement.
type Store struct {
	current atomic.Pointer[Snapshot]
	configURL string
	httpClient *http.Client
	bus        domain.SignalBus
	defaults   Snapshot
	logger     *slog.Logger
}

// New creates a Store seeded with defaults (used until the bootstrap fetch
// or first config:updates message arrives).
func New(configURL string, httpClient *http.Client, b domain.SignalBus, defaults Snapshot, logger *slog.Logger) *Store {
	s := &Store{
		configURL:  configURL,
		httpClient: httpClient,
		bus:        b,
		defaults:   defaults,
		logger:     logger.With(slog.String("component", "runtimeconfig")),
	}
	s.current.Store(&defaults)
	return s
}

// Get returns the current snapshot. Lock-free.
func (s *Store) Get() Snapshot {
	return *s.current.Load()
}

// Bootstrap performs the one-time HTTP GET against Config-Service. A failed
// fetch degrades gracefully to defaults (already stored) rather than
// failing stage startup.
func (s *Store) Bootstrap(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.configURL, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "bootstrap request build failed", slog.String("error", err.Error()))
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "bootstrap fetch failed, using defaults", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.WarnContext(ctx, "bootstrap fetch non-200, using defaults", slog.Int("status", resp.StatusCode))
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.WarnContext(ctx, "bootstrap read failed, using defaults", slog.String("error", err.Error()))
		return
	}

	var profile domain.ConfigProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		s.logger.WarnContext(ctx, "bootstrap decode failed, using defaults", slog.String("error", err.Error()))
		return
	}

	snap := snapshotFromProfile(profile)
	s.current.Store(&snap)
	s.logger.InfoContext(ctx, "bootstrap fetch applied", slog.Int64("version", snap.Version))
}

// Watch subscribes to the config:updates channel and atomically replaces the
// snapshot on every message until ctx is cancelled. Malformed messages are
// logged and skipped; they never panic the loop.
func (s *Store) Watch(ctx context.Context, channel string) error {
	msgs, err := s.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("runtimeconfig: subscribe %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var profile domain.ConfigProfile
			if err := json.Unmarshal(payload, &profile); err != nil {
				s.logger.WarnContext(ctx, "config update decode failed", slog.String("error", err.Error()))
				continue
			}
			snap := snapshotFromProfile(profile)
			s.current.Store(&snap)
			s.logger.InfoContext(ctx, "config snapshot replaced", slog.Int64("version", snap.Version))
		}
	}
}

// Defaults returns the seeded default snapshot that a reading stage's Store
// starts from before its bootstrap fetch.
func Defaults(thresholds domain.Thresholds, risk domain.RiskLimits) Snapshot {
	return Snapshot{
		Version:              0,
		Thresholds:           thresholds,
		RiskLimits:           risk,
		GlobalEnable:         true,
		ScanIntervalSeconds:  30,
		CloseIntervalSeconds: 10,
		OpenIntervalSeconds:  5,
	}
}
