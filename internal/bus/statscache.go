package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// statsCacheKey is the single key holding the serialized dynamic-stats
// aggregate, generalizing the teacher's per-asset hash-keyed price cache
// into a single SET ... EX JSON blob.
const statsCacheKey = "stats:dynamic"

// StatsCache implements domain.StatsCache as a single short-TTL JSON blob.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

// SetDynamicStats serializes stats and stores it with the given TTL.
func (c *StatsCache) SetDynamicStats(ctx context.Context, stats domain.DynamicStats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("bus: marshal dynamic stats: %w", err)
	}
	if err := c.rdb.Set(ctx, statsCacheKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("bus: set dynamic stats: %w", err)
	}
	return nil
}

// GetDynamicStats returns the cached aggregate and true on a hit, or the
// zero value and false on a miss (key absent or expired).
func (c *StatsCache) GetDynamicStats(ctx context.Context) (domain.DynamicStats, bool, error) {
	data, err := c.rdb.Get(ctx, statsCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DynamicStats{}, false, nil
		}
		return domain.DynamicStats{}, false, fmt.Errorf("bus: get dynamic stats: %w", err)
	}

	var stats domain.DynamicStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.DynamicStats{}, false, fmt.Errorf("bus: unmarshal dynamic stats: %w", err)
	}
	return stats, true, nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
