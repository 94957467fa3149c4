package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundarb/fundarb/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore backed by the given pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

const selectStatsColumns = `
	snapshot_date, logic_amounts, total_open, total_close, net_profit, raw_stats, created_at`

func scanStats(row rowScanner) (domain.StatsSnapshot, error) {
	var s domain.StatsSnapshot
	var logicJSON, rawJSON []byte
	if err := row.Scan(
		&s.SnapshotDate, &logicJSON, &s.TotalOpen, &s.TotalClose, &s.NetProfit, &rawJSON, &s.CreatedAt,
	); err != nil {
		return domain.StatsSnapshot{}, err
	}

	s.LogicAmounts = map[domain.CloseReason]float64{}
	if len(logicJSON) > 0 {
		var raw map[string]float64
		if err := json.Unmarshal(logicJSON, &raw); err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("unmarshal logic_amounts: %w", err)
		}
		for k, v := range raw {
			s.LogicAmounts[domain.CloseReason(k)] = v
		}
	}

	s.RawStats = map[string]int64{}
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &s.RawStats); err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("unmarshal raw_stats: %w", err)
		}
	}
	return s, nil
}

// GetByDate returns the StatsSnapshot for the given UTC calendar day.
func (s *StatsStore) GetByDate(ctx context.Context, date time.Time) (domain.StatsSnapshot, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectStatsColumns+" FROM stats_snapshots WHERE snapshot_date = $1", date)
	snap, err := scanStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StatsSnapshot{}, domain.ErrNotFound
		}
		return domain.StatsSnapshot{}, fmt.Errorf("postgres: get stats snapshot %s: %w", date, err)
	}
	return snap, nil
}

// Upsert inserts or replaces the row keyed by SnapshotDate.
func (s *StatsStore) Upsert(ctx context.Context, snap domain.StatsSnapshot) error {
	logicJSON, err := json.Marshal(snap.LogicAmounts)
	if err != nil {
		return fmt.Errorf("postgres: marshal logic_amounts: %w", err)
	}
	rawJSON, err := json.Marshal(snap.RawStats)
	if err != nil {
		return fmt.Errorf("postgres: marshal raw_stats: %w", err)
	}

	const upsert = `
		INSERT INTO stats_snapshots (snapshot_date, logic_amounts, total_open, total_close, net_profit, raw_stats)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			logic_amounts = EXCLUDED.logic_amounts,
			total_open    = EXCLUDED.total_open,
			total_close   = EXCLUDED.total_close,
			net_profit    = EXCLUDED.net_profit,
			raw_stats     = EXCLUDED.raw_stats`
	if _, err := s.pool.Exec(ctx, upsert,
		snap.SnapshotDate, logicJSON, snap.TotalOpen, snap.TotalClose, snap.NetProfit, rawJSON,
	); err != nil {
		return fmt.Errorf("postgres: upsert stats snapshot %s: %w", snap.SnapshotDate, err)
	}
	return nil
}

// ListRecent returns up to limit snapshots, most recent day first.
func (s *StatsStore) ListRecent(ctx context.Context, limit int) ([]domain.StatsSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, "SELECT "+selectStatsColumns+" FROM stats_snapshots ORDER BY snapshot_date DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent stats snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.StatsSnapshot
	for rows.Next() {
		snap, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stats snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Compile-time interface check.
var _ domain.StatsStore = (*StatsStore)(nil)
