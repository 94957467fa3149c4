package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundarb/fundarb/internal/domain"
)

// ConfigStore implements domain.ConfigStore using PostgreSQL.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

const selectCurrentProfile = `
	SELECT version, thresholds, risk_limits, global_enable, scan_interval_seconds,
	       close_interval_seconds, open_interval_seconds, created_by, created_at
	FROM config_profiles
	ORDER BY version DESC
	LIMIT 1`

// Current returns the profile with the highest version.
func (s *ConfigStore) Current(ctx context.Context) (domain.ConfigProfile, error) {
	row := s.pool.QueryRow(ctx, selectCurrentProfile)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigProfile{}, domain.ErrNotFound
		}
		return domain.ConfigProfile{}, fmt.Errorf("postgres: current config: %w", err)
	}
	return profile, nil
}

// Create inserts profile and appends audit in a single transaction.
func (s *ConfigStore) Create(ctx context.Context, profile domain.ConfigProfile, audit domain.ConfigAuditLog) error {
	thresholdsJSON, err := json.Marshal(profile.Thresholds)
	if err != nil {
		return fmt.Errorf("postgres: marshal thresholds: %w", err)
	}
	riskLimitsJSON, err := json.Marshal(profile.RiskLimits)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk_limits: %w", err)
	}
	deltaJSON, err := json.Marshal(audit.Delta)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit delta: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin config create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertProfile = `
		INSERT INTO config_profiles
			(version, thresholds, risk_limits, global_enable, scan_interval_seconds,
			 close_interval_seconds, open_interval_seconds, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insertProfile,
		profile.Version, thresholdsJSON, riskLimitsJSON, profile.GlobalEnable,
		profile.ScanIntervalSeconds, profile.CloseIntervalSeconds, profile.OpenIntervalSeconds,
		profile.CreatedBy,
	); err != nil {
		return fmt.Errorf("postgres: insert config profile: %w", err)
	}

	const insertAudit = `
		INSERT INTO config_audit_logs (version, operator, delta) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertAudit, audit.Version, audit.Operator, deltaJSON); err != nil {
		return fmt.Errorf("postgres: insert config audit log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit config create: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.ConfigProfile, error) {
	var p domain.ConfigProfile
	var thresholdsJSON, riskLimitsJSON []byte

	if err := row.Scan(
		&p.Version, &thresholdsJSON, &riskLimitsJSON, &p.GlobalEnable,
		&p.ScanIntervalSeconds, &p.CloseIntervalSeconds, &p.OpenIntervalSeconds,
		&p.CreatedBy, &p.CreatedAt,
	); err != nil {
		return domain.ConfigProfile{}, err
	}

	if err := json.Unmarshal(thresholdsJSON, &p.Thresholds); err != nil {
		return domain.ConfigProfile{}, fmt.Errorf("unmarshal thresholds: %w", err)
	}
	if err := json.Unmarshal(riskLimitsJSON, &p.RiskLimits); err != nil {
		return domain.ConfigProfile{}, fmt.Errorf("unmarshal risk_limits: %w", err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.ConfigStore = (*ConfigStore)(nil)
