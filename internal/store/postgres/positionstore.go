package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundarb/fundarb/internal/domain"
)

// PositionStore implements domain.PositionGroupStore using PostgreSQL.
// Grounded on the teacher's parent-with-children insert-in-tx pattern: a
// group and its two legs are written atomically, and a unique-constraint
// collision on group_id is translated to domain.ErrAlreadyExists so callers
// can treat it as an idempotent no-op.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// admissionLockKey is the pg_advisory_xact_lock key serializing every
// CreateAdmitted call against position_groups: the existence check, the
// group_max/duplicate_max counts, and the insert must all observe the same
// committed state, which a plain transaction alone doesn't guarantee against
// a second concurrent consumer's overlapping transaction. The lock is held
// only for the duration of the transaction and released automatically on
// commit or rollback.
const admissionLockKey = int64(0x66756e646172625f) // "fundarb_"[:8] as int64

// CreateAdmitted evaluates the existence/group_max/duplicate_max gates and
// inserts the group with both legs, all inside one transaction serialized by
// an advisory lock so concurrent Execution-Gateway consumers can't together
// exceed the configured caps.
func (s *PositionStore) CreateAdmitted(ctx context.Context, group domain.PositionGroup, limits domain.RiskLimits) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create group tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", admissionLockKey); err != nil {
		return fmt.Errorf("postgres: admission lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM position_groups WHERE group_id = $1)", group.GroupID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check existing group: %w", err)
	}
	if exists {
		return domain.ErrAlreadyExists
	}

	var openCount int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM position_groups WHERE status = $1", domain.GroupStatusOpen).Scan(&openCount); err != nil {
		return fmt.Errorf("postgres: count open groups: %w", err)
	}
	if openCount >= limits.GroupMax {
		return domain.ErrGroupCapReached
	}

	var symbolCount int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM position_groups WHERE status = $1 AND symbol = $2",
		domain.GroupStatusOpen, group.Symbol,
	).Scan(&symbolCount); err != nil {
		return fmt.Errorf("postgres: count open groups by symbol: %w", err)
	}
	if symbolCount >= limits.DuplicateMax {
		return domain.ErrDuplicateSymbolCapReached
	}

	const insertGroup = `
		INSERT INTO position_groups
			(group_id, symbol, status, long_venue, short_venue, leverage, margin_per_leg,
			 notional_per_leg, funding_diff, expected_rate8h, realized_pnl, simulated, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = tx.Exec(ctx, insertGroup,
		group.GroupID, group.Symbol, group.Status, group.LongVenue, group.ShortVenue,
		group.Leverage, group.MarginPerLeg, group.NotionalPerLeg, group.FundingDiff,
		group.ExpectedRate8h, group.RealizedPnL, group.Simulated, group.OpenedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert position group: %w", err)
	}

	const insertLeg = `
		INSERT INTO position_legs
			(group_id, venue, side, quantity, entry_price, margin, notional, fee_rate, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, leg := range group.Legs {
		if _, err := tx.Exec(ctx, insertLeg,
			group.GroupID, leg.Venue, leg.Side, leg.Quantity, leg.EntryPrice,
			leg.Margin, leg.Notional, leg.FeeRate, leg.Status, leg.OpenedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert position leg: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create group: %w", err)
	}
	return nil
}

const selectGroupColumns = `
	group_id, symbol, status, long_venue, short_venue, leverage, margin_per_leg,
	notional_per_leg, funding_diff, expected_rate8h, realized_pnl, simulated,
	opened_at, closed_at, close_reason`

func scanGroup(row rowScanner) (domain.PositionGroup, error) {
	var g domain.PositionGroup
	var closeReason *string
	if err := row.Scan(
		&g.GroupID, &g.Symbol, &g.Status, &g.LongVenue, &g.ShortVenue, &g.Leverage,
		&g.MarginPerLeg, &g.NotionalPerLeg, &g.FundingDiff, &g.ExpectedRate8h,
		&g.RealizedPnL, &g.Simulated, &g.OpenedAt, &g.ClosedAt, &closeReason,
	); err != nil {
		return domain.PositionGroup{}, err
	}
	if closeReason != nil {
		reason := domain.CloseReason(*closeReason)
		g.CloseReason = &reason
	}
	return g, nil
}

const selectLegColumns = `
	group_id, venue, side, quantity, entry_price, exit_price, margin, notional,
	fee_rate, status, opened_at, closed_at, pnl`

func scanLeg(rows pgx.Rows) (domain.PositionLeg, error) {
	var l domain.PositionLeg
	if err := rows.Scan(
		&l.GroupID, &l.Venue, &l.Side, &l.Quantity, &l.EntryPrice, &l.ExitPrice,
		&l.Margin, &l.Notional, &l.FeeRate, &l.Status, &l.OpenedAt, &l.ClosedAt, &l.PnL,
	); err != nil {
		return domain.PositionLeg{}, err
	}
	return l, nil
}

// GetByGroupID returns a single group with its legs populated.
func (s *PositionStore) GetByGroupID(ctx context.Context, groupID string) (domain.PositionGroup, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectGroupColumns+" FROM position_groups WHERE group_id = $1", groupID)
	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionGroup{}, domain.ErrNotFound
		}
		return domain.PositionGroup{}, fmt.Errorf("postgres: get group %s: %w", groupID, err)
	}

	legs, err := s.legsFor(ctx, groupID)
	if err != nil {
		return domain.PositionGroup{}, err
	}
	group.Legs = legs
	return group, nil
}

func (s *PositionStore) legsFor(ctx context.Context, groupID string) ([]domain.PositionLeg, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+selectLegColumns+" FROM position_legs WHERE group_id = $1", groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for %s: %w", groupID, err)
	}
	defer rows.Close()

	var legs []domain.PositionLeg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// ListOpen returns all OPEN groups with their legs populated, in one
// round-trip for groups plus one for all their legs (Risk-Daemon's batched
// evaluation tick expects this shape).
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.PositionGroup, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+selectGroupColumns+" FROM position_groups WHERE status = $1 ORDER BY opened_at", domain.GroupStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open groups: %w", err)
	}
	var groups []domain.PositionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan open group: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open groups rows: %w", err)
	}

	legRows, err := s.pool.Query(ctx, "SELECT "+selectLegColumns+" FROM position_legs WHERE group_id = ANY($1)", groupIDs(groups))
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for open groups: %w", err)
	}
	defer legRows.Close()

	legsByGroup := map[string][]domain.PositionLeg{}
	for legRows.Next() {
		leg, err := scanLeg(legRows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open-group leg: %w", err)
		}
		legsByGroup[leg.GroupID] = append(legsByGroup[leg.GroupID], leg)
	}
	if err := legRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: open-group leg rows: %w", err)
	}

	for i := range groups {
		groups[i].Legs = legsByGroup[groups[i].GroupID]
	}
	return groups, nil
}

func groupIDs(groups []domain.PositionGroup) []string {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.GroupID
	}
	return ids
}

// CountOpen returns the number of OPEN groups.
func (s *PositionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM position_groups WHERE status = $1", domain.GroupStatusOpen).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count open groups: %w", err)
	}
	return n, nil
}

// CountOpenBySymbol returns the number of OPEN groups for symbol.
func (s *PositionStore) CountOpenBySymbol(ctx context.Context, symbol string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM position_groups WHERE status = $1 AND symbol = $2",
		domain.GroupStatusOpen, symbol,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count open groups for %s: %w", symbol, err)
	}
	return n, nil
}

// Close transitions a group (and both legs) to CLOSED in one transaction.
func (s *PositionStore) Close(ctx context.Context, group domain.PositionGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin close group tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updateGroup = `
		UPDATE position_groups
		SET status = $1, funding_diff = $2, expected_rate8h = $3, realized_pnl = $4,
		    closed_at = $5, close_reason = $6, updated_at = NOW()
		WHERE group_id = $7`
	tag, err := tx.Exec(ctx, updateGroup,
		domain.GroupStatusClosed, group.FundingDiff, group.ExpectedRate8h, group.RealizedPnL,
		group.ClosedAt, string(*group.CloseReason), group.GroupID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update group %s on close: %w", group.GroupID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const updateLeg = `
		UPDATE position_legs
		SET status = $1, exit_price = $2, pnl = $3, closed_at = $4
		WHERE group_id = $5 AND venue = $6 AND side = $7`
	for _, leg := range group.Legs {
		if _, err := tx.Exec(ctx, updateLeg,
			domain.GroupStatusClosed, leg.ExitPrice, leg.PnL, leg.ClosedAt,
			group.GroupID, leg.Venue, leg.Side,
		); err != nil {
			return fmt.Errorf("postgres: update leg on close: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit close group: %w", err)
	}
	return nil
}

// ListRecent returns up to limit groups, most recently opened first.
func (s *PositionStore) ListRecent(ctx context.Context, limit int) ([]domain.PositionGroup, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, "SELECT "+selectGroupColumns+" FROM position_groups ORDER BY opened_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.PositionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan recent group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionGroupStore = (*PositionStore)(nil)
