package domain

import "time"

// Thresholds are the eight named decision-engine scalars shared across
// Strategy-Engine and Risk-Daemon.
type Thresholds struct {
	AA float64 // min |funding_diff| to emit an opportunity
	BB float64 // max |current_diff| for diff_ok in logic1
	CC float64 // min total_return for logic1 convergence exit
	DD float64 // min minutes-to-settlement for logic1 countdown exit
	EE float64 // min total_return for logic2
	FF float64 // take-profit total_return for logic3
	GG float64 // stop-loss total_return for logic4
	HH float64 // worst_return stop for logic2
}

// RiskLimits bound admission and sizing.
type RiskLimits struct {
	GroupMax     int     // max concurrently OPEN groups
	DuplicateMax int     // max concurrently OPEN groups per symbol
	LeverageMax  float64
	MarginPerLeg float64
	TakerFee     float64
	MakerFee     float64
	TradeFee     float64
}

// ConfigProfile is a versioned, immutable configuration tuple. The active
// profile is always the one with the highest Version.
type ConfigProfile struct {
	Version              int64
	Thresholds           Thresholds
	RiskLimits           RiskLimits
	GlobalEnable         bool
	ScanIntervalSeconds  int
	CloseIntervalSeconds int
	OpenIntervalSeconds  int
	CreatedBy            string
	CreatedAt            time.Time
}

// ConfigAuditLog records the delta applied by a single config write.
type ConfigAuditLog struct {
	ID        int64
	Version   int64
	Operator  string
	Delta     map[string]any
	CreatedAt time.Time
}
