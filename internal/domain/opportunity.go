package domain

import "time"

// Opportunity is produced by Strategy-Engine when the funding-rate
// differential between two venues for the same symbol crosses a threshold.
type Opportunity struct {
	GroupID        string
	Symbol         string
	LongVenue      string
	ShortVenue     string
	FundingDiff    float64
	ExpectedRate8h float64
	CreatedAt      time.Time
}

// NewGroupID builds the deterministic group id used for idempotent
// admission: "<symbol>-<YYYYMMDDHHMMSS>" in UTC.
func NewGroupID(symbol string, at time.Time) string {
	return symbol + "-" + at.UTC().Format("20060102150405")
}
