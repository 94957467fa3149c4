package domain

import "time"

// StatsSnapshot is one aggregated calendar-day (UTC) rollup of position
// events.
type StatsSnapshot struct {
	SnapshotDate time.Time // truncated to the UTC day
	LogicAmounts map[CloseReason]float64
	TotalOpen    int64
	TotalClose   int64
	NetProfit    float64
	RawStats     map[string]int64
	CreatedAt    time.Time
}

// DynamicStats is the live (short-TTL-cached) view over OPEN groups and all
// recorded events.
type DynamicStats struct {
	ActiveNotional   float64
	ActiveGroupCount int64
	TotalOpen        int64
	TotalClose       int64
	EventCounts      map[string]int64
	LogicAmounts     map[CloseReason]float64
	LogicCounts      map[CloseReason]int64
	NetProfit        float64
	UpdatedAt        time.Time
}

// OpenPositionView is the per-group live view returned by
// Stats-Service.get_open_positions.
type OpenPositionView struct {
	GroupID           string
	Symbol            string
	LongVenue         string
	ShortVenue        string
	LongReturn        float64
	ShortReturn       float64
	TotalReturn       float64
	CountdownMinutes  float64
	CurrentFundingDiff float64
}
