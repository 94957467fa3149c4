package domain

import "time"

// FundingSnapshot is an immutable funding-rate observation produced by
// Market-Feed for one (venue, symbol) pair.
type FundingSnapshot struct {
	Venue               string
	Symbol              string
	FundingRateRaw      float64
	SettleIntervalHours int
	NextFundingTimeMs   int64
	MarkPrice           *float64
	IndexPrice          *float64
	Instrument          string
	CapturedAtMs        int64
}

// Rate8h normalises FundingRateRaw to an 8-hour settlement interval.
func (s FundingSnapshot) Rate8h() float64 {
	interval := s.SettleIntervalHours
	if interval <= 0 {
		interval = 8
	}
	return s.FundingRateRaw * (8.0 / float64(interval))
}

// SettleCountdownSecs is the non-negative number of seconds until the next
// funding settlement, measured against nowMs.
func (s FundingSnapshot) SettleCountdownSecs(nowMs int64) int64 {
	remaining := (s.NextFundingTimeMs - nowMs) / 1000
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EntryPrice picks the price used to open/evaluate a position leg:
// mark price, falling back to index price, falling back to 1.0.
func (s FundingSnapshot) EntryPrice() float64 {
	if s.MarkPrice != nil {
		return *s.MarkPrice
	}
	if s.IndexPrice != nil {
		return *s.IndexPrice
	}
	return 1.0
}
