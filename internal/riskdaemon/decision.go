package riskdaemon

import (
	"time"

	"github.com/fundarb/fundarb/internal/domain"
)

// evaluation carries every derived return/diff value plus the matched
// rule, so applyClosure never has to recompute them.
type evaluation struct {
	longReturn       float64
	shortReturn      float64
	totalReturn      float64
	worstReturn      float64
	currentDiff      float64
	diffReversed     bool
	diffOk           bool
	countdownMinutes float64
	longMark         float64
	shortMark        float64
	reason           *domain.CloseReason
}

// evaluate runs the five-rule decision engine in strict priority order,
// stopping at the first match. longEntry/shortEntry are the legs' recorded
// entry prices; longMark/shortMark are the latest matched-snapshot prices.
func evaluate(group domain.PositionGroup, longEntry, shortEntry, longMark, shortMark float64, longSnap, shortSnap domain.FundingSnapshot, th domain.Thresholds) evaluation {
	longReturn := (longMark - longEntry) / longEntry
	shortReturn := (shortEntry - shortMark) / shortEntry
	totalReturn := longReturn + shortReturn
	worstReturn := longReturn
	if shortReturn < worstReturn {
		worstReturn = shortReturn
	}

	currentDiff := longSnap.Rate8h() - shortSnap.Rate8h()
	diffReversed := (group.FundingDiff * currentDiff) < 0
	diffOk := abs(currentDiff) <= th.BB

	nowMs := time.Now().UTC().UnixMilli()
	longCountdown := longSnap.SettleCountdownSecs(nowMs)
	shortCountdown := shortSnap.SettleCountdownSecs(nowMs)
	countdown := longCountdown
	if shortCountdown < countdown {
		countdown = shortCountdown
	}
	countdownMinutes := float64(countdown) / 60

	ev := evaluation{
		longReturn:       longReturn,
		shortReturn:      shortReturn,
		totalReturn:      totalReturn,
		worstReturn:      worstReturn,
		currentDiff:      currentDiff,
		diffReversed:     diffReversed,
		diffOk:           diffOk,
		countdownMinutes: countdownMinutes,
		longMark:         longMark,
		shortMark:        shortMark,
	}

	switch {
	case longReturn <= -0.9 || shortReturn <= -0.9:
		ev.reason = reasonPtr(domain.CloseReasonLogic5)
	case totalReturn <= -th.GG:
		ev.reason = reasonPtr(domain.CloseReasonLogic4)
	case totalReturn >= th.FF:
		ev.reason = reasonPtr(domain.CloseReasonLogic3)
	case worstReturn <= -th.HH && totalReturn >= th.EE:
		ev.reason = reasonPtr(domain.CloseReasonLogic2)
	case ((diffOk || diffReversed) && totalReturn >= th.CC) || (countdownMinutes <= th.DD && diffOk):
		ev.reason = reasonPtr(domain.CloseReasonLogic1)
	}

	return ev
}

func reasonPtr(r domain.CloseReason) *domain.CloseReason {
	return &r
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// applyClosure produces the CLOSED PositionGroup: per-leg exit price/pnl,
// group realized_pnl, expected_rate8h, and the observed funding_diff.
func applyClosure(group domain.PositionGroup, longLeg, shortLeg domain.PositionLeg, ev evaluation) domain.PositionGroup {
	now := time.Now().UTC()

	longPnL := ev.longReturn * longLeg.Notional
	shortPnL := ev.shortReturn * shortLeg.Notional

	longLeg.ExitPrice = &ev.longMark
	longLeg.PnL = &longPnL
	longLeg.Status = domain.GroupStatusClosed
	longLeg.ClosedAt = &now

	shortLeg.ExitPrice = &ev.shortMark
	shortLeg.PnL = &shortPnL
	shortLeg.Status = domain.GroupStatusClosed
	shortLeg.ClosedAt = &now

	realizedPnL := longPnL + shortPnL

	group.Status = domain.GroupStatusClosed
	group.CloseReason = ev.reason
	group.ClosedAt = &now
	group.RealizedPnL = realizedPnL
	group.ExpectedRate8h = realizedPnL / (group.NotionalPerLeg * 2)
	group.FundingDiff = ev.currentDiff
	group.Legs = []domain.PositionLeg{longLeg, shortLeg}

	return group
}

func closeEvent(group domain.PositionGroup, ev evaluation) domain.PositionEvent {
	pnl := group.RealizedPnL
	return domain.PositionEvent{
		GroupID:     group.GroupID,
		Symbol:      group.Symbol,
		EventType:   domain.EventTypeClose,
		LogicReason: group.CloseReason,
		RealizedPnL: &pnl,
		Data: map[string]any{
			"close_long_price":  ev.longMark,
			"close_short_price": ev.shortMark,
			"long_return":       ev.longReturn,
			"short_return":      ev.shortReturn,
			"total_return":      ev.totalReturn,
			"current_diff":      ev.currentDiff,
			"notional_per_leg":  group.NotionalPerLeg,
		},
		CreatedAt: *group.ClosedAt,
	}
}
