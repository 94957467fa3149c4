package riskdaemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fundarb/fundarb/internal/domain"
)

func baseGroup(fundingDiff, notionalPerLeg float64) domain.PositionGroup {
	return domain.PositionGroup{
		GroupID:        "BTCUSDT-20250115030405",
		Symbol:         "BTCUSDT",
		NotionalPerLeg: notionalPerLeg,
		FundingDiff:    fundingDiff,
	}
}

func snapAt(rate8h float64, countdownSecs int64) domain.FundingSnapshot {
	now := time.Now().UTC().UnixMilli()
	return domain.FundingSnapshot{
		FundingRateRaw:      rate8h,
		SettleIntervalHours: 8,
		NextFundingTimeMs:   now + countdownSecs*1000,
	}
}

// TestEvaluateScenario3StopLoss is the spec's literal example: entry (100,100),
// marks (90,110) => long_return=-0.1, short_return=-0.1, total=-0.2; with
// gg=0.15, logic4 fires.
func TestEvaluateScenario3StopLoss(t *testing.T) {
	group := baseGroup(0.001, 1000)
	th := domain.Thresholds{GG: 0.15}

	ev := evaluate(group, 100, 100, 90, 110, snapAt(0.0005, 3600), snapAt(0.0005, 3600), th)

	assert.InDelta(t, -0.1, ev.longReturn, 1e-9)
	assert.InDelta(t, -0.1, ev.shortReturn, 1e-9)
	assert.InDelta(t, -0.2, ev.totalReturn, 1e-9)
	assert.NotNil(t, ev.reason)
	assert.Equal(t, domain.CloseReasonLogic4, *ev.reason)
}

func TestApplyClosurePnLMatchesScenario3(t *testing.T) {
	group := baseGroup(0.001, 1000)
	longLeg := domain.PositionLeg{Venue: "venue_b", Side: domain.PositionSideLong, EntryPrice: 100, Notional: 1000}
	shortLeg := domain.PositionLeg{Venue: "venue_a", Side: domain.PositionSideShort, EntryPrice: 100, Notional: 1000}
	th := domain.Thresholds{GG: 0.15}

	ev := evaluate(group, 100, 100, 90, 110, snapAt(0.0005, 3600), snapAt(0.0005, 3600), th)
	closed := applyClosure(group, longLeg, shortLeg, ev)

	assert.InDelta(t, -0.2*1000, closed.RealizedPnL, 1e-9)
	assert.Equal(t, domain.GroupStatusClosed, closed.Status)
	assert.NotNil(t, closed.CloseReason)
	assert.Equal(t, domain.CloseReasonLogic4, *closed.CloseReason)
}

func TestEvaluatePriorityLogic5BeatsEverythingElse(t *testing.T) {
	group := baseGroup(0.001, 1000)
	// long_return <= -0.9 also satisfies logic4's stop-loss condition, but
	// logic5 (catastrophic) must win by priority.
	th := domain.Thresholds{GG: 0.05, FF: 10, EE: 10, HH: 10, CC: 10, DD: 0, BB: 0}

	ev := evaluate(group, 100, 100, 5, 100, snapAt(0.0005, 3600), snapAt(0.0005, 3600), th)

	assert.NotNil(t, ev.reason)
	assert.Equal(t, domain.CloseReasonLogic5, *ev.reason)
}

func TestEvaluatePriorityLogic3BeatsLogic2(t *testing.T) {
	group := baseGroup(0.001, 1000)
	// total_return >= ff (logic3) and worst_return <= -hh with total >= ee
	// (logic2) are both true; logic3 has higher priority.
	th := domain.Thresholds{FF: 0.05, EE: 0.01, HH: 0.02, GG: 10}

	// long=+0.2, short=-0.1 => total=0.1 >= ff(0.05); worst=-0.1 <= -hh(0.02)
	// and total >= ee(0.01), so logic2 would also match.
	ev := evaluate(group, 100, 100, 120, 110, snapAt(0.0005, 3600), snapAt(0.0005, 3600), th)

	assert.NotNil(t, ev.reason)
	assert.Equal(t, domain.CloseReasonLogic3, *ev.reason)
}

func TestEvaluateLogic1ConvergenceExit(t *testing.T) {
	group := baseGroup(0.002, 1000) // positive funding_diff at open
	th := domain.Thresholds{BB: 0.0001, CC: 0.01, DD: 0, GG: 10, FF: 10, EE: 10, HH: 10}

	// current_diff within bb (diff_ok) and total_return above cc.
	ev := evaluate(group, 100, 100, 105, 100, snapAt(0.00005, 3600), snapAt(0.00005, 3600), th)

	assert.True(t, ev.diffOk)
	assert.NotNil(t, ev.reason)
	assert.Equal(t, domain.CloseReasonLogic1, *ev.reason)
}

func TestEvaluateLogic1CountdownExit(t *testing.T) {
	group := baseGroup(0.002, 1000)
	th := domain.Thresholds{BB: 0.0001, CC: 10, DD: 5, GG: 10, FF: 10, EE: 10, HH: 10}

	// total_return stays tiny (does not trigger the cc branch), but
	// countdown is within dd minutes and diff_ok holds.
	ev := evaluate(group, 100, 100, 100, 100, snapAt(0.00005, 120), snapAt(0.00005, 600), th)

	assert.LessOrEqual(t, ev.countdownMinutes, 5.0)
	assert.True(t, ev.diffOk)
	assert.NotNil(t, ev.reason)
	assert.Equal(t, domain.CloseReasonLogic1, *ev.reason)
}

func TestDiffReversedRequiresStrictOppositeSign(t *testing.T) {
	group := baseGroup(0.001, 1000) // positive at open
	th := domain.Thresholds{BB: 0, CC: 0, GG: 10, FF: 10, EE: 10, HH: 10, DD: 0}

	// current_diff is exactly zero: product with group.FundingDiff is 0, not
	// < 0, so diff_reversed must be false per the spec's chosen default.
	ev := evaluate(group, 100, 100, 100, 100, snapAt(0, 3600), snapAt(0, 3600), th)
	assert.False(t, ev.diffReversed)
}

func TestEvaluateNoRuleMatchesLeavesGroupOpen(t *testing.T) {
	group := baseGroup(0.001, 1000)
	th := domain.Thresholds{GG: 10, FF: 10, EE: 10, HH: 10, CC: 10, DD: 0, BB: 0}

	ev := evaluate(group, 100, 100, 101, 99, snapAt(0.0005, 3600), snapAt(0.0005, 3600), th)
	assert.Nil(t, ev.reason)
}
