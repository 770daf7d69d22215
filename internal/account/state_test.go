package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withFakeClock(st *State, t time.Time) *time.Time {
	current := t
	st.now = func() time.Time { return current }
	st.lastResetDate = utcDate(current)
	return &current
}

func TestApplyTradeRatchetsPeak(t *testing.T) {
	st := NewState(10000)

	snap := st.ApplyTrade(500)
	assert.Equal(t, 10500.0, snap.Capital)
	assert.Equal(t, 10500.0, snap.PeakCapital)

	snap = st.ApplyTrade(-1000)
	assert.Equal(t, 9500.0, snap.Capital)
	assert.Equal(t, 10500.0, snap.PeakCapital, "peak must not fall with capital")
	assert.InDelta(t, 1000.0/10500.0, snap.Drawdown(), 1e-9)
}

func TestDrawdownNeverNegative(t *testing.T) {
	st := NewState(10000)
	snap := st.ApplyTrade(500)
	assert.Equal(t, 0.0, snap.Drawdown())

	assert.Equal(t, 0.0, Snapshot{}.Drawdown(), "zero peak reads as zero drawdown")
}

func TestDailyResetOnNewUTCDay(t *testing.T) {
	st := NewState(10000)
	clock := withFakeClock(st, time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))

	st.ApplyTrade(-300)
	st.RecordOpen()
	st.RecordOpen()

	snap := st.Snapshot()
	assert.Equal(t, -300.0, snap.DailyPnl)
	assert.Equal(t, 2, snap.DailyTradeCount)

	// Cross UTC midnight: daily counters reset lazily, capital does not.
	*clock = time.Date(2025, 6, 2, 0, 5, 0, 0, time.UTC)
	snap = st.Snapshot()
	assert.Equal(t, 0.0, snap.DailyPnl)
	assert.Equal(t, 0, snap.DailyTradeCount)
	assert.Equal(t, 9700.0, snap.Capital)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), snap.LastResetDate)
}

func TestSetFlags(t *testing.T) {
	st := NewState(10000)
	st.SetFlags(true, true)

	snap := st.Snapshot()
	assert.True(t, snap.NoNewPositions)
	assert.True(t, snap.TradingPaused)

	st.SetFlags(false, false)
	snap = st.Snapshot()
	assert.False(t, snap.NoNewPositions)
	assert.False(t, snap.TradingPaused)
}

func TestResetPeak(t *testing.T) {
	st := NewState(10000)
	st.ApplyTrade(-2000)

	snap := st.ResetPeak()
	assert.Equal(t, 8000.0, snap.PeakCapital)
	assert.Equal(t, 0.0, snap.Drawdown())
}
