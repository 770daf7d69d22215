package exitplan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptoAutoPilot/internal/domain"
)

func TestIndicatorConditions(t *testing.T) {
	snap := domain.MarketSnapshot{Indicators: map[string]float64{"rsi": 28}}

	assert.True(t, IndicatorBelow{Indicator: "rsi", Threshold: 30}.Holds(snap))
	assert.False(t, IndicatorBelow{Indicator: "rsi", Threshold: 25}.Holds(snap))
	assert.False(t, IndicatorBelow{Indicator: "ema_20", Threshold: 100}.Holds(snap), "absent indicator never triggers")

	assert.True(t, IndicatorAbove{Indicator: "rsi", Threshold: 20}.Holds(snap))
	assert.False(t, IndicatorAbove{Indicator: "rsi", Threshold: 70}.Holds(snap))
}

func TestTrendReversal(t *testing.T) {
	cond := TrendReversal{Side: domain.SideLong}

	assert.True(t, cond.Holds(domain.MarketSnapshot{Trend: domain.SideShort, TrendKnown: true}))
	assert.False(t, cond.Holds(domain.MarketSnapshot{Trend: domain.SideLong, TrendKnown: true}))
	assert.False(t, cond.Holds(domain.MarketSnapshot{Trend: domain.SideShort}), "unknown trend never triggers")
}

func TestPriceBeyond(t *testing.T) {
	long := PriceBeyond{Side: domain.SideLong, Level: 95}
	assert.True(t, long.Holds(domain.MarketSnapshot{Price: 94}))
	assert.False(t, long.Holds(domain.MarketSnapshot{Price: 96}))

	short := PriceBeyond{Side: domain.SideShort, Level: 105}
	assert.True(t, short.Holds(domain.MarketSnapshot{Price: 106}))
	assert.False(t, short.Holds(domain.MarketSnapshot{Price: 104}))
}
