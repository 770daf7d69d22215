package exitplan

import (
	"fmt"

	"cryptoAutoPilot/internal/domain"
)

// Structured invalidation predicate kinds. Strategies attach these to the
// exit plan at open time; the monitor evaluates them against the market
// snapshot supplied with each evaluation.

// IndicatorBelow holds when a named indicator drops below a threshold.
// An absent indicator never triggers the condition.
type IndicatorBelow struct {
	Indicator string
	Threshold float64
}

func (c IndicatorBelow) Holds(snap domain.MarketSnapshot) bool {
	v, ok := snap.Indicators[c.Indicator]
	return ok && v < c.Threshold
}

func (c IndicatorBelow) Describe() string {
	return fmt.Sprintf("%s < %.4f", c.Indicator, c.Threshold)
}

// IndicatorAbove holds when a named indicator rises above a threshold.
type IndicatorAbove struct {
	Indicator string
	Threshold float64
}

func (c IndicatorAbove) Holds(snap domain.MarketSnapshot) bool {
	v, ok := snap.Indicators[c.Indicator]
	return ok && v > c.Threshold
}

func (c IndicatorAbove) Describe() string {
	return fmt.Sprintf("%s > %.4f", c.Indicator, c.Threshold)
}

// TrendReversal holds when the prevailing trend turns against the side the
// plan was built for. Unknown trend never triggers it.
type TrendReversal struct {
	Side domain.Side // the side the position was opened on
}

func (c TrendReversal) Holds(snap domain.MarketSnapshot) bool {
	return snap.TrendKnown && snap.Trend == c.Side.Opposite()
}

func (c TrendReversal) Describe() string {
	return fmt.Sprintf("trend reversal against %s", c.Side)
}

// PriceBeyond holds when price crosses an absolute invalidation level in the
// unfavorable direction for the plan's side.
type PriceBeyond struct {
	Side  domain.Side
	Level float64
}

func (c PriceBeyond) Holds(snap domain.MarketSnapshot) bool {
	if c.Side == domain.SideLong {
		return snap.Price < c.Level
	}
	return snap.Price > c.Level
}

func (c PriceBeyond) Describe() string {
	return fmt.Sprintf("price beyond %.4f against %s", c.Level, c.Side)
}
