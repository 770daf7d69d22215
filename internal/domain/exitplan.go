package domain

// MarketSnapshot is the market context an invalidation condition is evaluated
// against. It is assembled by the caller per evaluation; the engine itself
// never computes indicators.
type MarketSnapshot struct {
	Price      float64
	Indicators map[string]float64 // e.g. "rsi", "ema_20"; absent keys read as unavailable
	Trend      Side               // prevailing trend direction, if known
	TrendKnown bool
}

// InvalidationCondition is an opaque predicate supplied by the strategy that
// originated a position. When any condition holds, the trading plan is void
// and the position must be closed regardless of price levels.
type InvalidationCondition interface {
	// Holds reports whether the condition is met for the given snapshot.
	Holds(snap MarketSnapshot) bool
	// Describe returns a short human-readable form for logs and audit.
	Describe() string
}

// ExitPlan carries the mutable exit-control state owned 1:1 by a position.
// StopLoss, PeakPnlPct and TrailingTier are mutated in place by the exit
// monitor; everything else is fixed at open time.
type ExitPlan struct {
	StopLoss      float64 // direction-aware stop price
	TakeProfit    float64 // direction-aware target price
	Invalidations []InvalidationCondition

	MaxHoldingHours float64 // forced-close TTL, default 36

	// Tiered trailing state. PeakPnlPct is leverage-adjusted and monotonically
	// non-decreasing while the position is open and profitable.
	PeakPnlPct            float64
	TrailingTier          TrailingTier
	TieredTrailingEnabled bool
}
