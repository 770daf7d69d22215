package domain

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for an open position.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss         ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit       ExitReason = "TAKE_PROFIT"
	ExitReasonInvalidation     ExitReason = "INVALIDATION"
	ExitReasonTrailingPullback ExitReason = "TRAILING_PULLBACK"
	ExitReasonTimeout          ExitReason = "TIMEOUT"
	ExitReasonDrawdownFlatten  ExitReason = "DRAWDOWN_FLATTEN"
	ExitReasonManual           ExitReason = "MANUAL"
)

// TrailingTier identifies how far the tiered trailing stop has advanced.
// Tiers only ever move forward while a position is open.
type TrailingTier int

const (
	TierNone TrailingTier = iota
	Tier1
	Tier2
	Tier3
)

// String returns the tier label used in logs and audit records.
func (t TrailingTier) String() string {
	switch t {
	case Tier1:
		return "T1"
	case Tier2:
		return "T2"
	case Tier3:
		return "T3"
	default:
		return "NONE"
	}
}

// ErrorCategory classifies a collaborator failure.
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "TRANSIENT"
	CategoryRateLimit ErrorCategory = "RATE_LIMIT"
	CategoryFatal     ErrorCategory = "FATAL"
)

// RecoveryAction is the reaction chosen for a recorded failure.
type RecoveryAction string

const (
	ActionContinue RecoveryAction = "CONTINUE"
	ActionPause    RecoveryAction = "PAUSE"
	ActionStop     RecoveryAction = "STOP"
)
