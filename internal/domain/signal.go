package domain

import "time"

// SignalAction is the intent carried by a strategy signal.
type SignalAction string

const (
	ActionOpenLong  SignalAction = "OPEN_LONG"
	ActionOpenShort SignalAction = "OPEN_SHORT"
	ActionClose     SignalAction = "CLOSE"
	ActionHold      SignalAction = "HOLD"
)

// Signal is the normalized output of an external strategy collaborator.
// Signals are immutable once produced.
type Signal struct {
	Symbol                 string
	Action                 SignalAction
	Confidence             float64 // [0,1]; out-of-range values are treated as HOLD
	SuggestedLeverage      float64
	SuggestedSizePct       float64 // fraction of capital, 0 means "let the gate size it"
	SuggestedStopLossPct   float64 // distance from entry as a fraction, 0 means default
	SuggestedTakeProfitPct float64
	SourceID               string
	Timestamp              time.Time
}

// Normalize returns the signal with an out-of-contract confidence demoted to
// HOLD. The engine never acts on a signal whose confidence is outside [0,1].
func (s Signal) Normalize() Signal {
	if s.Confidence < 0 || s.Confidence > 1 {
		s.Action = ActionHold
		s.Confidence = 0
	}
	return s
}

// IsOpen reports whether the signal asks to open a new position.
func (s Signal) IsOpen() bool {
	return s.Action == ActionOpenLong || s.Action == ActionOpenShort
}

// OpenSide maps an open action to a position side.
func (s Signal) OpenSide() Side {
	if s.Action == ActionOpenShort {
		return SideShort
	}
	return SideLong
}
