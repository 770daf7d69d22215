package domain

import "time"

// Position represents a directional exposure held by the engine.
// A position is never deleted once created; closing only flips its status
// so the full lifecycle stays available for audit.
type Position struct {
	ID         string         // Opaque unique identifier (UUID)
	Symbol     string         // Trading symbol (e.g., "BTCUSDT")
	Side       Side           // LONG or SHORT
	EntryPrice float64        // Price at which the position was entered
	Quantity   float64        // Size of the position in base units
	Leverage   float64        // Leverage used for the position (>= 1)
	EntryTime  time.Time      // Timestamp when the position was entered
	Status     PositionStatus // Current status (open, closed)

	// Close fields, zero until the position is closed.
	ExitPrice  float64
	ExitTime   time.Time
	PNL        float64
	ExitReason ExitReason

	// Provenance of the signal that opened the position.
	Confidence float64
	SourceID   string
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PnlPct returns the leverage-adjusted profit percentage (as a fraction,
// 0.25 == +25%) of the position at the given mark price.
func (p *Position) PnlPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	change := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		change = -change
	}
	return change * p.Leverage
}

// HoursHeld returns how long the position has been open at the given instant.
func (p *Position) HoursHeld(now time.Time) float64 {
	return now.Sub(p.EntryTime).Hours()
}
