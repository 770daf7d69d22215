package ports

import (
	"context"

	"cryptoAutoPilot/internal/domain"
)

// OpenRequest describes the position the engine wants opened.
type OpenRequest struct {
	Symbol     string
	Side       domain.Side
	SizePct    float64 // fraction of account capital to commit as margin
	Leverage   float64
	Confidence float64 // carried through for audit
	SourceID   string
}

// ExecutionPort is the exchange-connectivity collaborator. Implementations own
// all order mechanics (rounding, contract specs, order types); the engine only
// deals in filled positions and realized PnL.
type ExecutionPort interface {
	// Open places the orders needed to establish the requested exposure and
	// returns the resulting position with its actual fill price and quantity.
	Open(ctx context.Context, req OpenRequest) (*domain.Position, error)

	// Close flattens the position and returns the realized PnL in quote
	// currency. Close must be safe to retry: closing an already-flat position
	// returns ErrPositionNotFound.
	Close(ctx context.Context, positionID string, reason domain.ExitReason) (float64, error)
}

// PriceSource provides the latest mark price for a symbol.
type PriceSource interface {
	Latest(ctx context.Context, symbol string) (float64, error)
}

// MarketDataSource optionally enriches exit evaluation with indicator context
// for invalidation conditions. Engines wired without one evaluate conditions
// against a price-only snapshot.
type MarketDataSource interface {
	Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
}
