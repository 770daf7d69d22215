package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

// Exchange is an in-memory execution venue for paper trading and tests. It
// fills every order instantly at the current simulated price and tracks
// capital so position sizing behaves like a funded account.
type Exchange struct {
	logger ports.Logger

	mu        sync.Mutex
	prices    map[string]float64
	capital   float64
	positions map[string]*domain.Position
}

// New creates a paper exchange with the given starting capital and prices.
func New(logger ports.Logger, capital float64, prices map[string]float64) *Exchange {
	p := make(map[string]float64, len(prices))
	for k, v := range prices {
		p[k] = v
	}
	return &Exchange{
		logger:    logger,
		prices:    p,
		capital:   capital,
		positions: make(map[string]*domain.Position),
	}
}

// SetPrice sets the simulated mark price for a symbol.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// Drift applies a random walk step to every price, bounded by maxStepPct.
func (e *Exchange) Drift(maxStepPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, price := range e.prices {
		step := (rand.Float64()*2 - 1) * maxStepPct
		e.prices[symbol] = price * (1 + step)
	}
}

// Latest implements ports.PriceSource.
func (e *Exchange) Latest(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", ports.ErrNotFound, symbol)
	}
	return price, nil
}

// Open implements ports.ExecutionPort. The fill is immediate at the current
// price with quantity derived from the committed margin and leverage.
func (e *Exchange) Open(ctx context.Context, req ports.OpenRequest) (*domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ports.ErrNotFound, req.Symbol)
	}
	margin := e.capital * req.SizePct
	if margin <= 0 || margin > e.capital {
		return nil, fmt.Errorf("%w: margin %.2f with capital %.2f", ports.ErrInsufficientFunds, margin, e.capital)
	}

	pos := &domain.Position{
		ID:         uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: price,
		Quantity:   margin * req.Leverage / price,
		Leverage:   req.Leverage,
		EntryTime:  time.Now(),
		Status:     domain.StatusOpen,
		Confidence: req.Confidence,
		SourceID:   req.SourceID,
	}
	e.positions[pos.ID] = pos
	e.logger.Debug(ctx, "Paper fill", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "side": string(pos.Side),
		"price": price, "quantity": pos.Quantity,
	})
	return pos, nil
}

// Close implements ports.ExecutionPort. Realized PnL is the signed price
// move times quantity. Closing twice returns ErrPositionNotFound.
func (e *Exchange) Close(ctx context.Context, positionID string, reason domain.ExitReason) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[positionID]
	if !ok || !pos.IsOpen() {
		return 0, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, positionID)
	}
	price, ok := e.prices[pos.Symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", ports.ErrNotFound, pos.Symbol)
	}

	move := price - pos.EntryPrice
	if pos.Side == domain.SideShort {
		move = -move
	}
	pnl := move * pos.Quantity

	pos.Status = domain.StatusClosed
	pos.ExitPrice = price
	pos.ExitTime = time.Now()
	pos.PNL = pnl
	pos.ExitReason = reason
	e.capital += pnl
	e.logger.Debug(ctx, "Paper close", map[string]interface{}{
		"positionID": positionID, "price": price, "pnl": pnl, "reason": string(reason),
	})
	return pnl, nil
}

// Capital returns the simulated account balance.
func (e *Exchange) Capital() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capital
}
