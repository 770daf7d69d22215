package risk

import (
	"context"
	"fmt"

	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

// Config holds the thresholds for drawdown protection, daily limits and
// confidence-based position sizing. All percentages are fractions.
type Config struct {
	DrawdownWarnPct    float64 // block new positions at this drawdown
	DrawdownStopPct    float64 // pause trading and flatten at this drawdown
	MaxDailyLossPct    float64 // daily loss cap relative to capital
	MaxDailyTrades     int
	MinConfidence      float64
	MinPositionSizePct float64
	MaxPositionSizePct float64
}

// DefaultConfig returns the standard gate thresholds.
func DefaultConfig() Config {
	return Config{
		DrawdownWarnPct:    0.15,
		DrawdownStopPct:    0.20,
		MaxDailyLossPct:    0.05,
		MaxDailyTrades:     20,
		MinConfidence:      0.65,
		MinPositionSizePct: 0.01,
		MaxPositionSizePct: 0.20,
	}
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	if c.DrawdownWarnPct <= 0 || c.DrawdownStopPct <= 0 {
		return fmt.Errorf("%w: drawdown thresholds must be positive", ports.ErrConfigurationError)
	}
	if c.DrawdownWarnPct >= c.DrawdownStopPct {
		return fmt.Errorf("%w: DrawdownWarnPct must be below DrawdownStopPct", ports.ErrConfigurationError)
	}
	if c.MaxDailyLossPct <= 0 || c.MaxDailyLossPct >= 1 {
		return fmt.Errorf("%w: MaxDailyLossPct must be in (0, 1)", ports.ErrConfigurationError)
	}
	if c.MaxDailyTrades <= 0 {
		return fmt.Errorf("%w: MaxDailyTrades must be positive", ports.ErrConfigurationError)
	}
	if c.MinConfidence <= 0 || c.MinConfidence >= 1 {
		return fmt.Errorf("%w: MinConfidence must be in (0, 1)", ports.ErrConfigurationError)
	}
	if c.MinPositionSizePct <= 0 || c.MaxPositionSizePct <= c.MinPositionSizePct {
		return fmt.Errorf("%w: position size bounds must satisfy 0 < min < max", ports.ErrConfigurationError)
	}
	return nil
}

// Gate applies the account-level risk rules: drawdown flags, admission checks
// for new positions, and confidence-scaled sizing. It holds no state of its
// own; everything it decides is a pure function of the config and the account
// snapshot it is given.
type Gate struct {
	cfg    Config
	logger ports.Logger
}

// NewGate creates a risk gate after validating the config.
func NewGate(cfg Config, logger ports.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg, logger: logger}, nil
}

// CheckDrawdown computes the current drawdown and writes the resulting gate
// flags back to the account store. At or above DrawdownStopPct both flags are
// set; at or above DrawdownWarnPct only new positions are blocked; below the
// warn threshold both flags clear. There is no hysteresis: recovery above a
// threshold clears the corresponding flag on the next check.
func (g *Gate) CheckDrawdown(ctx context.Context, st *account.State) (noNewPositions, tradingPaused bool, drawdown float64) {
	snap := st.Snapshot()
	drawdown = snap.Drawdown()

	switch {
	case drawdown >= g.cfg.DrawdownStopPct:
		noNewPositions, tradingPaused = true, true
	case drawdown >= g.cfg.DrawdownWarnPct:
		noNewPositions, tradingPaused = true, false
	default:
		noNewPositions, tradingPaused = false, false
	}

	if noNewPositions != snap.NoNewPositions || tradingPaused != snap.TradingPaused {
		g.logger.Warn(ctx, "Drawdown protection flags changed", map[string]interface{}{
			"drawdown":       drawdown,
			"capital":        snap.Capital,
			"peakCapital":    snap.PeakCapital,
			"noNewPositions": noNewPositions,
			"tradingPaused":  tradingPaused,
		})
	}
	st.SetFlags(noNewPositions, tradingPaused)
	return noNewPositions, tradingPaused, drawdown
}

// CanOpen decides whether a new position on symbol is admissible given the
// account snapshot and the currently open positions. The returned reason is
// empty when opening is allowed.
func (g *Gate) CanOpen(snap account.Snapshot, symbol string, open []*domain.Position) (bool, string) {
	if snap.TradingPaused {
		return false, "trading paused by drawdown protection"
	}
	if snap.NoNewPositions {
		return false, "new positions blocked by drawdown protection"
	}
	if snap.DailyTradeCount >= g.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d)", g.cfg.MaxDailyTrades)
	}
	if snap.Capital <= 0 {
		return false, "no capital available"
	}
	if snap.DailyPnl < 0 && -snap.DailyPnl/snap.Capital >= g.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached (%.2f%%)", g.cfg.MaxDailyLossPct*100)
	}

	var committedMargin float64
	for _, p := range open {
		if !p.IsOpen() {
			continue
		}
		if p.Symbol == symbol {
			return false, fmt.Sprintf("position already open on %s", symbol)
		}
		committedMargin += p.Quantity * p.EntryPrice / p.Leverage
	}
	if committedMargin+g.cfg.MinPositionSizePct*snap.Capital > snap.Capital {
		return false, "insufficient free capital for a new position"
	}
	return true, ""
}

// MinConfidence returns the admission threshold for signal confidence.
func (g *Gate) MinConfidence() float64 {
	return g.cfg.MinConfidence
}

// ClampSize bounds a caller-suggested position size to the configured range.
func (g *Gate) ClampSize(sizePct float64) float64 {
	if sizePct < g.cfg.MinPositionSizePct {
		return g.cfg.MinPositionSizePct
	}
	if sizePct > g.cfg.MaxPositionSizePct {
		return g.cfg.MaxPositionSizePct
	}
	return sizePct
}

// SizePosition maps a signal confidence to a position size as a fraction of
// capital: linear between the min and max size over [MinConfidence, 1],
// clamped at both ends.
func (g *Gate) SizePosition(confidence float64) float64 {
	if confidence <= g.cfg.MinConfidence {
		return g.cfg.MinPositionSizePct
	}
	if confidence >= 1 {
		return g.cfg.MaxPositionSizePct
	}
	scale := (confidence - g.cfg.MinConfidence) / (1 - g.cfg.MinConfidence)
	return g.cfg.MinPositionSizePct + scale*(g.cfg.MaxPositionSizePct-g.cfg.MinPositionSizePct)
}
