package exitplan

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

const (
	// Tiered trailing table: leverage-adjusted peak PnL thresholds and the
	// stop floors they lock in as fractions of entry price.
	tier1Threshold = 0.08
	tier1Floor     = 0.03
	tier2Threshold = 0.15
	tier2Floor     = 0.08
	tier3Threshold = 0.25
	tier3Floor     = 0.15

	// Pullback from peak PnL (fraction of the peak) that forces an exit.
	maxPeakPullback = 0.30

	// Hours before the TTL at which a warning event is reported.
	ttlWarnWindowHours = 2.0

	maxExitHistory = 1000
)

// Decision is the outcome of evaluating one position against its exit plan.
type Decision struct {
	ShouldExit bool
	Reason     domain.ExitReason
	ExitPrice  float64
	Detail     string

	// Warning carries a non-exiting observability event (e.g. the position is
	// within the TTL warning window). Empty when there is nothing to report.
	Warning string
}

// ExitRecord is a closed-position entry in the monitor's history.
type ExitRecord struct {
	PositionID string
	Reason     domain.ExitReason
	ExitPrice  float64
	PNL        float64
	Detail     string
	Timestamp  time.Time
}

// Statistics aggregates the exit history for health reporting.
type Statistics struct {
	TotalExits    int
	ExitsByReason map[domain.ExitReason]int
	AvgPnl        float64
	TotalPnl      float64
}

// Monitor decides, per position and mark price, whether to exit and why, and
// advances the plan's trailing state in place. Evaluation itself is pure over
// its inputs apart from that monotonic advancement; the monitor's own state
// is only the exit history.
type Monitor struct {
	logger ports.Logger
	now    func() time.Time

	mu      sync.Mutex
	history []ExitRecord
}

// NewMonitor creates an exit-plan monitor.
func NewMonitor(logger ports.Logger) *Monitor {
	return &Monitor{logger: logger, now: time.Now}
}

// Evaluate checks the exit rules in priority order. The ordering is a
// correctness requirement: TTL, then invalidation, then trailing update and
// pullback, then the standard stop/take-profit cross.
//
// A malformed price or a non-open position is rejected with an error and no
// state is mutated. Repeated calls with the same inputs return the same
// decision; only tier advancement is stateful, and re-applying an
// already-applied tier is a no-op.
func (m *Monitor) Evaluate(ctx context.Context, pos *domain.Position, plan *domain.ExitPlan, currentPrice float64, snap domain.MarketSnapshot) (Decision, error) {
	if math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) || currentPrice <= 0 {
		return Decision{}, fmt.Errorf("%w: malformed price %v for %s", ports.ErrInvalidRequest, currentPrice, pos.Symbol)
	}
	if !pos.IsOpen() {
		return Decision{}, fmt.Errorf("%w: position %s is not open", ports.ErrInvalidRequest, pos.ID)
	}

	var warning string

	// 1. TTL check.
	hoursHeld := pos.HoursHeld(m.now())
	if hoursHeld >= plan.MaxHoldingHours {
		return Decision{
			ShouldExit: true,
			Reason:     domain.ExitReasonTimeout,
			ExitPrice:  currentPrice,
			Detail:     fmt.Sprintf("max holding time exceeded: %.1fh >= %.1fh", hoursHeld, plan.MaxHoldingHours),
		}, nil
	}
	if hoursHeld >= plan.MaxHoldingHours-ttlWarnWindowHours {
		warning = fmt.Sprintf("approaching max holding time: %.1fh / %.1fh", hoursHeld, plan.MaxHoldingHours)
		m.logger.Warn(ctx, "Position approaching max holding time", map[string]interface{}{
			"positionID": pos.ID, "hoursHeld": hoursHeld, "maxHoldingHours": plan.MaxHoldingHours,
		})
	}

	// 2. Invalidation conditions.
	for _, cond := range plan.Invalidations {
		if cond.Holds(snap) {
			return Decision{
				ShouldExit: true,
				Reason:     domain.ExitReasonInvalidation,
				ExitPrice:  currentPrice,
				Detail:     "invalidation: " + cond.Describe(),
				Warning:    warning,
			}, nil
		}
	}

	// 3. Tiered trailing update.
	pnlPct := pos.PnlPct(currentPrice)
	if pnlPct > plan.PeakPnlPct {
		plan.PeakPnlPct = pnlPct
	}
	if plan.TieredTrailingEnabled {
		m.applyTier(ctx, pos, plan)
	}

	// 4. Pullback from peak.
	if plan.PeakPnlPct > 0 {
		pullback := (plan.PeakPnlPct - pnlPct) / plan.PeakPnlPct
		if pullback > maxPeakPullback {
			return Decision{
				ShouldExit: true,
				Reason:     domain.ExitReasonTrailingPullback,
				ExitPrice:  currentPrice,
				Detail: fmt.Sprintf("peak pullback %.1f%% exceeds %.0f%%: peak=%.2f%%, current=%.2f%%",
					pullback*100, maxPeakPullback*100, plan.PeakPnlPct*100, pnlPct*100),
				Warning: warning,
			}, nil
		}
	}

	// 5. Standard stop-loss / take-profit cross.
	if crossedStop(pos.Side, currentPrice, plan.StopLoss) {
		return Decision{
			ShouldExit: true,
			Reason:     domain.ExitReasonStopLoss,
			ExitPrice:  currentPrice,
			Detail:     fmt.Sprintf("stop-loss triggered at %.4f (stop %.4f)", currentPrice, plan.StopLoss),
			Warning:    warning,
		}, nil
	}
	if crossedTarget(pos.Side, currentPrice, plan.TakeProfit) {
		return Decision{
			ShouldExit: true,
			Reason:     domain.ExitReasonTakeProfit,
			ExitPrice:  currentPrice,
			Detail:     fmt.Sprintf("take-profit triggered at %.4f (target %.4f)", currentPrice, plan.TakeProfit),
			Warning:    warning,
		}, nil
	}

	return Decision{Warning: warning}, nil
}

// applyTier advances the trailing tier implied by the current peak PnL and
// tightens the stop to the tier's floor. The tier never regresses and the
// stop never loosens.
func (m *Monitor) applyTier(ctx context.Context, pos *domain.Position, plan *domain.ExitPlan) {
	tier, floor := tierFor(plan.PeakPnlPct)
	if tier == domain.TierNone {
		// No tier unlocked yet; the stop stays where the plan put it.
		return
	}
	if tier < plan.TrailingTier {
		// A lower tier would loosen the stop; keep the one already locked in.
		return
	}

	// Floors are raw percentages of entry price; tiers are unlocked by the
	// leverage-adjusted peak.
	var floorStop float64
	if pos.Side == domain.SideLong {
		floorStop = pos.EntryPrice * (1 + floor)
		if floorStop > plan.StopLoss {
			m.logTierMove(ctx, pos, plan, tier, floorStop)
			plan.StopLoss = floorStop
		}
	} else {
		floorStop = pos.EntryPrice * (1 - floor)
		if floorStop < plan.StopLoss {
			m.logTierMove(ctx, pos, plan, tier, floorStop)
			plan.StopLoss = floorStop
		}
	}
	if tier > plan.TrailingTier {
		plan.TrailingTier = tier
	}
}

func (m *Monitor) logTierMove(ctx context.Context, pos *domain.Position, plan *domain.ExitPlan, tier domain.TrailingTier, newStop float64) {
	m.logger.Info(ctx, "Tiered trailing stop advanced", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"tier":       tier.String(),
		"peakPnlPct": plan.PeakPnlPct,
		"oldStop":    plan.StopLoss,
		"newStop":    newStop,
	})
}

// tierFor maps a peak PnL to the trailing tier it unlocks and that tier's
// stop floor as a fraction of entry price.
func tierFor(peakPnlPct float64) (domain.TrailingTier, float64) {
	switch {
	case peakPnlPct >= tier3Threshold:
		return domain.Tier3, tier3Floor
	case peakPnlPct >= tier2Threshold:
		return domain.Tier2, tier2Floor
	case peakPnlPct >= tier1Threshold:
		return domain.Tier1, tier1Floor
	default:
		return domain.TierNone, 0
	}
}

// crossedStop reports whether price breached the stop unfavorably.
func crossedStop(side domain.Side, price, stop float64) bool {
	if stop == 0 {
		return false
	}
	if side == domain.SideLong {
		return price <= stop
	}
	return price >= stop
}

// crossedTarget reports whether price reached the take-profit favorably.
func crossedTarget(side domain.Side, price, target float64) bool {
	if target == 0 {
		return false
	}
	if side == domain.SideLong {
		return price >= target
	}
	return price <= target
}

// RecordExit appends a closed position to the monitor's history.
func (m *Monitor) RecordExit(ctx context.Context, positionID string, reason domain.ExitReason, exitPrice, pnl float64, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, ExitRecord{
		PositionID: positionID,
		Reason:     reason,
		ExitPrice:  exitPrice,
		PNL:        pnl,
		Detail:     detail,
		Timestamp:  m.now(),
	})
	if len(m.history) > maxExitHistory {
		m.history = m.history[len(m.history)-maxExitHistory:]
	}

	m.logger.Info(ctx, "Recorded position exit", map[string]interface{}{
		"positionID": positionID, "reason": string(reason), "exitPrice": exitPrice, "pnl": pnl,
	})
}

// GetStatistics aggregates the exit history.
func (m *Monitor) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{ExitsByReason: make(map[domain.ExitReason]int)}
	for _, rec := range m.history {
		stats.TotalExits++
		stats.ExitsByReason[rec.Reason]++
		stats.TotalPnl += rec.PNL
	}
	if stats.TotalExits > 0 {
		stats.AvgPnl = stats.TotalPnl / float64(stats.TotalExits)
	}
	return stats
}
