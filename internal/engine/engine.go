package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/exitplan"
	"cryptoAutoPilot/internal/ports"
	"cryptoAutoPilot/internal/recovery"
	"cryptoAutoPilot/internal/risk"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
)

// Config tunes the engine's cycles and position defaults. Zero values fall
// back to defaults.
type Config struct {
	Symbols []string

	SlowCycleInterval time.Duration // signal collection and admission, default 5m
	FastCycleInterval time.Duration // exit monitoring, default 3s
	SignalTimeout     time.Duration // per-source collection deadline, default 10s

	MaxHoldingHours       float64 // default 36
	DefaultLeverage       float64 // used when a signal suggests none, default 1
	DefaultStopLossPct    float64 // distance from entry as a price fraction, default 0.02
	DefaultTakeProfitPct  float64 // default 0.04
	TieredTrailingEnabled bool
}

func (c *Config) applyDefaults() {
	if c.SlowCycleInterval <= 0 {
		c.SlowCycleInterval = 5 * time.Minute
	}
	if c.FastCycleInterval <= 0 {
		c.FastCycleInterval = 3 * time.Second
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = 10 * time.Second
	}
	if c.MaxHoldingHours <= 0 {
		c.MaxHoldingHours = 36
	}
	if c.DefaultLeverage < 1 {
		c.DefaultLeverage = 1
	}
	if c.DefaultStopLossPct <= 0 {
		c.DefaultStopLossPct = 0.02
	}
	if c.DefaultTakeProfitPct <= 0 {
		c.DefaultTakeProfitPct = 0.04
	}
}

// Deps are the engine's collaborators. Market and Repo are optional.
type Deps struct {
	Logger    ports.Logger
	Account   *account.State
	Gate      *risk.Gate
	Monitor   *exitplan.Monitor
	Recovery  *recovery.Manager
	Sources   []ports.SignalSource
	Execution ports.ExecutionPort
	Prices    ports.PriceSource
	Market    ports.MarketDataSource
	Repo      ports.PositionRepository
}

func (d Deps) validate() error {
	switch {
	case d.Logger == nil:
		return fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	case d.Account == nil:
		return fmt.Errorf("%w: account store is required", ports.ErrConfigurationError)
	case d.Gate == nil:
		return fmt.Errorf("%w: risk gate is required", ports.ErrConfigurationError)
	case d.Monitor == nil:
		return fmt.Errorf("%w: exit monitor is required", ports.ErrConfigurationError)
	case d.Recovery == nil:
		return fmt.Errorf("%w: recovery manager is required", ports.ErrConfigurationError)
	case d.Execution == nil:
		return fmt.Errorf("%w: execution port is required", ports.ErrConfigurationError)
	case d.Prices == nil:
		return fmt.Errorf("%w: price source is required", ports.ErrConfigurationError)
	case len(d.Sources) == 0:
		return fmt.Errorf("%w: at least one signal source is required", ports.ErrConfigurationError)
	}
	return nil
}

// positionEntry pairs a position with its exit plan under one mutex. The
// evaluating flag hands exclusive evaluation rights to one cycle at a time so
// the mutex itself is never held across a port call.
type positionEntry struct {
	mu         sync.Mutex
	pos        *domain.Position
	plan       *domain.ExitPlan
	evaluating bool
}

// Status is a point-in-time view of the engine for health reporting and
// operational tooling.
type Status struct {
	State          State
	TradingPaused  bool
	NoNewPositions bool
	OpenPositions  int
	SlowCycles     uint64
	FastCycles     uint64
	RecoveryState  recovery.SystemState
	Account        account.Snapshot
}

// Engine runs the autonomous decision loops: a slow cycle that collects and
// admits signals, and a fast cycle that monitors open positions for exit.
type Engine struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	state       State
	manualPause bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	regMu    sync.RWMutex
	registry map[string]*positionEntry

	slowCycles atomic.Uint64
	fastCycles atomic.Uint64
}

// New creates a decision engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.applyDefaults()
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrConfigurationError)
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		state:    StateStopped,
		registry: make(map[string]*positionEntry),
	}, nil
}

// Start launches the decision loops. It returns an error if the engine is
// already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		return fmt.Errorf("%w: engine already started", ports.ErrInvalidRequest)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateRunning
	e.manualPause = false

	e.wg.Add(2)
	go e.runSlowLoop(runCtx)
	go e.runFastLoop(runCtx)

	e.deps.Logger.Info(ctx, "Decision engine started", map[string]interface{}{
		"symbols":           e.cfg.Symbols,
		"slowCycleInterval": e.cfg.SlowCycleInterval.String(),
		"fastCycleInterval": e.cfg.FastCycleInterval.String(),
	})
	return nil
}

// Stop cancels the loops and waits for any in-flight cycle to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
}

// ForcePause blocks new positions until ForceResume. Exit monitoring keeps
// running while paused.
func (e *Engine) ForcePause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.manualPause = true
	e.state = StatePaused
}

// ForceResume lifts a manual pause. A recovery cooldown still keeps the
// engine paused until it elapses.
func (e *Engine) ForceResume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.manualPause = false
	e.state = StateRunning
}

// Status reports the engine's current lifecycle and cycle counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	snap := e.deps.Account.Snapshot()
	return Status{
		State:          state,
		TradingPaused:  snap.TradingPaused,
		NoNewPositions: snap.NoNewPositions,
		OpenPositions:  len(e.openEntries()),
		SlowCycles:     e.slowCycles.Load(),
		FastCycles:     e.fastCycles.Load(),
		RecoveryState:  e.deps.Recovery.State(),
		Account:        snap,
	}
}

// OpenPositions returns copies of the currently open positions.
func (e *Engine) OpenPositions() []domain.Position {
	entries := e.openEntries()
	out := make([]domain.Position, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.pos.IsOpen() {
			out = append(out, *entry.pos)
		}
		entry.mu.Unlock()
	}
	return out
}

func (e *Engine) runSlowLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SlowCycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SlowCycle(ctx)
		}
	}
}

func (e *Engine) runFastLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FastCycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.FastCycle(ctx)
		}
	}
}

// paused reports whether admission is currently suspended, folding in the
// recovery manager's cooldown so an elapsed cooldown resumes automatically.
func (e *Engine) paused() bool {
	e.mu.Lock()
	manual := e.manualPause
	e.mu.Unlock()

	if manual {
		return true
	}
	if e.deps.Recovery.ShouldPause() {
		return true
	}
	e.mu.Lock()
	if e.state == StatePaused {
		e.state = StateRunning
	}
	e.mu.Unlock()
	return false
}

// SlowCycle runs one signal collection and admission round. Part of the
// control surface so a single round can be driven on demand; the engine must
// be started for pause and stop transitions to apply.
func (e *Engine) SlowCycle(ctx context.Context) {
	e.slowCycles.Add(1)

	if e.paused() || e.deps.Account.Snapshot().TradingPaused {
		e.deps.Logger.Debug(ctx, "Slow cycle skipped while paused", nil)
		e.applyDrawdownFlags(ctx)
		return
	}

	signals, collectErrs := e.collectSignals(ctx)
	cycleClean := len(collectErrs) == 0
	for _, err := range collectErrs {
		if !e.routeError(ctx, err) {
			return
		}
	}

	best := selectBest(signals)
	for symbol, sig := range best {
		if sig.Action == domain.ActionClose {
			e.closeOnSignal(ctx, symbol, sig)
			continue
		}
		if !e.tryOpen(ctx, symbol, sig) {
			cycleClean = false
		}
	}

	e.applyDrawdownFlags(ctx)
	if cycleClean {
		e.deps.Recovery.RecordSuccess()
	}
}

// collectSignals fans out to every source for every symbol with a per-call
// timeout. A slow or failing source costs only its own round.
func (e *Engine) collectSignals(ctx context.Context) ([]domain.Signal, []error) {
	type result struct {
		signals []domain.Signal
		err     error
	}

	calls := len(e.deps.Sources) * len(e.cfg.Symbols)
	results := make(chan result, calls)

	var wg sync.WaitGroup
	for _, src := range e.deps.Sources {
		for _, symbol := range e.cfg.Symbols {
			wg.Add(1)
			go func(src ports.SignalSource, symbol string) {
				defer wg.Done()
				callCtx, cancel := context.WithTimeout(ctx, e.cfg.SignalTimeout)
				defer cancel()

				sigs, err := src.Collect(callCtx, symbol)
				if err != nil {
					results <- result{err: fmt.Errorf("signal source %s on %s: %w", src.Name(), symbol, err)}
					return
				}
				results <- result{signals: sigs}
			}(src, symbol)
		}
	}
	wg.Wait()
	close(results)

	var signals []domain.Signal
	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		signals = append(signals, r.signals...)
	}
	return signals, errs
}

// selectBest keeps, per symbol, the actionable signal with the highest
// confidence, breaking ties by the latest timestamp.
func selectBest(signals []domain.Signal) map[string]domain.Signal {
	best := make(map[string]domain.Signal)
	for _, sig := range signals {
		sig = sig.Normalize()
		if sig.Action == domain.ActionHold || sig.Symbol == "" {
			continue
		}
		cur, ok := best[sig.Symbol]
		if !ok || sig.Confidence > cur.Confidence ||
			(sig.Confidence == cur.Confidence && sig.Timestamp.After(cur.Timestamp)) {
			best[sig.Symbol] = sig
		}
	}
	return best
}

// tryOpen runs one open signal through the gate and, if admitted, opens and
// registers the position. Returns false when a collaborator error occurred.
func (e *Engine) tryOpen(ctx context.Context, symbol string, sig domain.Signal) bool {
	if sig.Confidence < e.deps.Gate.MinConfidence() {
		e.deps.Logger.Debug(ctx, "Signal below confidence threshold", map[string]interface{}{
			"symbol": symbol, "confidence": sig.Confidence, "source": sig.SourceID,
		})
		return true
	}

	snap := e.deps.Account.Snapshot()
	open := e.openPositionsRef()
	ok, reason := e.deps.Gate.CanOpen(snap, symbol, open)
	if !ok {
		e.deps.Logger.Info(ctx, "Signal rejected by risk gate", map[string]interface{}{
			"symbol": symbol, "reason": reason, "confidence": sig.Confidence,
		})
		return true
	}

	sizePct := e.deps.Gate.SizePosition(sig.Confidence)
	if sig.SuggestedSizePct > 0 {
		sizePct = e.deps.Gate.ClampSize(sig.SuggestedSizePct)
	}
	leverage := sig.SuggestedLeverage
	if leverage < 1 {
		leverage = e.cfg.DefaultLeverage
	}

	pos, err := e.deps.Execution.Open(ctx, ports.OpenRequest{
		Symbol:     symbol,
		Side:       sig.OpenSide(),
		SizePct:    sizePct,
		Leverage:   leverage,
		Confidence: sig.Confidence,
		SourceID:   sig.SourceID,
	})
	if err != nil {
		e.routeError(ctx, fmt.Errorf("open %s: %w", symbol, err))
		return false
	}

	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.Confidence = sig.Confidence
	pos.SourceID = sig.SourceID

	plan := e.buildPlan(pos, sig)
	e.regMu.Lock()
	e.registry[pos.ID] = &positionEntry{pos: pos, plan: plan}
	e.regMu.Unlock()

	e.deps.Account.RecordOpen()
	e.auditCreate(ctx, pos)

	e.deps.Logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"side":       string(pos.Side),
		"entryPrice": pos.EntryPrice,
		"quantity":   pos.Quantity,
		"leverage":   pos.Leverage,
		"sizePct":    sizePct,
		"confidence": sig.Confidence,
		"source":     sig.SourceID,
		"stopLoss":   plan.StopLoss,
		"takeProfit": plan.TakeProfit,
	})
	return true
}

// buildPlan derives the initial exit plan from the signal's suggestions,
// falling back to the configured defaults.
func (e *Engine) buildPlan(pos *domain.Position, sig domain.Signal) *domain.ExitPlan {
	slPct := sig.SuggestedStopLossPct
	if slPct <= 0 {
		slPct = e.cfg.DefaultStopLossPct
	}
	tpPct := sig.SuggestedTakeProfitPct
	if tpPct <= 0 {
		tpPct = e.cfg.DefaultTakeProfitPct
	}

	var stop, target float64
	if pos.Side == domain.SideLong {
		stop = pos.EntryPrice * (1 - slPct)
		target = pos.EntryPrice * (1 + tpPct)
	} else {
		stop = pos.EntryPrice * (1 + slPct)
		target = pos.EntryPrice * (1 - tpPct)
	}

	return &domain.ExitPlan{
		StopLoss:              stop,
		TakeProfit:            target,
		MaxHoldingHours:       e.cfg.MaxHoldingHours,
		TieredTrailingEnabled: e.cfg.TieredTrailingEnabled,
	}
}

// closeOnSignal closes an open position on the signal's symbol, if any.
func (e *Engine) closeOnSignal(ctx context.Context, symbol string, sig domain.Signal) {
	if sig.Confidence < e.deps.Gate.MinConfidence() {
		return
	}
	for _, entry := range e.openEntries() {
		entry.mu.Lock()
		match := entry.pos.IsOpen() && entry.pos.Symbol == symbol
		entry.mu.Unlock()
		if match {
			e.closePosition(ctx, entry, domain.ExitReasonManual,
				fmt.Sprintf("close signal from %s", sig.SourceID), 0)
			return
		}
	}
}

// FastCycle runs one exit-monitoring round over all open positions. Part of
// the control surface so a single round can be driven on demand.
func (e *Engine) FastCycle(ctx context.Context) {
	e.fastCycles.Add(1)

	cycleClean := true
	for _, entry := range e.openEntries() {
		if !e.evaluateEntry(ctx, entry) {
			cycleClean = false
		}
		if ctx.Err() != nil {
			return
		}
	}

	if e.deps.Account.Snapshot().TradingPaused {
		e.flattenAll(ctx)
	}
	if cycleClean {
		e.deps.Recovery.RecordSuccess()
	}
}

// evaluateEntry runs one position through the exit monitor and closes it if
// the monitor says so. Returns false when a collaborator error occurred.
func (e *Engine) evaluateEntry(ctx context.Context, entry *positionEntry) bool {
	entry.mu.Lock()
	if !entry.pos.IsOpen() || entry.evaluating {
		entry.mu.Unlock()
		return true
	}
	entry.evaluating = true
	symbol := entry.pos.Symbol
	entry.mu.Unlock()

	defer func() {
		entry.mu.Lock()
		entry.evaluating = false
		entry.mu.Unlock()
	}()

	price, err := e.deps.Prices.Latest(ctx, symbol)
	if err != nil {
		e.routeError(ctx, fmt.Errorf("price for %s: %w", symbol, err))
		return false
	}

	snap := domain.MarketSnapshot{Price: price}
	if e.deps.Market != nil {
		ms, err := e.deps.Market.Snapshot(ctx, symbol)
		if err != nil {
			// Exit checks still run against price alone.
			e.deps.Logger.Warn(ctx, "Market snapshot unavailable", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
		} else {
			snap = ms
			snap.Price = price
		}
	}

	entry.mu.Lock()
	decision, err := e.deps.Monitor.Evaluate(ctx, entry.pos, entry.plan, price, snap)
	entry.mu.Unlock()
	if err != nil {
		e.routeError(ctx, fmt.Errorf("evaluate %s: %w", symbol, err))
		return false
	}
	if !decision.ShouldExit {
		return true
	}

	return e.closePosition(ctx, entry, decision.Reason, decision.Detail, decision.ExitPrice)
}

// closePosition flattens one position and books the realized PnL. Returns
// false when the close failed and should be retried next cycle.
func (e *Engine) closePosition(ctx context.Context, entry *positionEntry, reason domain.ExitReason, detail string, exitPrice float64) bool {
	entry.mu.Lock()
	if !entry.pos.IsOpen() {
		entry.mu.Unlock()
		return true
	}
	id := entry.pos.ID
	entry.mu.Unlock()

	pnl, err := e.deps.Execution.Close(ctx, id, reason)
	if err != nil && !errors.Is(err, ports.ErrPositionNotFound) {
		e.routeError(ctx, fmt.Errorf("close %s: %w", id, err))
		return false
	}
	// ErrPositionNotFound means the exchange already considers it flat; commit
	// the close locally with whatever PnL was reported (zero on not-found).

	entry.mu.Lock()
	if exitPrice == 0 && entry.pos.Quantity > 0 {
		// Callers closing at market pass no price; back it out of the
		// realized PnL so the audit trail records the actual fill level.
		move := pnl / entry.pos.Quantity
		if entry.pos.Side == domain.SideShort {
			move = -move
		}
		exitPrice = entry.pos.EntryPrice + move
	}
	entry.pos.Status = domain.StatusClosed
	entry.pos.ExitTime = time.Now()
	entry.pos.ExitPrice = exitPrice
	entry.pos.PNL = pnl
	entry.pos.ExitReason = reason
	pos := *entry.pos
	entry.mu.Unlock()

	snap := e.deps.Account.ApplyTrade(pnl)
	e.deps.Monitor.RecordExit(ctx, pos.ID, reason, pos.ExitPrice, pnl, detail)
	e.auditUpdate(ctx, &pos)
	e.applyDrawdownFlags(ctx)

	e.deps.Logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"reason":     string(reason),
		"pnl":        pnl,
		"capital":    snap.Capital,
		"detail":     detail,
	})
	return true
}

// flattenAll force-closes every open position after drawdown protection has
// paused trading.
func (e *Engine) flattenAll(ctx context.Context) {
	entries := e.openEntries()
	if len(entries) == 0 {
		return
	}
	e.deps.Logger.Warn(ctx, "Flattening all positions", map[string]interface{}{
		"openPositions": len(entries),
	})
	for _, entry := range entries {
		e.closePosition(ctx, entry, domain.ExitReasonDrawdownFlatten, "drawdown protection flatten", 0)
	}
}

// applyDrawdownFlags recomputes the drawdown gate flags and mirrors the
// paused flag into the engine state.
func (e *Engine) applyDrawdownFlags(ctx context.Context) {
	_, paused, _ := e.deps.Gate.CheckDrawdown(ctx, e.deps.Account)
	if paused {
		e.mu.Lock()
		if e.state == StateRunning {
			e.state = StatePaused
		}
		e.mu.Unlock()
	}
}

// routeError books a collaborator error with the recovery manager and applies
// the resulting action. Returns false when the cycle must abort.
func (e *Engine) routeError(ctx context.Context, err error) bool {
	switch e.deps.Recovery.Record(ctx, err) {
	case domain.ActionStop:
		e.deps.Logger.Error(ctx, err, "Fatal error, stopping engine")
		e.mu.Lock()
		e.state = StateStopped
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return false
	case domain.ActionPause:
		e.mu.Lock()
		if e.state == StateRunning {
			e.state = StatePaused
		}
		e.mu.Unlock()
		return false
	default:
		return true
	}
}

// openEntries snapshots the registry entries that were open at call time.
func (e *Engine) openEntries() []*positionEntry {
	e.regMu.RLock()
	defer e.regMu.RUnlock()

	out := make([]*positionEntry, 0, len(e.registry))
	for _, entry := range e.registry {
		entry.mu.Lock()
		open := entry.pos.IsOpen()
		entry.mu.Unlock()
		if open {
			out = append(out, entry)
		}
	}
	return out
}

// openPositionsRef returns the open positions for gate checks.
func (e *Engine) openPositionsRef() []*domain.Position {
	entries := e.openEntries()
	out := make([]*domain.Position, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		pos := *entry.pos
		entry.mu.Unlock()
		out = append(out, &pos)
	}
	return out
}

func (e *Engine) auditCreate(ctx context.Context, pos *domain.Position) {
	if e.deps.Repo == nil {
		return
	}
	if err := e.deps.Repo.Create(ctx, pos); err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to persist opened position", map[string]interface{}{
			"positionID": pos.ID,
		})
	}
}

func (e *Engine) auditUpdate(ctx context.Context, pos *domain.Position) {
	if e.deps.Repo == nil {
		return
	}
	if err := e.deps.Repo.Update(ctx, pos); err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to persist closed position", map[string]interface{}{
			"positionID": pos.ID,
		})
	}
}
