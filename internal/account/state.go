package account

import (
	"sync"
	"time"
)

// Snapshot is an immutable copy of the account state, safe to read without
// holding the store's lock. Risk checks operate on snapshots so that every
// decision sees one consistent view of capital.
type Snapshot struct {
	Capital         float64
	PeakCapital     float64
	DailyPnl        float64
	DailyTradeCount int
	LastResetDate   time.Time
	NoNewPositions  bool
	TradingPaused   bool
}

// Drawdown returns the fractional drawdown from peak capital.
func (s Snapshot) Drawdown() float64 {
	if s.PeakCapital <= 0 {
		return 0
	}
	dd := (s.PeakCapital - s.Capital) / s.PeakCapital
	if dd < 0 {
		return 0
	}
	return dd
}

// State is the process-wide account store. All mutation goes through explicit
// methods under a single lock so the drawdown invariant (peak >= capital with
// both read at the same instant) stays auditable.
type State struct {
	mu sync.Mutex

	capital         float64
	peakCapital     float64
	dailyPnl        float64
	dailyTradeCount int
	lastResetDate   time.Time // UTC calendar day of the last daily reset
	noNewPositions  bool
	tradingPaused   bool

	now func() time.Time
}

// NewState creates the account store with the given starting capital.
func NewState(initialCapital float64) *State {
	n := time.Now
	return &State{
		capital:       initialCapital,
		peakCapital:   initialCapital,
		lastResetDate: utcDate(n()),
		now:           n,
	}
}

// utcDate truncates an instant to its UTC calendar day.
func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// maybeResetDaily resets the daily counters on first access after UTC
// midnight. Caller must hold s.mu.
func (s *State) maybeResetDaily() {
	today := utcDate(s.now())
	if today.After(s.lastResetDate) {
		s.dailyPnl = 0
		s.dailyTradeCount = 0
		s.lastResetDate = today
	}
}

// Snapshot returns a consistent copy of the current state, applying the daily
// reset first if a new UTC day has started.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetDaily()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Capital:         s.capital,
		PeakCapital:     s.peakCapital,
		DailyPnl:        s.dailyPnl,
		DailyTradeCount: s.dailyTradeCount,
		LastResetDate:   s.lastResetDate,
		NoNewPositions:  s.noNewPositions,
		TradingPaused:   s.tradingPaused,
	}
}

// ApplyTrade books a realized PnL into capital and the daily counters and
// returns the resulting snapshot. Peak capital is ratcheted here so
// peakCapital >= capital holds at every observable instant.
func (s *State) ApplyTrade(pnl float64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetDaily()

	s.capital += pnl
	s.dailyPnl += pnl
	if s.capital > s.peakCapital {
		s.peakCapital = s.capital
	}
	return s.snapshotLocked()
}

// RecordOpen counts a newly opened position against the daily trade limit.
func (s *State) RecordOpen() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetDaily()

	s.dailyTradeCount++
	return s.snapshotLocked()
}

// SetFlags stores the drawdown gate flags computed by the risk gate.
func (s *State) SetFlags(noNewPositions, tradingPaused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noNewPositions = noNewPositions
	s.tradingPaused = tradingPaused
}

// ResetPeak re-bases the peak at current capital. Operator tooling uses this
// to restart drawdown tracking after a drawdown has been accepted.
func (s *State) ResetPeak() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peakCapital = s.capital
	return s.snapshotLocked()
}
