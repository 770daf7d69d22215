package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/adapters/paper"
	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/exitplan"
	"cryptoAutoPilot/internal/ports"
	"cryptoAutoPilot/internal/recovery"
	"cryptoAutoPilot/internal/risk"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockSource returns canned signals per symbol, or a fixed error.
type mockSource struct {
	name    string
	signals map[string][]domain.Signal
	err     error
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) Collect(ctx context.Context, symbol string) ([]domain.Signal, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.signals[symbol], nil
}

// mockRepo records audit writes for assertions.
type mockRepo struct {
	mu      sync.Mutex
	created []*domain.Position
	updated []*domain.Position
}

func (r *mockRepo) Create(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *pos
	r.created = append(r.created, &p)
	return nil
}

func (r *mockRepo) Update(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *pos
	r.updated = append(r.updated, &p)
	return nil
}

func (r *mockRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) { return nil, nil }

func (r *mockRepo) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	return nil, nil
}

func (r *mockRepo) closes() []*domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Position(nil), r.updated...)
}

type fixture struct {
	engine   *Engine
	exchange *paper.Exchange
	acct     *account.State
	recovery *recovery.Manager
	repo     *mockRepo
}

func newFixture(t *testing.T, symbols []string, prices map[string]float64, sources ...ports.SignalSource) *fixture {
	t.Helper()

	logger := noopLogger{}
	acct := account.NewState(10000)
	gate, err := risk.NewGate(risk.DefaultConfig(), logger)
	require.NoError(t, err)
	rec := recovery.NewManager(recovery.Config{}, logger, nil)
	exchange := paper.New(logger, 10000, prices)
	repo := &mockRepo{}

	// Hour-long intervals keep the background tickers quiet; tests drive the
	// cycles directly.
	eng, err := New(Config{
		Symbols:               symbols,
		SlowCycleInterval:     time.Hour,
		FastCycleInterval:     time.Hour,
		TieredTrailingEnabled: true,
	}, Deps{
		Logger:    logger,
		Account:   acct,
		Gate:      gate,
		Monitor:   exitplan.NewMonitor(logger),
		Recovery:  rec,
		Sources:   sources,
		Execution: exchange,
		Prices:    exchange,
		Repo:      repo,
	})
	require.NoError(t, err)

	return &fixture{engine: eng, exchange: exchange, acct: acct, recovery: rec, repo: repo}
}

// start brings the engine to RUNNING so pause and stop transitions behave as
// they do in production.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(f.engine.Stop)
}

func openSignal(symbol string, confidence float64, ts time.Time) domain.Signal {
	return domain.Signal{
		Symbol:            symbol,
		Action:            domain.ActionOpenLong,
		Confidence:        confidence,
		SuggestedLeverage: 10,
		SuggestedSizePct:  0.20,
		SourceID:          "test-source",
		Timestamp:         ts,
	}
}

func TestSlowCycleOpensBestSignal(t *testing.T) {
	now := time.Now()
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {
			openSignal("BTCUSDT", 0.70, now),
			openSignal("BTCUSDT", 0.90, now),
		},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())

	open := f.engine.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
	assert.Equal(t, domain.SideLong, open[0].Side)
	assert.Equal(t, 0.90, open[0].Confidence)
	assert.Equal(t, 1, f.acct.Snapshot().DailyTradeCount)
}

func TestSlowCycleFiltersLowConfidence(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.50, time.Now())},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())

	assert.Empty(t, f.engine.OpenPositions())
	assert.Equal(t, 0, f.acct.Snapshot().DailyTradeCount)
}

func TestSlowCycleSkipsWhilePaused(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.95, time.Now())},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.ForcePause()
	f.engine.SlowCycle(context.Background())
	assert.Empty(t, f.engine.OpenPositions())

	f.engine.ForceResume()
	f.engine.SlowCycle(context.Background())
	assert.Len(t, f.engine.OpenPositions(), 1)
}

func TestSlowCycleOnePositionPerSymbol(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.95, time.Now())},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	f.engine.SlowCycle(context.Background())

	assert.Len(t, f.engine.OpenPositions(), 1)
	assert.Equal(t, 1, f.acct.Snapshot().DailyTradeCount)
}

func TestFastCycleClosesOnStopLoss(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.80, time.Now())},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	require.Len(t, f.engine.OpenPositions(), 1)

	// Default stop is 2% below entry; 48000 crosses it.
	f.exchange.SetPrice("BTCUSDT", 48000)
	f.engine.FastCycle(context.Background())

	assert.Empty(t, f.engine.OpenPositions())
	snap := f.acct.Snapshot()
	assert.Less(t, snap.Capital, 10000.0)
}

func TestFastCycleHoldsWithoutExit(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.80, time.Now())},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	f.exchange.SetPrice("BTCUSDT", 50100)
	f.engine.FastCycle(context.Background())

	assert.Len(t, f.engine.OpenPositions(), 1)
	assert.Equal(t, 10000.0, f.acct.Snapshot().Capital)
}

func TestDrawdownTriggersFlatten(t *testing.T) {
	now := time.Now()
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.90, now)},
		"ETHUSDT": {openSignal("ETHUSDT", 0.90, now)},
	}}
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"},
		map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	require.Len(t, f.engine.OpenPositions(), 2)

	// The BTC position carries 2000 margin at 10x (quantity 0.4). A drop to
	// 45000 realizes -2000, a 20% drawdown from the 10000 peak.
	f.exchange.SetPrice("BTCUSDT", 45000)
	f.engine.FastCycle(context.Background())

	assert.Empty(t, f.engine.OpenPositions(), "all positions flattened after drawdown stop")
	snap := f.acct.Snapshot()
	assert.True(t, snap.TradingPaused)
	assert.True(t, snap.NoNewPositions)
	assert.InDelta(t, 0.20, snap.Drawdown(), 0.001)
	assert.Equal(t, StatePaused, f.engine.Status().State)
}

func TestFatalErrorStopsEngine(t *testing.T) {
	src := &mockSource{name: "src", err: ports.ErrAuthenticationFailed}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())

	assert.Equal(t, StateStopped, f.engine.Status().State)
	assert.Equal(t, recovery.StateHalted, f.engine.Status().RecoveryState)
}

func TestRecoveryPauseBlocksAdmission(t *testing.T) {
	src := &mockSource{name: "src", err: ports.ErrRateLimited}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	assert.Equal(t, StatePaused, f.engine.Status().State)

	// Subsequent cycles skip admission while the cooldown runs.
	src.err = nil
	src.signals = map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.95, time.Now())},
	}
	f.engine.SlowCycle(context.Background())
	assert.Empty(t, f.engine.OpenPositions())
}

func TestStartStopLifecycle(t *testing.T) {
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)

	ctx := context.Background()
	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, StateRunning, f.engine.Status().State)
	assert.Error(t, f.engine.Start(ctx), "double start must fail")

	f.engine.Stop()
	assert.Equal(t, StateStopped, f.engine.Status().State)
}

func TestCloseSignalClosesPosition(t *testing.T) {
	now := time.Now()
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.90, now)},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	require.Len(t, f.engine.OpenPositions(), 1)

	src.signals = map[string][]domain.Signal{
		"BTCUSDT": {{
			Symbol:     "BTCUSDT",
			Action:     domain.ActionClose,
			Confidence: 0.90,
			SourceID:   "test-source",
			Timestamp:  now.Add(time.Minute),
		}},
	}
	f.engine.SlowCycle(context.Background())

	assert.Empty(t, f.engine.OpenPositions())
}

func TestCloseSignalRecordsExitPrice(t *testing.T) {
	now := time.Now()
	src := &mockSource{name: "src", signals: map[string][]domain.Signal{
		"BTCUSDT": {openSignal("BTCUSDT", 0.90, now)},
	}}
	f := newFixture(t, []string{"BTCUSDT"}, map[string]float64{"BTCUSDT": 50000}, src)
	f.start(t)

	f.engine.SlowCycle(context.Background())
	require.Len(t, f.engine.OpenPositions(), 1)

	f.exchange.SetPrice("BTCUSDT", 50500)
	src.signals = map[string][]domain.Signal{
		"BTCUSDT": {{
			Symbol:     "BTCUSDT",
			Action:     domain.ActionClose,
			Confidence: 0.90,
			SourceID:   "test-source",
			Timestamp:  now.Add(time.Minute),
		}},
	}
	f.engine.SlowCycle(context.Background())
	require.Empty(t, f.engine.OpenPositions())

	closes := f.repo.closes()
	require.NotEmpty(t, closes)
	closed := closes[len(closes)-1]
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonManual, closed.ExitReason)
	// The close audit carries the fill level, not a zero placeholder.
	assert.InDelta(t, 50500, closed.ExitPrice, 1e-6)
	assert.InDelta(t, 200, closed.PNL, 1e-6)
}
