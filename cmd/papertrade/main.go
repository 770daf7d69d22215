// Paper-trading runner: the full decision engine wired against the simulated
// exchange instead of Binance. Prices random-walk, signals still come from the
// drop directory, so strategies can be rehearsed end to end with no API keys.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"cryptoAutoPilot/config"
	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/adapters/logger"
	"cryptoAutoPilot/internal/adapters/paper"
	"cryptoAutoPilot/internal/adapters/signalfile"
	"cryptoAutoPilot/internal/engine"
	"cryptoAutoPilot/internal/exitplan"
	"cryptoAutoPilot/internal/health"
	"cryptoAutoPilot/internal/ports"
	"cryptoAutoPilot/internal/recovery"
	"cryptoAutoPilot/internal/risk"
)

const (
	startPrice  = 50000.0
	maxStepPct  = 0.001 // per-tick random walk step
	driftPeriod = time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Paper trading session starting", map[string]interface{}{
		"symbols": cfg.Symbols,
		"capital": cfg.InitialCapital,
	})

	prices := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		prices[sym] = startPrice
	}
	exchange := paper.New(appLogger, cfg.InitialCapital, prices)

	signalSource, err := signalfile.New(cfg.SignalDir, cfg.SignalMaxAge, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}

	acct := account.NewState(cfg.InitialCapital)

	gate, err := risk.NewGate(risk.Config{
		DrawdownWarnPct:    cfg.DrawdownWarnPct,
		DrawdownStopPct:    cfg.DrawdownStopPct,
		MaxDailyLossPct:    cfg.MaxDailyLossPct,
		MaxDailyTrades:     cfg.MaxDailyTrades,
		MinConfidence:      cfg.MinConfidence,
		MinPositionSizePct: cfg.MinPositionSizePct,
		MaxPositionSizePct: cfg.MaxPositionSizePct,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk gate")
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	monitor := exitplan.NewMonitor(appLogger)

	recoveryMgr := recovery.NewManager(recovery.Config{
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		Cooldown:             cfg.ErrorCooldown,
	}, appLogger, nil)

	eng, err := engine.New(engine.Config{
		Symbols:               cfg.Symbols,
		SlowCycleInterval:     cfg.SlowCycleInterval,
		FastCycleInterval:     cfg.FastCycleInterval,
		SignalTimeout:         cfg.SignalTimeout,
		MaxHoldingHours:       cfg.MaxHoldingHours,
		DefaultLeverage:       cfg.DefaultLeverage,
		DefaultStopLossPct:    cfg.DefaultStopLossPct,
		DefaultTakeProfitPct:  cfg.DefaultTakeProfitPct,
		TieredTrailingEnabled: cfg.TieredTrailingEnabled,
	}, engine.Deps{
		Logger:    appLogger,
		Account:   acct,
		Gate:      gate,
		Monitor:   monitor,
		Recovery:  recoveryMgr,
		Sources:   []ports.SignalSource{signalSource},
		Execution: exchange,
		Prices:    exchange,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision engine")
		log.Fatalf("FATAL: Failed to initialize decision engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start decision engine")
		log.Fatalf("FATAL: Failed to start decision engine: %v", err)
	}

	// Simulated market movement.
	go func() {
		ticker := time.NewTicker(driftPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				exchange.Drift(maxStepPct)
			}
		}
	}()

	supervisor := health.NewSupervisor(health.Config{
		Interval:    cfg.HealthInterval,
		MetricsAddr: cfg.MetricsAddr,
	}, appLogger, eng, acct, recoveryMgr, monitor)

	supervisor.Run(ctx)

	eng.Stop()

	snap := acct.Snapshot()
	appLogger.Info(context.Background(), "Paper trading session finished", map[string]interface{}{
		"capital":      snap.Capital,
		"peak_capital": snap.PeakCapital,
		"daily_pnl":    snap.DailyPnl,
		"trades_today": snap.DailyTradeCount,
	})
}
