package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"cryptoAutoPilot/config"
	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/adapters/binanceclient"
	"cryptoAutoPilot/internal/adapters/logger"
	"cryptoAutoPilot/internal/adapters/signalfile"
	"cryptoAutoPilot/internal/adapters/sqlite"
	"cryptoAutoPilot/internal/engine"
	"cryptoAutoPilot/internal/exitplan"
	"cryptoAutoPilot/internal/health"
	"cryptoAutoPilot/internal/ports"
	"cryptoAutoPilot/internal/recovery"
	"cryptoAutoPilot/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "zap" {
		zapLogger, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize zap logger: %v", err)
		}
		defer zapLogger.Sync()
		appLogger = zapLogger
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// Positions left open by a previous run cannot be re-adopted; they need
	// manual reconciliation on the exchange before unattended trading resumes.
	if orphans, err := repo.FindOpen(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Failed to check for orphaned positions")
	} else if len(orphans) > 0 {
		for _, pos := range orphans {
			appLogger.Warn(context.Background(), "Orphaned open position in audit store", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
				"entryTime":  pos.EntryTime,
			})
		}
	}

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	if err := binanceClient.SetServerTime(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to sync server time")
		log.Fatalf("FATAL: Failed to sync server time: %v", err)
	}
	if err := binanceClient.Ping(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Exchange connectivity check failed")
		log.Fatalf("FATAL: Exchange connectivity check failed: %v", err)
	}

	// 5. Initialize Signal Source (file drop directory fed by external collaborators)
	signalSource, err := signalfile.New(cfg.SignalDir, cfg.SignalMaxAge, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}
	appLogger.Info(context.Background(), "Signal source initialized", map[string]interface{}{"dir": cfg.SignalDir})

	// 6. Initialize Core Components
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
	}, appLogger, repo)

	// 7. Initialize Decision Engine
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
		Execution: binanceClient,
		Prices:    binanceClient,
		Repo:      repo,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision engine")
		log.Fatalf("FATAL: Failed to initialize decision engine: %v", err)
	}
	appLogger.Info(context.Background(), "Decision engine initialized", map[string]interface{}{"symbols": cfg.Symbols})

	// 8. Start
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start decision engine")
		log.Fatalf("FATAL: Failed to start decision engine: %v", err)
	}

	supervisor := health.NewSupervisor(health.Config{
		Interval:    cfg.HealthInterval,
		MetricsAddr: cfg.MetricsAddr,
	}, appLogger, eng, acct, recoveryMgr, monitor)

	// Blocks until the context is canceled by a shutdown signal.
	supervisor.Run(ctx)

	appLogger.Info(context.Background(), "Shutdown signal received, stopping engine")
	eng.Stop()
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
