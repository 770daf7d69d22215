package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/engine"
	"cryptoAutoPilot/internal/exitplan"
	"cryptoAutoPilot/internal/ports"
	"cryptoAutoPilot/internal/recovery"
)

const defaultErrorRateThreshold = 30.0 // errors per hour

// Config tunes the health supervisor.
type Config struct {
	Interval           time.Duration // aggregation period, default 60s
	ErrorRateThreshold float64       // errors/hour above which the engine is paused
	MetricsAddr        string        // promhttp listen address, empty disables the server
}

// Supervisor periodically aggregates account, recovery and exit statistics,
// publishes them as Prometheus metrics, and force-pauses the engine when the
// system is halted or erroring too fast.
type Supervisor struct {
	cfg     Config
	logger  ports.Logger
	eng     *engine.Engine
	acct    *account.State
	rec     *recovery.Manager
	monitor *exitplan.Monitor
	server  *http.Server
}

// NewSupervisor creates a health supervisor.
func NewSupervisor(cfg Config, logger ports.Logger, eng *engine.Engine, acct *account.State, rec *recovery.Manager, monitor *exitplan.Monitor) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = defaultErrorRateThreshold
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		eng:     eng,
		acct:    acct,
		rec:     rec,
		monitor: monitor,
	}
}

// Run blocks until ctx is done, aggregating on every tick. When a metrics
// address is configured it also serves promhttp.
func (s *Supervisor) Run(ctx context.Context) {
	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.server = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error(ctx, err, "Metrics server failed")
			}
		}()
		s.logger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": s.cfg.MetricsAddr})
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.server.Shutdown(shutdownCtx)
				cancel()
			}
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one aggregation round. Exported for tests and for the
// paper-trading command.
func (s *Supervisor) Check(ctx context.Context) {
	snap := s.acct.Snapshot()
	capitalGauge.Set(snap.Capital)
	peakCapitalGauge.Set(snap.PeakCapital)
	drawdownGauge.Set(snap.Drawdown())
	dailyPnlGauge.Set(snap.DailyPnl)
	dailyTradesGauge.Set(float64(snap.DailyTradeCount))

	status := s.eng.Status()
	openPositionsGauge.Set(float64(status.OpenPositions))
	slowCyclesGauge.Set(float64(status.SlowCycles))
	fastCyclesGauge.Set(float64(status.FastCycles))
	for _, state := range []engine.State{engine.StateStopped, engine.StateRunning, engine.StatePaused} {
		v := 0.0
		if status.State == state {
			v = 1.0
		}
		engineStateGauge.WithLabelValues(string(state)).Set(v)
	}

	recStats := s.rec.Statistics()
	consecutiveErrorsGauge.Set(float64(recStats.ConsecutiveErrors))
	errorRateGauge.Set(recStats.ErrorRatePerHour)
	for category, count := range recStats.ErrorsByCategory {
		errorsByCategoryGauge.WithLabelValues(string(category)).Set(float64(count))
	}

	exitStats := s.monitor.GetStatistics()
	for reason, count := range exitStats.ExitsByReason {
		exitsByReasonGauge.WithLabelValues(string(reason)).Set(float64(count))
	}
	exitPnlGauge.Set(exitStats.TotalPnl)

	switch {
	case recStats.State == recovery.StateHalted && status.State != engine.StateStopped:
		s.logger.Error(ctx, nil, "Recovery manager halted, pausing engine", map[string]interface{}{
			"recoveryState": string(recStats.State),
		})
		s.eng.ForcePause()
	case recStats.ErrorRatePerHour > s.cfg.ErrorRateThreshold && status.State == engine.StateRunning:
		s.logger.Warn(ctx, "Error rate above threshold, pausing engine", map[string]interface{}{
			"errorRate": recStats.ErrorRatePerHour,
			"threshold": s.cfg.ErrorRateThreshold,
		})
		s.eng.ForcePause()
	}

	s.logger.Debug(ctx, "Health check complete", map[string]interface{}{
		"capital":       snap.Capital,
		"drawdown":      snap.Drawdown(),
		"openPositions": status.OpenPositions,
		"engineState":   string(status.State),
		"recoveryState": string(recStats.State),
		"errorRate":     recStats.ErrorRatePerHour,
	})
}
