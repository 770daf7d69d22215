package risk

import (
	"context"
	"testing"
	"time"

	"cryptoAutoPilot/internal/account"
	"cryptoAutoPilot/internal/domain"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(DefaultConfig(), noopLogger{})
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return g
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default is valid", func(c *Config) {}, false},
		{"warn above stop", func(c *Config) { c.DrawdownWarnPct = 0.25 }, true},
		{"zero daily trades", func(c *Config) { c.MaxDailyTrades = 0 }, true},
		{"confidence out of range", func(c *Config) { c.MinConfidence = 1.5 }, true},
		{"min size above max", func(c *Config) { c.MinPositionSizePct = 0.5 }, true},
		{"negative daily loss", func(c *Config) { c.MaxDailyLossPct = -0.05 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckDrawdownFlagTable(t *testing.T) {
	tests := []struct {
		name       string
		capital    float64 // peak stays at 10000
		wantNoNew  bool
		wantPaused bool
	}{
		{"no drawdown", 10000, false, false},
		{"below warn threshold", 8600, false, false},
		{"at warn threshold", 8500, true, false},
		{"between thresholds", 8200, true, false},
		{"at stop threshold", 8000, true, true},
		{"beyond stop threshold", 7000, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t)
			st := account.NewState(10000)
			st.ApplyTrade(tt.capital - 10000)

			noNew, paused, _ := g.CheckDrawdown(context.Background(), st)
			if noNew != tt.wantNoNew || paused != tt.wantPaused {
				t.Errorf("flags = (%v, %v), want (%v, %v)", noNew, paused, tt.wantNoNew, tt.wantPaused)
			}

			snap := st.Snapshot()
			if snap.NoNewPositions != tt.wantNoNew || snap.TradingPaused != tt.wantPaused {
				t.Errorf("stored flags = (%v, %v), want (%v, %v)",
					snap.NoNewPositions, snap.TradingPaused, tt.wantNoNew, tt.wantPaused)
			}
		})
	}
}

func TestCheckDrawdownClearsWithoutHysteresis(t *testing.T) {
	g := newTestGate(t)
	st := account.NewState(10000)

	st.ApplyTrade(-2000) // 20% drawdown
	_, paused, _ := g.CheckDrawdown(context.Background(), st)
	if !paused {
		t.Fatal("expected trading paused at 20% drawdown")
	}

	st.ApplyTrade(1500) // back to 5% drawdown
	noNew, paused, _ := g.CheckDrawdown(context.Background(), st)
	if noNew || paused {
		t.Errorf("flags = (%v, %v), want both clear after recovery", noNew, paused)
	}
}

func TestCanOpenDenialReasons(t *testing.T) {
	g := newTestGate(t)

	base := account.Snapshot{Capital: 10000, PeakCapital: 10000}

	t.Run("allowed on clean account", func(t *testing.T) {
		ok, reason := g.CanOpen(base, "BTCUSDT", nil)
		if !ok || reason != "" {
			t.Errorf("CanOpen = (%v, %q), want allowed", ok, reason)
		}
	})

	t.Run("paused", func(t *testing.T) {
		snap := base
		snap.TradingPaused = true
		if ok, _ := g.CanOpen(snap, "BTCUSDT", nil); ok {
			t.Error("expected denial while paused")
		}
	})

	t.Run("no new positions", func(t *testing.T) {
		snap := base
		snap.NoNewPositions = true
		if ok, _ := g.CanOpen(snap, "BTCUSDT", nil); ok {
			t.Error("expected denial while new positions blocked")
		}
	})

	t.Run("daily trade limit", func(t *testing.T) {
		snap := base
		snap.DailyTradeCount = 20
		if ok, _ := g.CanOpen(snap, "BTCUSDT", nil); ok {
			t.Error("expected denial at daily trade limit")
		}
	})

	t.Run("daily loss limit", func(t *testing.T) {
		snap := base
		snap.DailyPnl = -500 // 5% of capital
		if ok, _ := g.CanOpen(snap, "BTCUSDT", nil); ok {
			t.Error("expected denial at daily loss limit")
		}
	})

	t.Run("duplicate symbol", func(t *testing.T) {
		open := []*domain.Position{{
			ID: "p1", Symbol: "BTCUSDT", Side: domain.SideLong, Status: domain.StatusOpen,
			EntryPrice: 50000, Quantity: 0.01, Leverage: 5, EntryTime: time.Now(),
		}}
		if ok, _ := g.CanOpen(base, "BTCUSDT", open); ok {
			t.Error("expected denial with an open position on the same symbol")
		}
		if ok, _ := g.CanOpen(base, "ETHUSDT", open); !ok {
			t.Error("expected other symbols to remain admissible")
		}
	})
}

func TestSizePosition(t *testing.T) {
	g := newTestGate(t)
	cfg := DefaultConfig()

	if got := g.SizePosition(cfg.MinConfidence); got != cfg.MinPositionSizePct {
		t.Errorf("size at min confidence = %v, want %v", got, cfg.MinPositionSizePct)
	}
	if got := g.SizePosition(1.0); got != cfg.MaxPositionSizePct {
		t.Errorf("size at full confidence = %v, want %v", got, cfg.MaxPositionSizePct)
	}
	if got := g.SizePosition(0.1); got != cfg.MinPositionSizePct {
		t.Errorf("size below min confidence = %v, want clamp to %v", got, cfg.MinPositionSizePct)
	}
	if got := g.SizePosition(2.0); got != cfg.MaxPositionSizePct {
		t.Errorf("size above 1.0 confidence = %v, want clamp to %v", got, cfg.MaxPositionSizePct)
	}

	// Monotonic between the endpoints.
	prev := g.SizePosition(cfg.MinConfidence)
	for c := cfg.MinConfidence + 0.05; c <= 1.0; c += 0.05 {
		cur := g.SizePosition(c)
		if cur < prev {
			t.Fatalf("sizing not monotonic: size(%.2f)=%v < size(%.2f)=%v", c, cur, c-0.05, prev)
		}
		prev = cur
	}
}
