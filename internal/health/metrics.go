package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics published by the supervisor on every aggregation tick.

var capitalGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "account",
		Name:      "capital",
		Help:      "Current account capital in quote currency",
	},
)

var peakCapitalGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "account",
		Name:      "peak_capital",
		Help:      "Peak account capital since start or last reset",
	},
)

var drawdownGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "account",
		Name:      "drawdown_ratio",
		Help:      "Fractional drawdown from peak capital",
	},
)

var dailyPnlGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "account",
		Name:      "daily_pnl",
		Help:      "Realized PnL booked since the last UTC daily reset",
	},
)

var dailyTradesGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "account",
		Name:      "daily_trades",
		Help:      "Positions opened since the last UTC daily reset",
	},
)

var openPositionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "engine",
		Name:      "open_positions",
		Help:      "Number of currently open positions",
	},
)

var slowCyclesGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "engine",
		Name:      "slow_cycles_total",
		Help:      "Signal collection cycles run since start",
	},
)

var fastCyclesGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "engine",
		Name:      "fast_cycles_total",
		Help:      "Exit monitoring cycles run since start",
	},
)

var engineStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "engine",
		Name:      "state",
		Help:      "Engine lifecycle state (1 for the active state, 0 otherwise)",
	},
	[]string{"state"},
)

var consecutiveErrorsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "recovery",
		Name:      "consecutive_errors",
		Help:      "Current run of consecutive collaborator errors",
	},
)

var errorRateGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "recovery",
		Name:      "error_rate_per_hour",
		Help:      "Errors per hour over the recovery window",
	},
)

var errorsByCategoryGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "recovery",
		Name:      "errors_total",
		Help:      "Errors recorded since start by category",
	},
	[]string{"category"},
)

var exitsByReasonGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "exits",
		Name:      "total",
		Help:      "Closed positions since start by exit reason",
	},
	[]string{"reason"},
)

var exitPnlGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autopilot",
		Subsystem: "exits",
		Name:      "realized_pnl",
		Help:      "Total realized PnL across recorded exits",
	},
)
