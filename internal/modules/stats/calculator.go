package stats

import (
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
	"github.com/321barney/ai-trader-ts-sub000/pkg/formulas"
)

// Summary is the aggregate performance view of a session, derived from its
// portfolio state and per-step equity curve.
type Summary struct {
	InitialCapital float64  `json:"initial_capital"`
	FinalEquity    float64  `json:"final_equity"`
	TotalReturn    float64  `json:"total_return"` // (final - initial) / initial
	TotalTrades    int      `json:"total_trades"`
	WinningTrades  int      `json:"winning_trades"`
	LosingTrades   int      `json:"losing_trades"`
	WinRate        float64  `json:"win_rate"`
	MaxDrawdown    float64  `json:"max_drawdown"`
	HighWaterMark  float64  `json:"high_water_mark"`
	RealizedPnL    float64  `json:"realized_pnl"`
	SharpeRatio    *float64 `json:"sharpe_ratio"` // nil when too few steps to compute
}

// Summarize derives performance metrics for a session.
//
// Max drawdown is read from the tracked high-water-mark state, not
// recomputed from history. The Sharpe ratio is computed from the actual
// per-step equity return series, annualized by the step frequency;
// periodsPerYear comes from the session's granularity.
func Summarize(initialCapital float64, state portfolio.State, equityCurve []float64, periodsPerYear int) Summary {
	summary := Summary{
		InitialCapital: initialCapital,
		FinalEquity:    state.Equity,
		TotalTrades:    state.TotalTrades,
		WinningTrades:  state.WinningTrades,
		LosingTrades:   state.LosingTrades,
		MaxDrawdown:    state.MaxDrawdown,
		HighWaterMark:  state.HighWaterMark,
		RealizedPnL:    state.RealizedPnL,
		SharpeRatio:    formulas.SharpeFromEquity(equityCurve, 0, periodsPerYear),
	}

	if initialCapital > 0 {
		summary.TotalReturn = (state.Equity - initialCapital) / initialCapital
	}

	// Win/loss counters only move on closing fills, so opening buys dilute
	// the rate until they are closed out.
	if state.TotalTrades > 0 {
		summary.WinRate = float64(state.WinningTrades) / float64(state.TotalTrades)
	}

	return summary
}

// AuditDrawdown independently recomputes drawdown metrics by re-scanning the
// equity curve. Intended for consistency checks against the incrementally
// tracked value, not for the hot path.
func AuditDrawdown(equityCurve []float64) *formulas.DrawdownMetrics {
	return formulas.DrawdownFromEquity(equityCurve)
}
