package formulas

import (
	"math"
)

// SharpeRatio calculates the annualized Sharpe ratio from a series of
// periodic returns.
//
// Sharpe Ratio Formula:
//
//	Sharpe = (Mean Periodic Return - Periodic Risk-free Rate) / StdDev of Returns
//	Annualized: Sharpe × sqrt(periodsPerYear)
//
// Args:
//
//	returns: periodic return series (per step, per day, ...)
//	riskFreeRate: annual risk-free rate as a decimal (0.02 for 2%)
//	periodsPerYear: periods per year (365 for daily crypto, 8760 for hourly)
//
// Returns nil when there are fewer than two returns or the deviation is zero,
// in which case no meaningful ratio exists.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	meanReturn := Mean(returns)

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)

	sharpe := (meanReturn - periodicRiskFree) / stdDev
	annualized := sharpe * math.Sqrt(float64(periodsPerYear))

	return &annualized
}

// SharpeFromEquity is a convenience wrapper that derives the return series
// from an equity curve before computing the Sharpe ratio.
func SharpeFromEquity(equity []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(equity) < 2 {
		return nil
	}
	return SharpeRatio(Returns(equity), riskFreeRate, periodsPerYear)
}
