package formulas

// DrawdownMetrics represents drawdown analysis over an equity curve
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // Largest peak-to-trough decline (0.25 = 25%)
	CurrentDrawdown float64 `json:"current_drawdown"` // Decline from peak at the end of the series
	PeakValue       float64 `json:"peak_value"`       // Highest value observed
	StepsInDrawdown int     `json:"steps_in_drawdown"`
}

// MaxDrawdown calculates the maximum peak-to-trough percentage decline of a
// value series. Used for audit recomputation; live sessions track drawdown
// incrementally against the high-water mark instead of re-scanning history.
//
// Drawdown Formula:
//
//	Drawdown = (Peak Value - Current Value) / Peak Value
//	Max Drawdown = Maximum of all drawdowns
func MaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// DrawdownFromEquity calculates full drawdown metrics for an equity curve.
func DrawdownFromEquity(values []float64) *DrawdownMetrics {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]
	peakIndex := 0

	for i, v := range values {
		if v > peak {
			peak = v
			peakIndex = i
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	current := 0.0
	if peak > 0 {
		current = (peak - values[len(values)-1]) / peak
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: current,
		PeakValue:       peak,
		StepsInDrawdown: len(values) - 1 - peakIndex,
	}
}
