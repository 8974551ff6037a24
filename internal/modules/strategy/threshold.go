package strategy

import (
	"fmt"
	"strings"
)

// Threshold trading levels. Entries open when momentum indicators agree the
// market is oversold, exits trigger on the overbought mirror image.
const (
	oversoldRSI   = 30.0
	overboughtRSI = 70.0

	lowerBandZone = 0.2
	upperBandZone = 0.8

	// Fraction of available cash committed per entry
	entryCashFraction = 0.25
)

// ThresholdStrategy is the built-in decision function: a mean-reversion rule
// over RSI, MACD histogram and Bollinger position. It exists so sessions are
// runnable without an external agent and as a deterministic fixture for
// engine tests.
type ThresholdStrategy struct{}

// NewThresholdStrategy creates the default built-in strategy
func NewThresholdStrategy() *ThresholdStrategy {
	return &ThresholdStrategy{}
}

// Name returns the strategy identifier
func (s *ThresholdStrategy) Name() string { return "threshold" }

// Decide opens a position on oversold readings and closes it on overbought
// readings. It never pyramids: an existing position blocks further entries.
func (s *ThresholdStrategy) Decide(ctx Context) (Intent, error) {
	ind := ctx.Indicators

	if ind.Bars < 2 || ind.Close <= 0 {
		return Hold("insufficient history"), nil
	}

	var buySignals, sellSignals []string

	if ind.RSI <= oversoldRSI {
		buySignals = append(buySignals, fmt.Sprintf("RSI oversold (%.1f)", ind.RSI))
	} else if ind.RSI >= overboughtRSI {
		sellSignals = append(sellSignals, fmt.Sprintf("RSI overbought (%.1f)", ind.RSI))
	}

	if ind.BollingerPosition <= lowerBandZone {
		buySignals = append(buySignals, "price at lower Bollinger band")
	} else if ind.BollingerPosition >= upperBandZone {
		sellSignals = append(sellSignals, "price at upper Bollinger band")
	}

	if ind.MACD.Histogram > 0 {
		buySignals = append(buySignals, "MACD histogram positive")
	} else if ind.MACD.Histogram < 0 {
		sellSignals = append(sellSignals, "MACD histogram negative")
	}

	// Two agreeing signals make a trade; one is noise.
	if ctx.Held > 0 && len(sellSignals) >= 2 {
		return Intent{
			Action:    ActionSell,
			Quantity:  ctx.Held,
			Reasoning: strings.Join(sellSignals, "; "),
		}, nil
	}

	if ctx.Held == 0 && len(buySignals) >= 2 {
		quantity := ctx.Cash * entryCashFraction / ind.Close
		if quantity <= 0 {
			return Hold("no cash available"), nil
		}
		return Intent{
			Action:    ActionBuy,
			Quantity:  quantity,
			Reasoning: strings.Join(buySignals, "; "),
		}, nil
	}

	return Hold("no consensus"), nil
}

// HoldStrategy never trades. Useful for replaying pure market exposure and
// as a strategy-layer stub in tests.
type HoldStrategy struct{}

// NewHoldStrategy creates a strategy that always holds
func NewHoldStrategy() *HoldStrategy { return &HoldStrategy{} }

// Name returns the strategy identifier
func (s *HoldStrategy) Name() string { return "hold" }

// Decide always returns a hold intent
func (s *HoldStrategy) Decide(ctx Context) (Intent, error) {
	return Hold(""), nil
}
