package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/indicators"
)

func TestThresholdStrategy_BuysOnOversoldConsensus(t *testing.T) {
	s := NewThresholdStrategy()

	intent, err := s.Decide(Context{
		Symbol: "BTC",
		Cash:   10000,
		Indicators: indicators.Snapshot{
			Close:             100,
			RSI:               25,
			BollingerPosition: 0.1,
			Bars:              40,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ActionBuy, intent.Action)
	assert.InDelta(t, 25.0, intent.Quantity, 1e-9) // 25% of cash at price 100
	assert.Contains(t, intent.Reasoning, "RSI oversold")
}

func TestThresholdStrategy_SellsOnOverboughtConsensus(t *testing.T) {
	s := NewThresholdStrategy()

	intent, err := s.Decide(Context{
		Symbol: "BTC",
		Held:   3,
		Indicators: indicators.Snapshot{
			Close:             100,
			RSI:               75,
			BollingerPosition: 0.9,
			Bars:              40,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ActionSell, intent.Action)
	assert.Equal(t, 3.0, intent.Quantity, "sells the full position")
}

func TestThresholdStrategy_SingleSignalHolds(t *testing.T) {
	s := NewThresholdStrategy()

	intent, err := s.Decide(Context{
		Symbol: "BTC",
		Cash:   10000,
		Indicators: indicators.Snapshot{
			Close:             100,
			RSI:               25, // oversold, but nothing else agrees
			BollingerPosition: 0.5,
			Bars:              40,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, intent.Action)
}

func TestThresholdStrategy_NoPyramiding(t *testing.T) {
	s := NewThresholdStrategy()

	intent, err := s.Decide(Context{
		Symbol: "BTC",
		Cash:   10000,
		Held:   5, // already long
		Indicators: indicators.Snapshot{
			Close:             100,
			RSI:               25,
			BollingerPosition: 0.1,
			Bars:              40,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, intent.Action)
}

func TestThresholdStrategy_InsufficientHistoryHolds(t *testing.T) {
	s := NewThresholdStrategy()

	intent, err := s.Decide(Context{Symbol: "BTC", Indicators: indicators.Snapshot{Bars: 1, Close: 100}})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, intent.Action)
}

func TestHoldStrategy(t *testing.T) {
	s := NewHoldStrategy()

	intent, err := s.Decide(Context{Symbol: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, intent.Action)
	assert.Equal(t, "hold", s.Name())
}

func TestActionSide(t *testing.T) {
	assert.Equal(t, "BUY", string(ActionBuy.Side()))
	assert.Equal(t, "SELL", string(ActionSell.Side()))
}
