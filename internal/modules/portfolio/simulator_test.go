package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
	"github.com/321barney/ai-trader-ts-sub000/pkg/logger"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSimulator(capital float64) *Simulator {
	log := logger.New(logger.Config{Level: "error"})
	return NewSimulator("session-1", capital, 0, log)
}

func TestBuyThenSellRoundTrip(t *testing.T) {
	sim := newTestSimulator(10000)

	// BUY 1 @ 100
	result := sim.ExecuteTrade("SYM", domain.SideBuy, 1, 100, testTime, "")
	require.True(t, result.Accepted)
	assert.Equal(t, 9900.0, sim.Cash())

	pos, ok := sim.Position("SYM")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.EntryPrice)

	// Mark to 110
	equity := sim.MarkToMarket(map[string]float64{"SYM": 110})
	assert.InDelta(t, 10010.0, equity, 1e-9)

	pos, _ = sim.Position("SYM")
	assert.InDelta(t, 10.0, pos.UnrealizedPnL, 1e-9)

	// SELL 1 @ 110
	result = sim.ExecuteTrade("SYM", domain.SideSell, 1, 110, testTime, "")
	require.True(t, result.Accepted)
	assert.InDelta(t, 10010.0, sim.Cash(), 1e-9)
	assert.InDelta(t, 10.0, sim.RealizedPnL(), 1e-9)
	assert.Equal(t, 1, sim.WinningTrades())

	_, ok = sim.Position("SYM")
	assert.False(t, ok, "position should be removed after full close")
}

func TestBuyAveragesEntryPrice(t *testing.T) {
	sim := newTestSimulator(10000)

	require.True(t, sim.ExecuteTrade("SYM", domain.SideBuy, 2, 50, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("SYM", domain.SideBuy, 3, 60, testTime, "").Accepted)

	pos, ok := sim.Position("SYM")
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Quantity)
	assert.InDelta(t, 56.0, pos.EntryPrice, 1e-9) // (2*50 + 3*60) / 5
}

func TestInsufficientFunds(t *testing.T) {
	sim := newTestSimulator(100)

	result := sim.ExecuteTrade("SYM", domain.SideBuy, 2, 60, testTime, "")
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonInsufficientFunds, result.Reason)
	assert.NotEmpty(t, result.Message)

	// Rejection leaves state untouched
	assert.Equal(t, 100.0, sim.Cash())
	assert.Empty(t, sim.Trades())
}

func TestInsufficientPosition(t *testing.T) {
	sim := newTestSimulator(10000)

	// No position at all
	result := sim.ExecuteTrade("SYM", domain.SideSell, 1, 100, testTime, "")
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonInsufficientPosition, result.Reason)

	// Held quantity smaller than requested
	require.True(t, sim.ExecuteTrade("SYM", domain.SideBuy, 1, 100, testTime, "").Accepted)
	result = sim.ExecuteTrade("SYM", domain.SideSell, 2, 100, testTime, "")
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonInsufficientPosition, result.Reason)

	pos, ok := sim.Position("SYM")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestInvalidOrder(t *testing.T) {
	sim := newTestSimulator(10000)

	assert.Equal(t, ReasonInvalidOrder, sim.ExecuteTrade("SYM", domain.SideBuy, 0, 100, testTime, "").Reason)
	assert.Equal(t, ReasonInvalidOrder, sim.ExecuteTrade("SYM", domain.SideBuy, 1, -5, testTime, "").Reason)
	assert.Equal(t, ReasonInvalidOrder, sim.ExecuteTrade("SYM", "SHRUG", 1, 100, testTime, "").Reason)
}

func TestCashConservation(t *testing.T) {
	sim := newTestSimulator(10000)

	// A sequence of trades that ends with no open positions
	require.True(t, sim.ExecuteTrade("AAA", domain.SideBuy, 3, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("BBB", domain.SideBuy, 2, 250, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("AAA", domain.SideSell, 1, 110, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("AAA", domain.SideSell, 2, 95, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("BBB", domain.SideSell, 2, 240, testTime, "").Accepted)

	assert.Empty(t, sim.Positions())
	assert.InDelta(t, 10000+sim.RealizedPnL(), sim.Cash(), 1e-9,
		"with no open positions, cash must equal initial capital plus realized P&L")
}

func TestWinLossCounters(t *testing.T) {
	sim := newTestSimulator(10000)

	require.True(t, sim.ExecuteTrade("AAA", domain.SideBuy, 1, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("AAA", domain.SideSell, 1, 110, testTime, "").Accepted) // win
	require.True(t, sim.ExecuteTrade("BBB", domain.SideBuy, 1, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("BBB", domain.SideSell, 1, 90, testTime, "").Accepted) // loss
	require.True(t, sim.ExecuteTrade("CCC", domain.SideBuy, 1, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("CCC", domain.SideSell, 1, 100, testTime, "").Accepted) // flat

	assert.Equal(t, 1, sim.WinningTrades())
	assert.Equal(t, 1, sim.LosingTrades())
	assert.Len(t, sim.Trades(), 6, "buys never touch the win/loss counters")
}

func TestDrawdownTracking(t *testing.T) {
	sim := newTestSimulator(10000)
	require.True(t, sim.ExecuteTrade("SYM", domain.SideBuy, 100, 100, testTime, "").Accepted)

	marks := []struct {
		price       float64
		wantHWM     float64
		wantMaxDD   float64
	}{
		{110, 11000, 0},
		{100, 11000, 1000.0 / 11000},
		{120, 12000, 1000.0 / 11000}, // recovery must not reset max drawdown
		{90, 12000, 3000.0 / 12000},
	}

	prevHWM, prevDD := 0.0, 0.0
	for _, m := range marks {
		sim.MarkToMarket(map[string]float64{"SYM": m.price})

		assert.InDelta(t, m.wantHWM, sim.HighWaterMark(), 1e-9)
		assert.InDelta(t, m.wantMaxDD, sim.MaxDrawdown(), 1e-9)

		// Monotonicity
		assert.GreaterOrEqual(t, sim.HighWaterMark(), prevHWM)
		assert.GreaterOrEqual(t, sim.MaxDrawdown(), prevDD)
		prevHWM, prevDD = sim.HighWaterMark(), sim.MaxDrawdown()
	}
}

func TestMarkToMarketKeepsStalePrices(t *testing.T) {
	sim := newTestSimulator(10000)
	require.True(t, sim.ExecuteTrade("AAA", domain.SideBuy, 1, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("BBB", domain.SideBuy, 1, 100, testTime, "").Accepted)

	// Only AAA has a fresh mark; BBB keeps its last price
	equity := sim.MarkToMarket(map[string]float64{"AAA": 120})
	assert.InDelta(t, 9800+120+100, equity, 1e-9)
}

func TestCloseAll(t *testing.T) {
	sim := newTestSimulator(10000)
	require.True(t, sim.ExecuteTrade("AAA", domain.SideBuy, 2, 100, testTime, "").Accepted)
	require.True(t, sim.ExecuteTrade("BBB", domain.SideBuy, 1, 200, testTime, "").Accepted)

	closed := sim.CloseAll(map[string]float64{"AAA": 110, "BBB": 190}, testTime, "session stopped")

	require.Len(t, closed, 2)
	assert.Empty(t, sim.Positions())
	// 2*(110-100) + 1*(190-200) = +10
	assert.InDelta(t, 10.0, sim.RealizedPnL(), 1e-9)
	assert.InDelta(t, 10010.0, sim.Cash(), 1e-9)
	assert.InDelta(t, sim.Cash(), sim.Equity(), 1e-9)

	for _, trade := range closed {
		assert.Equal(t, domain.SideSell, trade.Side)
		assert.Equal(t, "session stopped", trade.Reasoning)
	}
}

func TestCommission(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	sim := NewSimulator("session-1", 10000, 0.001, log)

	result := sim.ExecuteTrade("SYM", domain.SideBuy, 10, 100, testTime, "")
	require.True(t, result.Accepted)
	assert.InDelta(t, 10000-1000-1, sim.Cash(), 1e-9)
	assert.InDelta(t, 1.0, result.Trade.Commission, 1e-9)

	result = sim.ExecuteTrade("SYM", domain.SideSell, 10, 100, testTime, "")
	require.True(t, result.Accepted)
	assert.InDelta(t, 10000-2, sim.Cash(), 1e-9, "both fills pay commission")
	assert.InDelta(t, 0.0, sim.RealizedPnL(), 1e-9, "realized P&L is gross of commission")
}

func TestCommission_BlocksBuyAtCashLimit(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	sim := NewSimulator("session-1", 1000, 0.001, log)

	// Notional exactly equals cash, but commission pushes it over
	result := sim.ExecuteTrade("SYM", domain.SideBuy, 10, 100, testTime, "")
	assert.False(t, result.Accepted)
	assert.Equal(t, ReasonInsufficientFunds, result.Reason)
}

func TestSnapshotRestore(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	sim := newTestSimulator(10000)

	require.True(t, sim.ExecuteTrade("AAA", domain.SideBuy, 2, 100, testTime, "entry").Accepted)
	sim.MarkToMarket(map[string]float64{"AAA": 90})

	state := sim.Snapshot()
	restored := Restore("session-1", 10000, 0, state, sim.Trades(), log)

	assert.Equal(t, sim.Cash(), restored.Cash())
	assert.Equal(t, sim.Equity(), restored.Equity())
	assert.Equal(t, sim.HighWaterMark(), restored.HighWaterMark())
	assert.Equal(t, sim.MaxDrawdown(), restored.MaxDrawdown())
	assert.Equal(t, sim.Positions(), restored.Positions())
	assert.Equal(t, sim.Trades(), restored.Trades())

	// The restored simulator keeps working
	result := restored.ExecuteTrade("AAA", domain.SideSell, 2, 95, testTime, "")
	require.True(t, result.Accepted)
	assert.InDelta(t, -10.0, restored.RealizedPnL(), 1e-9)
}
