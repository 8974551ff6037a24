package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
)

// Simulator maintains simulated cash and positions for one replay session
// and executes buy/sell intents against them. It is not safe for concurrent
// use; the owning session serializes access.
//
// Accounting invariants:
//   - cash never goes negative (buys beyond available cash are rejected)
//   - equity = cash + Σ quantity × current price over open positions
//   - the high-water mark and max drawdown only ever ratchet up
type Simulator struct {
	sessionID      string
	cash           float64
	initialCapital float64
	commissionRate float64

	positions map[string]*Position

	realizedPnL   float64
	equity        float64
	highWaterMark float64
	maxDrawdown   float64

	winningTrades int
	losingTrades  int

	trades []Trade

	log zerolog.Logger
}

// NewSimulator creates a simulator with the given starting capital.
// commissionRate is the proportional fee charged per fill (0.001 = 0.1%).
func NewSimulator(sessionID string, initialCapital, commissionRate float64, log zerolog.Logger) *Simulator {
	return &Simulator{
		sessionID:      sessionID,
		cash:           initialCapital,
		initialCapital: initialCapital,
		commissionRate: commissionRate,
		positions:      make(map[string]*Position),
		equity:         initialCapital,
		highWaterMark:  initialCapital,
		log:            log.With().Str("component", "portfolio").Str("session_id", sessionID).Logger(),
	}
}

// Restore rebuilds a simulator from a persisted checkpoint.
func Restore(sessionID string, initialCapital, commissionRate float64, state State, trades []Trade, log zerolog.Logger) *Simulator {
	s := NewSimulator(sessionID, initialCapital, commissionRate, log)
	s.cash = state.Cash
	s.equity = state.Equity
	s.realizedPnL = state.RealizedPnL
	s.highWaterMark = state.HighWaterMark
	s.maxDrawdown = state.MaxDrawdown
	s.winningTrades = state.WinningTrades
	s.losingTrades = state.LosingTrades
	for _, p := range state.Positions {
		pos := p
		s.positions[p.Symbol] = &pos
	}
	s.trades = append(s.trades, trades...)
	return s
}

// ExecuteTrade attempts to fill a buy or sell intent at the given price.
// Rejections leave all state untouched.
func (s *Simulator) ExecuteTrade(symbol string, side domain.Side, quantity, price float64, at time.Time, reasoning string) ExecutionResult {
	if !side.Valid() || quantity <= 0 || price <= 0 {
		return ExecutionResult{
			Accepted: false,
			Reason:   ReasonInvalidOrder,
			Message:  fmt.Sprintf("invalid order: side=%s quantity=%v price=%v", side, quantity, price),
		}
	}

	switch side {
	case domain.SideBuy:
		return s.executeBuy(symbol, quantity, price, at, reasoning)
	default:
		return s.executeSell(symbol, quantity, price, at, reasoning)
	}
}

func (s *Simulator) executeBuy(symbol string, quantity, price float64, at time.Time, reasoning string) ExecutionResult {
	notional := quantity * price
	commission := notional * s.commissionRate
	cost := notional + commission

	if cost > s.cash {
		return ExecutionResult{
			Accepted: false,
			Reason:   ReasonInsufficientFunds,
			Message: fmt.Sprintf("buy %v %s at %v requires %.2f, only %.2f available",
				quantity, symbol, price, cost, s.cash),
		}
	}

	s.cash -= cost

	if pos, ok := s.positions[symbol]; ok {
		// Extend the position at a volume-weighted entry price
		newQty := pos.Quantity + quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*quantity) / newQty
		pos.Quantity = newQty
		pos.MarkTo(price)
	} else {
		pos := &Position{Symbol: symbol, Quantity: quantity, EntryPrice: price}
		pos.MarkTo(price)
		s.positions[symbol] = pos
	}

	trade := s.record(symbol, domain.SideBuy, quantity, price, commission, 0, at, reasoning)

	s.log.Debug().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("cash", s.cash).
		Msg("Buy executed")

	return ExecutionResult{Accepted: true, Trade: trade}
}

func (s *Simulator) executeSell(symbol string, quantity, price float64, at time.Time, reasoning string) ExecutionResult {
	pos, ok := s.positions[symbol]
	if !ok || pos.Quantity < quantity {
		held := 0.0
		if ok {
			held = pos.Quantity
		}
		return ExecutionResult{
			Accepted: false,
			Reason:   ReasonInsufficientPosition,
			Message: fmt.Sprintf("sell %v %s requested, %v held",
				quantity, symbol, held),
		}
	}

	notional := quantity * price
	commission := notional * s.commissionRate
	realized := (price - pos.EntryPrice) * quantity

	s.cash += notional - commission
	s.realizedPnL += realized

	if realized > 0 {
		s.winningTrades++
	} else if realized < 0 {
		s.losingTrades++
	}

	pos.Quantity -= quantity
	if pos.Quantity == 0 {
		delete(s.positions, symbol)
	} else {
		pos.MarkTo(price)
	}

	trade := s.record(symbol, domain.SideSell, quantity, price, commission, realized, at, reasoning)

	s.log.Debug().
		Str("symbol", symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("realized_pnl", realized).
		Msg("Sell executed")

	return ExecutionResult{Accepted: true, Trade: trade}
}

// MarkToMarket re-prices every open position from the supplied marks and
// updates equity, the high-water mark and max drawdown. It must run on every
// time step, not only on trades: drawdown is a path property of equity over
// time. Symbols absent from the marks keep their previous price.
func (s *Simulator) MarkToMarket(priceBySymbol map[string]float64) float64 {
	equity := s.cash

	for _, symbol := range s.symbolsInOrder() {
		pos := s.positions[symbol]
		if price, ok := priceBySymbol[symbol]; ok {
			pos.MarkTo(price)
		}
		equity += pos.Quantity * pos.CurrentPrice
	}

	s.equity = equity

	if equity > s.highWaterMark {
		s.highWaterMark = equity
	}
	if s.highWaterMark > 0 {
		drawdown := (s.highWaterMark - equity) / s.highWaterMark
		if drawdown > s.maxDrawdown {
			s.maxDrawdown = drawdown
		}
	}

	return equity
}

// CloseAll force-closes every open position at the supplied marks, producing
// one trade per position. Used when a session is stopped before reaching its
// end date. Positions without a supplied mark close at their last mark.
func (s *Simulator) CloseAll(priceBySymbol map[string]float64, at time.Time, reasoning string) []Trade {
	var closed []Trade

	for _, symbol := range s.symbolsInOrder() {
		pos := s.positions[symbol]

		price := pos.CurrentPrice
		if p, ok := priceBySymbol[symbol]; ok {
			price = p
		}

		result := s.executeSell(symbol, pos.Quantity, price, at, reasoning)
		if result.Accepted && result.Trade != nil {
			closed = append(closed, *result.Trade)
		}
	}

	if len(closed) > 0 {
		s.MarkToMarket(priceBySymbol)
	}

	return closed
}

func (s *Simulator) record(symbol string, side domain.Side, quantity, price, commission, realized float64, at time.Time, reasoning string) *Trade {
	trade := Trade{
		ID:          uuid.New().String(),
		SessionID:   s.sessionID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Commission:  commission,
		RealizedPnL: realized,
		ExecutedAt:  at,
		Reasoning:   reasoning,
	}
	s.trades = append(s.trades, trade)
	return &trade
}

// symbolsInOrder returns open position symbols sorted for deterministic
// iteration.
func (s *Simulator) symbolsInOrder() []string {
	symbols := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Accessors

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 { return s.cash }

// Equity returns cash plus the marked value of open positions.
func (s *Simulator) Equity() float64 { return s.equity }

// RealizedPnL returns the running total of realized profit and loss.
func (s *Simulator) RealizedPnL() float64 { return s.realizedPnL }

// HighWaterMark returns the peak equity observed so far.
func (s *Simulator) HighWaterMark() float64 { return s.highWaterMark }

// MaxDrawdown returns the largest peak-to-trough equity decline observed.
func (s *Simulator) MaxDrawdown() float64 { return s.maxDrawdown }

// InitialCapital returns the configured starting capital.
func (s *Simulator) InitialCapital() float64 { return s.initialCapital }

// WinningTrades returns the count of closing fills with positive realized P&L.
func (s *Simulator) WinningTrades() int { return s.winningTrades }

// LosingTrades returns the count of closing fills with negative realized P&L.
func (s *Simulator) LosingTrades() int { return s.losingTrades }

// Position returns the open position for a symbol, if any.
func (s *Simulator) Position(symbol string) (Position, bool) {
	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns all open positions ordered by symbol.
func (s *Simulator) Positions() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, symbol := range s.symbolsInOrder() {
		out = append(out, *s.positions[symbol])
	}
	return out
}

// Trades returns the append-only trade log.
func (s *Simulator) Trades() []Trade {
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Snapshot captures the simulator state for persistence.
func (s *Simulator) Snapshot() State {
	return State{
		Cash:          s.cash,
		Equity:        s.equity,
		RealizedPnL:   s.realizedPnL,
		HighWaterMark: s.highWaterMark,
		MaxDrawdown:   s.maxDrawdown,
		WinningTrades: s.winningTrades,
		LosingTrades:  s.losingTrades,
		TotalTrades:   len(s.trades),
		Positions:     s.Positions(),
	}
}
