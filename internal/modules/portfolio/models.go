package portfolio

import (
	"time"

	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
)

// Position represents an open position in one symbol. Quantity is signed:
// positive for long, negative for short. The trade API currently only opens
// longs, but the mark-to-market math is direction-agnostic.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"` // volume-weighted average
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// MarkTo updates the position's mark price and unrealized P&L.
func (p *Position) MarkTo(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
}

// Trade is an immutable record of one executed fill.
type Trade struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	Symbol      string      `json:"symbol"`
	Side        domain.Side `json:"side"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	Commission  float64     `json:"commission"`
	RealizedPnL float64     `json:"realized_pnl"` // set on closing fills only
	ExecutedAt  time.Time   `json:"executed_at"`  // simulated time, not wall clock
	Reasoning   string      `json:"reasoning,omitempty"`
}

// RejectReason explains why a trade intent was not executed
type RejectReason string

const (
	ReasonInsufficientFunds    RejectReason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientPosition RejectReason = "INSUFFICIENT_POSITION"
	ReasonInvalidOrder         RejectReason = "INVALID_ORDER"
)

// ExecutionResult is the structured outcome of an execution attempt.
// Rejections are ordinary results, never errors: the session keeps running
// and the caller decides whether to retry with an adjusted size.
type ExecutionResult struct {
	Accepted bool         `json:"accepted"`
	Trade    *Trade       `json:"trade,omitempty"`
	Reason   RejectReason `json:"reason,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// State is a serializable snapshot of simulator state, used for
// persistence checkpoints and crash recovery.
type State struct {
	Cash          float64    `json:"cash"`
	Equity        float64    `json:"equity"`
	RealizedPnL   float64    `json:"realized_pnl"`
	HighWaterMark float64    `json:"high_water_mark"`
	MaxDrawdown   float64    `json:"max_drawdown"`
	WinningTrades int        `json:"winning_trades"`
	LosingTrades  int        `json:"losing_trades"`
	TotalTrades   int        `json:"total_trades"`
	Positions     []Position `json:"positions"`
}
