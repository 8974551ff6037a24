package strategy

import (
	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/indicators"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
)

// Action is what a decision function wants to do with a symbol this tick
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Side converts a trading action to an order side. Only valid for non-HOLD.
func (a Action) Side() domain.Side {
	if a == ActionSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

// Intent is a decision function's order request for one symbol. Quantity is
// in units of the asset; the reasoning string is carried onto the resulting
// trade record for later inspection.
type Intent struct {
	Action    Action  `json:"action"`
	Quantity  float64 `json:"quantity"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Hold is the no-op intent.
func Hold(reason string) Intent {
	return Intent{Action: ActionHold, Reasoning: reason}
}

// Context is the causal market view a decision function receives each tick.
// Everything in it was obtained through the session's temporal gate.
type Context struct {
	Symbol     string
	Candle     marketdata.Candle
	History    marketdata.Series
	Indicators indicators.Snapshot
	Cash       float64
	Equity     float64
	Held       float64 // open position quantity in Symbol, 0 if flat
}

// Decision is the pluggable strategy layer: one call per symbol per tick.
// Implementations may fail; the session driver treats an error as "skip this
// symbol for this tick" and never lets it corrupt portfolio state.
type Decision interface {
	Decide(ctx Context) (Intent, error)
	Name() string
}
