package indicators

import (
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
)

// Snapshot is the full indicator state derived from one symbol's causal
// history window. It is what the decision function sees each tick; all
// values are deterministic functions of the input series.
type Snapshot struct {
	Close             float64    `json:"close"`
	PriceChange       float64    `json:"price_change"`
	RSI               float64    `json:"rsi"`
	MACD              MACDResult `json:"macd"`
	Bollinger         Bands      `json:"bollinger"`
	BollingerPosition float64    `json:"bollinger_position"`
	ATR               float64    `json:"atr"`
	VolumeRatio       float64    `json:"volume_ratio"`
	Levels            []Level    `json:"levels,omitempty"`
	Bars              int        `json:"bars"`
}

// Compute derives a snapshot from a candle series, oldest first. The series
// must come from a temporal gate so the snapshot only reflects data the
// session is allowed to see. An empty series yields the zero snapshot.
func Compute(series marketdata.Series) Snapshot {
	if len(series) == 0 {
		return Snapshot{RSI: 50, BollingerPosition: 0.5, VolumeRatio: 1}
	}

	closes := series.Closes()
	volumes := series.Volumes()

	return Snapshot{
		Close:             closes[len(closes)-1],
		PriceChange:       PriceChange(closes),
		RSI:               RSI(closes, RSIPeriod),
		MACD:              MACD(closes),
		Bollinger:         Bollinger(closes, BollingerPeriod, BollingerWidth),
		BollingerPosition: BollingerPosition(closes, BollingerPeriod, BollingerWidth),
		ATR:               ATR(series, ATRPeriod),
		VolumeRatio:       VolumeRatio(volumes, VolumePeriod),
		Levels:            SupportResistance(series, 3),
		Bars:              len(series),
	}
}
