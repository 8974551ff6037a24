package marketdata

import "time"

// Candle is a single OHLCV market data point. Candles are immutable once
// ingested; per symbol they are ordered by timestamp and timestamps are unique.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered sequence of candles for one symbol, oldest first.
type Series []Candle

// Closes extracts the close prices of the series, oldest first.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Volumes extracts the volumes of the series, oldest first.
func (s Series) Volumes() []float64 {
	volumes := make([]float64, len(s))
	for i, c := range s {
		volumes[i] = c.Volume
	}
	return volumes
}

// Last returns the most recent candle of the series.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}
