package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
	"github.com/321barney/ai-trader-ts-sub000/pkg/formulas"
)

// Default periods. These follow the standard parameterization the rest of
// the system assumes; callers that need other windows pass them explicitly.
const (
	RSIPeriod       = 14
	ATRPeriod       = 14
	BollingerPeriod = 20
	BollingerWidth  = 2.0
	VolumePeriod    = 20
	MACDFastPeriod  = 12
	MACDSlowPeriod  = 26
	MACDSignalSpan  = 9
)

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// With fewer than period+1 closes there are not enough deltas to seed the
// averages, so the neutral 50 is returned rather than an error.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	rsi := talib.Rsi(closes, period)

	last := rsi[len(rsi)-1]
	if isNaN(last) {
		return 50
	}
	return last
}

// SMA calculates the simple moving average of the last period values.
// Shorter histories average whatever is available.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period <= 0 || len(values) < period {
		return formulas.Mean(values)
	}

	sma := talib.Sma(values, period)
	return sma[len(sma)-1]
}

// EMA calculates the exponential moving average: seeded with the simple
// average of the first period values, then smoothed forward with
// multiplier 2/(period+1). A history shorter than period degenerates to
// the last available value.
func EMA(values []float64, period int) float64 {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries computes the full EMA series. Entries before the seed index
// repeat the degenerate last-available-value rule so the slice is always
// len(values) long and aligned with the input.
func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}

	out := make([]float64, len(values))

	if period <= 1 {
		copy(out, values)
		return out
	}

	if len(values) < period {
		for i := range values {
			out[i] = values[i]
		}
		return out
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
		out[i] = values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}

	return out
}

// MACDResult holds the MACD line, signal line and histogram
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD calculates MACD(12,26) with a true 9-period EMA signal line. The
// signal is derived from the maintained history of MACD-line values, one per
// bar from the first index where the slow EMA is seeded.
func MACD(closes []float64) MACDResult {
	if len(closes) == 0 {
		return MACDResult{}
	}

	fast := emaSeries(closes, MACDFastPeriod)
	slow := emaSeries(closes, MACDSlowPeriod)

	// MACD-line history starts where the slow EMA is properly seeded; with a
	// short history the degenerate EMA values still yield a usable line.
	start := MACDSlowPeriod - 1
	if start >= len(closes) {
		start = len(closes) - 1
	}

	macdLine := make([]float64, 0, len(closes)-start)
	for i := start; i < len(closes); i++ {
		macdLine = append(macdLine, fast[i]-slow[i])
	}

	macd := macdLine[len(macdLine)-1]
	signal := EMA(macdLine, MACDSignalSpan)

	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}
}

// ATR calculates the Average True Range as the plain mean of the last
// period true-range values, where
//
//	TR = max(high-low, |high-prevClose|, |low-prevClose|)
//
// With fewer bars than period+1 the mean covers the true ranges available;
// a single bar has no true range and yields 0.
func ATR(series marketdata.Series, period int) float64 {
	if period <= 0 || len(series) < 2 {
		return 0
	}

	highs := make([]float64, len(series))
	lows := make([]float64, len(series))
	closes := make([]float64, len(series))
	for i, c := range series {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	// talib.TRange output index 0 has no previous close and is not a true range
	tr := talib.TRange(highs, lows, closes)[1:]

	if len(tr) > period {
		tr = tr[len(tr)-period:]
	}

	return formulas.Mean(tr)
}

// Bands holds Bollinger Band levels
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger calculates Bollinger Bands: middle = SMA(period), upper/lower =
// middle ± width × population standard deviation of the same window. With a
// history shorter than period the bands degrade to the mean of what exists.
func Bollinger(closes []float64, period int, width float64) Bands {
	if len(closes) == 0 {
		return Bands{}
	}

	if period <= 0 || len(closes) < period {
		middle := formulas.Mean(closes)
		dev := formulas.PopStdDev(closes) * width
		return Bands{Upper: middle + dev, Middle: middle, Lower: middle - dev}
	}

	// MAType 0 = SMA
	upper, middle, lower := talib.BBands(closes, period, width, width, 0)

	return Bands{
		Upper:  upper[len(upper)-1],
		Middle: middle[len(middle)-1],
		Lower:  lower[len(lower)-1],
	}
}

// BollingerPosition reports where the last close sits within the bands,
// 0.0 at the lower band and 1.0 at the upper, clamped for closes outside
// the bands. Collapsed bands place the price at the middle.
func BollingerPosition(closes []float64, period int, width float64) float64 {
	if len(closes) == 0 {
		return 0.5
	}

	bands := Bollinger(closes, period, width)
	bandWidth := bands.Upper - bands.Lower
	if bandWidth == 0 {
		return 0.5
	}

	position := (closes[len(closes)-1] - bands.Lower) / bandWidth
	if position < 0 {
		return 0
	}
	if position > 1 {
		return 1
	}
	return position
}

// VolumeRatio compares the last volume against its period average.
// 1.0 is the neutral default when no meaningful average exists.
func VolumeRatio(volumes []float64, period int) float64 {
	if len(volumes) == 0 {
		return 1
	}

	avg := SMA(volumes, period)
	if avg == 0 {
		return 1
	}

	return volumes[len(volumes)-1] / avg
}

// PriceChange returns the fractional change between the last two values.
func PriceChange(values []float64) float64 {
	if len(values) < 2 || values[len(values)-2] == 0 {
		return 0
	}
	prev := values[len(values)-2]
	return (values[len(values)-1] - prev) / prev
}

func isNaN(f float64) bool {
	return f != f
}
