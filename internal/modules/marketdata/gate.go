package marketdata

import (
	"fmt"
	"sort"
	"time"
)

// TemporalGate wraps loaded history and only hands out data at or before a
// requested simulated time. Every read the simulation performs goes through
// this boundary, which is what keeps indicator and strategy code from seeing
// the future: callers can slice history any way they like, but never past t.
//
// A missing bar is reported as (zero, false), not an error. Callers treat it
// as "cannot compute, skip this step".
type TemporalGate struct {
	series map[string]Series
}

// NewTemporalGate builds a gate over per-symbol history. Each series is
// sorted by timestamp on ingestion so lookups can binary search; duplicate
// timestamps within a symbol are rejected.
func NewTemporalGate(history map[string]Series) (*TemporalGate, error) {
	series := make(map[string]Series, len(history))

	for symbol, s := range history {
		sorted := make(Series, len(s))
		copy(sorted, s)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for i := 1; i < len(sorted); i++ {
			if sorted[i].Timestamp.Equal(sorted[i-1].Timestamp) {
				return nil, fmt.Errorf("duplicate timestamp %s for symbol %s",
					sorted[i].Timestamp.Format(time.RFC3339), symbol)
			}
		}

		series[symbol] = sorted
	}

	return &TemporalGate{series: series}, nil
}

// Symbols returns the symbols the gate holds data for.
func (g *TemporalGate) Symbols() []string {
	symbols := make([]string, 0, len(g.series))
	for s := range g.series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// DataAt returns the most recent candle at or before t, or ok=false when the
// symbol is unknown or the earliest bar is still in the future relative to t.
func (g *TemporalGate) DataAt(symbol string, t time.Time) (Candle, bool) {
	s, ok := g.series[symbol]
	if !ok || len(s) == 0 {
		return Candle{}, false
	}

	idx := g.lastIndexAtOrBefore(s, t)
	if idx < 0 {
		return Candle{}, false
	}

	return s[idx], true
}

// HistoryRange returns up to lookback candles with timestamp <= t for a
// symbol, most recent last. Fewer than lookback bars may exist; the caller
// gets whatever causal history is available.
func (g *TemporalGate) HistoryRange(symbol string, t time.Time, lookback int) Series {
	s, ok := g.series[symbol]
	if !ok || len(s) == 0 || lookback <= 0 {
		return nil
	}

	idx := g.lastIndexAtOrBefore(s, t)
	if idx < 0 {
		return nil
	}

	start := idx + 1 - lookback
	if start < 0 {
		start = 0
	}

	window := make(Series, idx+1-start)
	copy(window, s[start:idx+1])
	return window
}

// EarliestAfter returns the first candle strictly after t, used by the
// session driver to find the next tick timestamp that has data.
func (g *TemporalGate) EarliestAfter(symbol string, t time.Time) (Candle, bool) {
	s, ok := g.series[symbol]
	if !ok || len(s) == 0 {
		return Candle{}, false
	}

	idx := sort.Search(len(s), func(i int) bool {
		return s[i].Timestamp.After(t)
	})
	if idx >= len(s) {
		return Candle{}, false
	}

	return s[idx], true
}

// lastIndexAtOrBefore returns the index of the latest bar with
// timestamp <= t, or -1 when all bars are after t.
func (g *TemporalGate) lastIndexAtOrBefore(s Series, t time.Time) int {
	// First index with timestamp > t; the bar before it is the answer.
	idx := sort.Search(len(s), func(i int) bool {
		return s[i].Timestamp.After(t)
	})
	return idx - 1
}
