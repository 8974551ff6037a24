package indicators

import (
	"sort"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
)

// Swing detection parameters: a bar is a swing high/low when it is the
// extreme of a symmetric ±swingWindow bar neighborhood, and detections
// within clusterBand of each other merge into one level.
const (
	swingWindow = 2
	clusterBand = 0.005 // 0.5%
)

// LevelKind distinguishes support from resistance
type LevelKind string

const (
	LevelSupport    LevelKind = "SUPPORT"
	LevelResistance LevelKind = "RESISTANCE"
)

// Level is a clustered price level with a strength equal to the number of
// swing points that fell inside its band.
type Level struct {
	Price    float64   `json:"price"`
	Strength int       `json:"strength"`
	Kind     LevelKind `json:"kind"`
}

// SupportResistance detects swing highs and lows over the series, clusters
// detections within a 0.5% price band, and returns the strongest topN levels
// of each kind, strength descending.
func SupportResistance(series marketdata.Series, topN int) []Level {
	if topN <= 0 || len(series) < 2*swingWindow+1 {
		return nil
	}

	var highs, lows []float64

	for i := swingWindow; i < len(series)-swingWindow; i++ {
		isHigh, isLow := true, true
		for j := i - swingWindow; j <= i+swingWindow; j++ {
			if j == i {
				continue
			}
			if series[j].High > series[i].High {
				isHigh = false
			}
			if series[j].Low < series[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			highs = append(highs, series[i].High)
		}
		if isLow {
			lows = append(lows, series[i].Low)
		}
	}

	levels := clusterLevels(highs, LevelResistance)
	levels = append(levels, clusterLevels(lows, LevelSupport)...)

	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Strength != levels[j].Strength {
			return levels[i].Strength > levels[j].Strength
		}
		return levels[i].Price > levels[j].Price
	})

	if len(levels) > topN {
		levels = levels[:topN]
	}
	return levels
}

// clusterLevels merges swing prices within clusterBand of a cluster's mean.
// Prices are processed in ascending order so each price either extends the
// current cluster or starts a new one.
func clusterLevels(prices []float64, kind LevelKind) []Level {
	if len(prices) == 0 {
		return nil
	}

	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	var levels []Level
	clusterSum := sorted[0]
	clusterCount := 1

	flush := func() {
		levels = append(levels, Level{
			Price:    clusterSum / float64(clusterCount),
			Strength: clusterCount,
			Kind:     kind,
		})
	}

	for _, p := range sorted[1:] {
		mean := clusterSum / float64(clusterCount)
		if mean > 0 && (p-mean)/mean <= clusterBand {
			clusterSum += p
			clusterCount++
			continue
		}
		flush()
		clusterSum = p
		clusterCount = 1
	}
	flush()

	return levels
}
